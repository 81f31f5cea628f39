package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"
)

// ImportInfo describes the last roster import.
type ImportInfo struct {
	RosterPath     string
	RosterSHA256   string
	RegistryPath   string
	RegistrySHA256 string
	Students       int
	ImportedAt     time.Time
}

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`),
		key, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM metadata WHERE key = ?`), key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetImportInfo stores all ImportInfo fields as metadata rows.
func (s *Store) SetImportInfo(ctx context.Context, info ImportInfo) error {
	pairs := []struct{ k, v string }{
		{"roster_path", info.RosterPath},
		{"roster_sha256", info.RosterSHA256},
		{"registry_path", info.RegistryPath},
		{"registry_sha256", info.RegistrySHA256},
		{"students", strconv.Itoa(info.Students)},
		{"imported_at", info.ImportedAt.UTC().Format(time.RFC3339)},
	}
	for _, p := range pairs {
		if err := s.SetMetadata(ctx, p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// GetImportInfo reads all ImportInfo fields from metadata.
// A store that never imported a roster returns the zero value.
func (s *Store) GetImportInfo(ctx context.Context) (ImportInfo, error) {
	var info ImportInfo
	var err error

	if info.RosterPath, err = s.GetMetadata(ctx, "roster_path"); err != nil {
		return info, err
	}
	if info.RosterSHA256, err = s.GetMetadata(ctx, "roster_sha256"); err != nil {
		return info, err
	}
	if info.RegistryPath, err = s.GetMetadata(ctx, "registry_path"); err != nil {
		return info, err
	}
	if info.RegistrySHA256, err = s.GetMetadata(ctx, "registry_sha256"); err != nil {
		return info, err
	}
	n, err := s.GetMetadata(ctx, "students")
	if err != nil {
		return info, err
	}
	if n != "" {
		if info.Students, err = strconv.Atoi(n); err != nil {
			return info, err
		}
	}
	at, err := s.GetMetadata(ctx, "imported_at")
	if err != nil {
		return info, err
	}
	if at != "" {
		if info.ImportedAt, err = time.Parse(time.RFC3339, at); err != nil {
			return info, err
		}
	}
	return info, nil
}
