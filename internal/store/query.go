package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/pavelanni/remedial/internal/registry"
)

// ErrNotReadOnly reports a statement rejected by the read-only guard.
var ErrNotReadOnly = errors.New("only a single SELECT statement is allowed")

// MaxQueryRows caps the rows returned by QueryReadOnly.
const MaxQueryRows = 200

var (
	leadingKeyword = regexp.MustCompile(`(?i)^\s*(select|with)\b`)
	writeKeyword   = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|attach|detach|pragma|vacuum|grant|revoke|truncate|copy)\b|\breplace\s+into\b`)
)

// CheckReadOnly validates that q is a single SELECT (or WITH ... SELECT) statement.
func CheckReadOnly(q string) (string, error) {
	q = strings.TrimSpace(q)
	q = strings.TrimRight(q, "; \t\n")
	switch {
	case q == "":
		return "", fmt.Errorf("%w: empty query", ErrNotReadOnly)
	case strings.Contains(q, ";"):
		return "", fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
	case !leadingKeyword.MatchString(q):
		return "", ErrNotReadOnly
	case writeKeyword.MatchString(q):
		return "", fmt.Errorf("%w: contains %q", ErrNotReadOnly, writeKeyword.FindString(q))
	}
	return q, nil
}

// QueryReadOnly runs a guarded SELECT and returns up to MaxQueryRows rows as column maps.
// The statement runs inside a read-only transaction that is always rolled back.
func (s *Store) QueryReadOnly(ctx context.Context, q string) ([]map[string]any, error) {
	q, err := CheckReadOnly(q)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		if len(out) == MaxQueryRows {
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[c] = string(b)
			} else {
				rec[c] = vals[i]
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SchemaDescription describes the scores table for the query assistant.
func SchemaDescription(reg *registry.Registry) string {
	var b strings.Builder
	b.WriteString("table: scores\ncolumns:\n")
	b.WriteString("  - name (text): student name\n")
	b.WriteString("  - usn (text): student id, primary key\n")
	b.WriteString("  - email (text): contact address, may be empty or '0'\n")
	for _, q := range reg.Questions() {
		fmt.Fprintf(&b, "  - %s (real, nullable): marks for %q, max %g\n", quoteIdent(q.ID), q.Topic, q.MaxMarks)
	}
	b.WriteString("  - total (real): test total\n")
	return b.String()
}
