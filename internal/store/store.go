// Package store persists rosters, material assignments and dispatch runs in SQLite or
// PostgreSQL, and exposes a guarded read-only query path for the score assistant.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite

	"github.com/pavelanni/remedial/internal/model"
	"github.com/pavelanni/remedial/internal/registry"
)

// Driver selects the database backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ParseDriver accepts sqlite, postgres or pgx.
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", s)
	}
}

type Store struct {
	db     *sql.DB
	driver Driver
}

// New opens the database and ensures the static schema exists.
func New(driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		if dsn == "" {
			dsn = "remedial.db"
		}
		if dsn != ":memory:" && !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/remedial?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection keeps :memory: databases shared and serializes writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the backend in use.
func (s *Store) Driver() Driver { return s.driver }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS students (
			student_id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			contact TEXT NOT NULL DEFAULT '',
			total REAL NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS assignments (
			student_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			question_id TEXT NOT NULL,
			score REAL NOT NULL,
			bucket TEXT NOT NULL,
			resource TEXT NOT NULL,
			PRIMARY KEY (student_id, question_id)
		)`,
		`CREATE TABLE IF NOT EXISTS dispatch_runs (
			id TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			started_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dispatch_outcomes (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			student_id TEXT NOT NULL,
			name TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, seq)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var reservedScoreColumns = map[string]bool{"name": true, "usn": true, "email": true, "total": true}

// ReplaceScores recreates the scores table with one REAL column per registry question
// and loads the roster into it. Missing scores are stored as NULL.
func (s *Store) ReplaceScores(ctx context.Context, reg *registry.Registry, students []model.StudentRecord) error {
	ids := reg.IDs()
	cols := []string{"name TEXT NOT NULL", "usn TEXT PRIMARY KEY", "email TEXT NOT NULL DEFAULT ''"}
	names := []string{"name", "usn", "email"}
	for _, id := range ids {
		if reservedScoreColumns[strings.ToLower(id)] {
			return fmt.Errorf("question id %q collides with a scores column", id)
		}
		cols = append(cols, quoteIdent(id)+" REAL")
		names = append(names, quoteIdent(id))
	}
	cols = append(cols, "total REAL NOT NULL DEFAULT 0")
	names = append(names, "total")

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	insert := s.rebind(fmt.Sprintf("INSERT INTO scores (%s) VALUES (%s)", strings.Join(names, ", "), placeholders))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS scores`); err != nil {
		return fmt.Errorf("drop scores: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE scores (%s)", strings.Join(cols, ", "))); err != nil {
		return fmt.Errorf("create scores: %w", err)
	}
	for _, st := range students {
		args := []any{st.Name, st.StudentID, st.Contact}
		for _, id := range ids {
			if v, ok := st.Score(id); ok {
				args = append(args, v)
			} else {
				args = append(args, nil)
			}
		}
		args = append(args, st.Total)
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			return fmt.Errorf("insert scores for %s: %w", st.StudentID, err)
		}
	}
	return tx.Commit()
}

// ReplaceAssignments stores the roster identities and their resolved materials,
// replacing any previous import.
func (s *Store) ReplaceAssignments(ctx context.Context, students []model.StudentRecord, assignments []model.Assignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM assignments`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM students`); err != nil {
		return err
	}

	insStudent := s.rebind(`INSERT INTO students (student_id, position, name, contact, total) VALUES (?, ?, ?, ?, ?)`)
	for i, st := range students {
		if _, err := tx.ExecContext(ctx, insStudent, st.StudentID, i, st.Name, st.Contact, st.Total); err != nil {
			return fmt.Errorf("insert student %s: %w", st.StudentID, err)
		}
	}

	insItem := s.rebind(`INSERT INTO assignments (student_id, position, question_id, score, bucket, resource) VALUES (?, ?, ?, ?, ?, ?)`)
	for _, a := range assignments {
		for j, it := range a.Items {
			if _, err := tx.ExecContext(ctx, insItem, a.StudentID, j, it.QuestionID, it.Score, it.Bucket.String(), it.Resource); err != nil {
				return fmt.Errorf("insert assignment %s/%s: %w", a.StudentID, it.QuestionID, err)
			}
		}
	}
	return tx.Commit()
}

// ListAssignments returns stored assignments in roster order.
func (s *Store) ListAssignments(ctx context.Context) ([]model.Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.student_id, a.question_id, a.score, a.bucket, a.resource
		 FROM assignments a JOIN students st ON st.student_id = a.student_id
		 ORDER BY st.position, a.position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Assignment
	for rows.Next() {
		var studentID, bucket string
		var it model.AssignmentItem
		if err := rows.Scan(&studentID, &it.QuestionID, &it.Score, &bucket, &it.Resource); err != nil {
			return nil, err
		}
		b, err := model.ParseBucket(bucket)
		if err != nil {
			return nil, err
		}
		it.Bucket = b
		if n := len(out); n == 0 || out[n-1].StudentID != studentID {
			out = append(out, model.Assignment{StudentID: studentID})
		}
		out[len(out)-1].Items = append(out[len(out)-1].Items, it)
	}
	return out, rows.Err()
}

// ListStudents returns stored roster identities in roster order. Scores are not populated.
func (s *Store) ListStudents(ctx context.Context) ([]model.StudentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT student_id, name, contact, total FROM students ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.StudentRecord
	for rows.Next() {
		var st model.StudentRecord
		if err := rows.Scan(&st.StudentID, &st.Name, &st.Contact, &st.Total); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SaveDispatchRun stores a run and its outcomes.
func (s *Store) SaveDispatchRun(ctx context.Context, run model.DispatchRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO dispatch_runs (id, channel, started_at, finished_at) VALUES (?, ?, ?, ?)`),
		run.ID, run.Channel, run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	ins := s.rebind(`INSERT INTO dispatch_outcomes (run_id, seq, student_id, name, address, status, reason) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	for i, o := range run.Outcomes {
		if _, err := tx.ExecContext(ctx, ins, run.ID, i, o.StudentID, o.Name, o.Address, string(o.Status), o.Reason); err != nil {
			return fmt.Errorf("insert outcome %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// GetDispatchRun returns the run with id, or nil if it does not exist.
func (s *Store) GetDispatchRun(ctx context.Context, id string) (*model.DispatchRun, error) {
	var run model.DispatchRun
	var started, finished int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, channel, started_at, finished_at FROM dispatch_runs WHERE id = ?`), id,
	).Scan(&run.ID, &run.Channel, &started, &finished)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.StartedAt = time.Unix(0, started).UTC()
	run.FinishedAt = time.Unix(0, finished).UTC()
	if run.Outcomes, err = s.outcomes(ctx, id); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListDispatchRuns returns up to limit runs, newest first, with their outcomes.
func (s *Store) ListDispatchRuns(ctx context.Context, limit int) ([]model.DispatchRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, channel, started_at, finished_at FROM dispatch_runs ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	var runs []model.DispatchRun
	for rows.Next() {
		var run model.DispatchRun
		var started, finished int64
		if err := rows.Scan(&run.ID, &run.Channel, &started, &finished); err != nil {
			rows.Close()
			return nil, err
		}
		run.StartedAt = time.Unix(0, started).UTC()
		run.FinishedAt = time.Unix(0, finished).UTC()
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range runs {
		if runs[i].Outcomes, err = s.outcomes(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Store) outcomes(ctx context.Context, runID string) ([]model.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT student_id, name, address, status, reason FROM dispatch_outcomes WHERE run_id = ? ORDER BY seq`), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Outcome
	for rows.Next() {
		var o model.Outcome
		var status string
		if err := rows.Scan(&o.StudentID, &o.Name, &o.Address, &status, &o.Reason); err != nil {
			return nil, err
		}
		o.Status = model.OutcomeStatus(status)
		out = append(out, o)
	}
	return out, rows.Err()
}
