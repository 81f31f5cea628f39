package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/remedial/internal/grading"
	"github.com/pavelanni/remedial/internal/model"
	"github.com/pavelanni/remedial/internal/registry"
	"github.com/pavelanni/remedial/internal/registry/registrytest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRoster() []model.StudentRecord {
	return []model.StudentRecord{
		{Name: "Asha", StudentID: "1RV01", Contact: "asha@example.edu", Scores: map[string]float64{"T1a": 6, "T1b": 1}, Total: 7},
		{Name: "Bharath", StudentID: "1RV02", Contact: "0", Scores: map[string]float64{"T1a": 2}, Total: 2},
		{Name: "Chitra", StudentID: "1RV03", Scores: map[string]float64{"T1a": 3, "T1b": 4}, Total: 7},
	}
}

func TestParseDriver(t *testing.T) {
	tests := []struct {
		in      string
		want    Driver
		wantErr bool
	}{
		{"", DriverSQLite, false},
		{"SQLite", DriverSQLite, false},
		{"pgx", DriverPostgres, false},
		{"postgresql", DriverPostgres, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDriver(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDriver(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseDriver(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRebind(t *testing.T) {
	s := &Store{driver: DriverPostgres}
	got := s.rebind(`INSERT INTO t (a, b) VALUES (?, ?)`)
	if got != `INSERT INTO t (a, b) VALUES ($1, $2)` {
		t.Errorf("rebind = %q", got)
	}
	s.driver = DriverSQLite
	if got := s.rebind(`SELECT ?`); got != `SELECT ?` {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestReplaceScoresAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := registrytest.Small(t, 6, "T1a", "T1b")

	if err := s.ReplaceScores(ctx, reg, testRoster()); err != nil {
		t.Fatalf("ReplaceScores: %v", err)
	}

	rows, err := s.QueryReadOnly(ctx, `SELECT usn, "T1a", "T1b" FROM scores ORDER BY usn`)
	if err != nil {
		t.Fatalf("QueryReadOnly: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0]["usn"] != "1RV01" {
		t.Errorf("first usn = %v", rows[0]["usn"])
	}
	if rows[1]["T1b"] != nil {
		t.Errorf("missing score should be NULL, got %v", rows[1]["T1b"])
	}

	// Re-import replaces rather than appends.
	if err := s.ReplaceScores(ctx, reg, testRoster()[:1]); err != nil {
		t.Fatalf("ReplaceScores again: %v", err)
	}
	rows, err = s.QueryReadOnly(ctx, `SELECT COUNT(*) AS n FROM scores`)
	if err != nil {
		t.Fatalf("QueryReadOnly: %v", err)
	}
	if rows[0]["n"] != int64(1) {
		t.Errorf("expected 1 row after replace, got %v", rows[0]["n"])
	}
}

func TestQueryReadOnlyAllowsReplaceFunction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := registrytest.Small(t, 6, "T1a", "T1b")
	if err := s.ReplaceScores(ctx, reg, testRoster()); err != nil {
		t.Fatalf("ReplaceScores: %v", err)
	}

	rows, err := s.QueryReadOnly(ctx, `SELECT replace(usn, '1RV', 'X') AS id FROM scores ORDER BY usn LIMIT 1`)
	if err != nil {
		t.Fatalf("QueryReadOnly: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != "X01" {
		t.Errorf("rows = %v", rows)
	}
}

func TestReplaceScoresRejectsReservedColumn(t *testing.T) {
	s := newTestStore(t)
	reg := registrytest.Small(t, 6, "total")
	if err := s.ReplaceScores(context.Background(), reg, nil); err == nil {
		t.Fatal("expected error for question id colliding with a fixed column")
	}
}

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		name string
		q    string
		ok   bool
	}{
		{"select", "SELECT * FROM scores", true},
		{"select trailing semicolon", "select name from scores;", true},
		{"cte", "WITH top AS (SELECT * FROM scores) SELECT * FROM top", true},
		{"empty", "  ", false},
		{"delete", "DELETE FROM scores", false},
		{"stacked", "SELECT 1; DROP TABLE scores", false},
		{"update in cte", "WITH x AS (UPDATE scores SET total = 0 RETURNING *) SELECT * FROM x", false},
		{"pragma", "PRAGMA table_info(scores)", false},
		{"replace function", "SELECT replace(name, ' ', '_') FROM scores", true},
		{"replace into in cte", "WITH x AS (SELECT 1) REPLACE INTO scores (usn) SELECT * FROM x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CheckReadOnly(tt.q)
			if tt.ok && err != nil {
				t.Errorf("CheckReadOnly(%q) = %v", tt.q, err)
			}
			if !tt.ok && !errors.Is(err, ErrNotReadOnly) {
				t.Errorf("CheckReadOnly(%q) = %v, want ErrNotReadOnly", tt.q, err)
			}
		})
	}
}

func TestQueryReadOnlyRejectsWrites(t *testing.T) {
	s := newTestStore(t)
	_, err := s.QueryReadOnly(context.Background(), "DELETE FROM students")
	if !errors.Is(err, ErrNotReadOnly) {
		t.Fatalf("expected ErrNotReadOnly, got %v", err)
	}
}

func TestAssignmentsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := registrytest.Small(t, 6, "T1a", "T1b")
	students := testRoster()
	assignments, err := grading.AssignAll(students, reg)
	if err != nil {
		t.Fatalf("AssignAll: %v", err)
	}

	if err := s.ReplaceAssignments(ctx, students, assignments); err != nil {
		t.Fatalf("ReplaceAssignments: %v", err)
	}

	got, err := s.ListAssignments(ctx)
	if err != nil {
		t.Fatalf("ListAssignments: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(got))
	}
	for i := range assignments {
		if got[i].StudentID != assignments[i].StudentID {
			t.Errorf("assignment %d: student %q, want %q", i, got[i].StudentID, assignments[i].StudentID)
		}
		if len(got[i].Items) != len(assignments[i].Items) {
			t.Fatalf("assignment %d: %d items, want %d", i, len(got[i].Items), len(assignments[i].Items))
		}
		for j := range got[i].Items {
			if got[i].Items[j] != assignments[i].Items[j] {
				t.Errorf("item %d/%d = %+v, want %+v", i, j, got[i].Items[j], assignments[i].Items[j])
			}
		}
	}

	rep, err := s.LoadReport(ctx, reg)
	if err != nil {
		t.Fatalf("LoadReport: %v", err)
	}
	if len(rep.Rows) != 3 {
		t.Fatalf("expected 3 report rows, got %d", len(rep.Rows))
	}
	if rep.Rows[0].Resources[0] != registrytest.URL("T1a", model.BucketHigh) {
		t.Errorf("Asha T1a resource = %q", rep.Rows[0].Resources[0])
	}
	if rep.Rows[1].Contact != "0" || rep.Rows[1].Resources[1] != "" {
		t.Errorf("Bharath row = %+v", rep.Rows[1])
	}
}

func TestLoadReportUsesCurrentRegistry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := registrytest.Small(t, 6, "T1a", "T1b")
	students := testRoster()
	assignments, err := grading.AssignAll(students, old)
	if err != nil {
		t.Fatalf("AssignAll: %v", err)
	}
	if err := s.ReplaceAssignments(ctx, students, assignments); err != nil {
		t.Fatalf("ReplaceAssignments: %v", err)
	}

	// T1a is now out of 12 with new materials; T1b is gone.
	spec := model.QuestionSpec{ID: "T1a", Topic: "Regular Expression", MaxMarks: 12}
	for _, b := range model.Buckets {
		spec.Materials[b] = "https://new.example/T1a/" + b.String()
	}
	current, err := registry.New([]model.QuestionSpec{spec})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	rep, err := s.LoadReport(ctx, current)
	if err != nil {
		t.Fatalf("LoadReport: %v", err)
	}
	if len(rep.Columns) != 1 || rep.Columns[0] != "T1a" {
		t.Fatalf("columns = %v", rep.Columns)
	}
	want := []string{
		"https://new.example/T1a/" + model.BucketMidHigh.String(),
		"https://new.example/T1a/" + model.BucketLow.String(),
		"https://new.example/T1a/" + model.BucketMidLow.String(),
	}
	for i, row := range rep.Rows {
		if len(row.Resources) != 1 || row.Resources[0] != want[i] {
			t.Errorf("row %d resources = %v, want [%s]", i, row.Resources, want[i])
		}
	}
}

func TestDispatchRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Empty store.
	run, err := s.GetDispatchRun(ctx, "missing")
	if err != nil {
		t.Fatalf("GetDispatchRun: %v", err)
	}
	if run != nil {
		t.Fatalf("expected nil run, got %+v", run)
	}

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	first := model.DispatchRun{
		ID: "run-1", Channel: "console", StartedAt: base, FinishedAt: base.Add(time.Second),
		Outcomes: []model.Outcome{
			{StudentID: "1RV01", Name: "Asha", Address: "asha@example.edu", Status: model.OutcomeSent},
			{StudentID: "1RV02", Name: "Bharath", Status: model.OutcomeSkippedNoAddress},
			{StudentID: "1RV03", Name: "Chitra", Address: "c@example.edu", Status: model.OutcomeFailed, Reason: "timeout"},
		},
	}
	second := model.DispatchRun{ID: "run-2", Channel: "smtp", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour)}

	for _, r := range []model.DispatchRun{first, second} {
		if err := s.SaveDispatchRun(ctx, r); err != nil {
			t.Fatalf("SaveDispatchRun(%s): %v", r.ID, err)
		}
	}

	got, err := s.GetDispatchRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetDispatchRun: %v", err)
	}
	if !got.StartedAt.Equal(first.StartedAt) || !got.FinishedAt.Equal(first.FinishedAt) {
		t.Errorf("times = %v/%v", got.StartedAt, got.FinishedAt)
	}
	if len(got.Outcomes) != 3 || got.Outcomes[2] != first.Outcomes[2] {
		t.Errorf("outcomes = %+v", got.Outcomes)
	}

	runs, err := s.ListDispatchRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListDispatchRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" || runs[1].ID != "run-1" {
		t.Fatalf("runs order = %+v", runs)
	}
	if len(runs[1].Outcomes) != 3 {
		t.Errorf("expected outcomes on listed run, got %d", len(runs[1].Outcomes))
	}
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Missing key returns empty string, no error.
	v, err := s.GetMetadata(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if v != "" {
		t.Errorf("expected empty, got %q", v)
	}

	if err := s.SetMetadata(ctx, "k", "v1"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if err := s.SetMetadata(ctx, "k", "v2"); err != nil {
		t.Fatalf("SetMetadata upsert: %v", err)
	}
	if v, _ := s.GetMetadata(ctx, "k"); v != "v2" {
		t.Errorf("expected v2, got %q", v)
	}
}

func TestImportInfoRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.GetImportInfo(ctx)
	if err != nil {
		t.Fatalf("GetImportInfo: %v", err)
	}
	if empty.RosterSHA256 != "" || !empty.ImportedAt.IsZero() {
		t.Errorf("expected zero info, got %+v", empty)
	}

	info := ImportInfo{
		RosterPath:     "scores.xlsx",
		RosterSHA256:   "abc123",
		RegistryPath:   "registry.json",
		RegistrySHA256: "def456",
		Students:       62,
		ImportedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := s.SetImportInfo(ctx, info); err != nil {
		t.Fatalf("SetImportInfo: %v", err)
	}
	got, err := s.GetImportInfo(ctx)
	if err != nil {
		t.Fatalf("GetImportInfo: %v", err)
	}
	if !got.ImportedAt.Equal(info.ImportedAt) {
		t.Errorf("ImportedAt = %v, want %v", got.ImportedAt, info.ImportedAt)
	}
	got.ImportedAt = info.ImportedAt
	if got != info {
		t.Errorf("GetImportInfo = %+v, want %+v", got, info)
	}
}

func TestSchemaDescription(t *testing.T) {
	reg := registrytest.Small(t, 6, "T1a")
	got := SchemaDescription(reg)
	for _, want := range []string{"table: scores", `"T1a" (real, nullable)`, "usn (text)"} {
		if !strings.Contains(got, want) {
			t.Errorf("schema description missing %q:\n%s", want, got)
		}
	}
}
