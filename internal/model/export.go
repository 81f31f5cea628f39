package model

import "time"

// ReportExport is the top-level JSON structure for a report snapshot.
type ReportExport struct {
	GeneratedAt  time.Time       `json:"generated_at"`
	RosterPath   string          `json:"roster_path,omitempty"`
	RegistryPath string          `json:"registry_path,omitempty"`
	Questions    []QuestionEntry `json:"questions"`
	Students     []StudentEntry  `json:"students"`
}

// QuestionEntry describes one report column.
type QuestionEntry struct {
	ID       string  `json:"id"`
	Topic    string  `json:"topic"`
	MaxMarks float64 `json:"max_marks"`
}

// StudentEntry is one exported student row.
// Materials maps question id to resource and omits questions without a score.
type StudentEntry struct {
	Name      string            `json:"name"`
	StudentID string            `json:"student_id"`
	Contact   string            `json:"contact,omitempty"`
	Materials map[string]string `json:"materials"`
}

// DispatchRun is a persisted summary of one dispatch invocation.
type DispatchRun struct {
	ID         string    `json:"id"`
	Channel    string    `json:"channel"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Counts tallies outcomes by status.
func (r DispatchRun) Counts() map[OutcomeStatus]int {
	counts := make(map[OutcomeStatus]int, 3)
	for _, o := range r.Outcomes {
		counts[o.Status]++
	}
	return counts
}
