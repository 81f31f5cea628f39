package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pavelanni/remedial/internal/grading"
	"github.com/pavelanni/remedial/internal/model"
	"github.com/pavelanni/remedial/internal/registry"
	"github.com/pavelanni/remedial/internal/report"
)

// LoadReport rebuilds the report of the last import. Stored scores are classified
// again against reg, so the report always carries the current catalog's materials.
// Scores for questions reg no longer declares are dropped.
func (s *Store) LoadReport(ctx context.Context, reg *registry.Registry) (model.Report, error) {
	students, err := s.ListStudents(ctx)
	if err != nil {
		return model.Report{}, fmt.Errorf("list students: %w", err)
	}
	stored, err := s.ListAssignments(ctx)
	if err != nil {
		return model.Report{}, fmt.Errorf("list assignments: %w", err)
	}

	scores := make(map[string]map[string]float64, len(stored))
	for _, a := range stored {
		m := make(map[string]float64, len(a.Items))
		for _, it := range a.Items {
			if !reg.Contains(it.QuestionID) {
				slog.Debug("dropping score for undeclared question", "student", a.StudentID, "question", it.QuestionID)
				continue
			}
			m[it.QuestionID] = it.Score
		}
		scores[a.StudentID] = m
	}
	for i := range students {
		students[i].Scores = scores[students[i].StudentID]
	}

	assignments, err := grading.AssignAll(students, reg)
	if err != nil {
		return model.Report{}, fmt.Errorf("reassign materials: %w", err)
	}
	return report.Build(reg, students, assignments), nil
}
