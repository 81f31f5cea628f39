package grading

import (
	"fmt"

	"github.com/pavelanni/remedial/internal/model"
	"github.com/pavelanni/remedial/internal/registry"
)

// Assign resolves one resource per scored question for a student.
//
// Questions are visited in registry order; scored ids outside the registry fail
// with registry.ErrUnknownQuestion.
func Assign(student model.StudentRecord, reg *registry.Registry) (model.Assignment, error) {
	for id := range student.Scores {
		if !reg.Contains(id) {
			return model.Assignment{}, fmt.Errorf("student %s: %w: %q", student.StudentID, registry.ErrUnknownQuestion, id)
		}
	}

	a := model.Assignment{StudentID: student.StudentID}
	for _, q := range reg.Questions() {
		score, ok := student.Score(q.ID)
		if !ok {
			continue
		}
		bucket := Classify(score, q.MaxMarks)
		resource, err := reg.Material(q.ID, bucket)
		if err != nil {
			return model.Assignment{}, fmt.Errorf("student %s: %w", student.StudentID, err)
		}
		a.Items = append(a.Items, model.AssignmentItem{
			QuestionID: q.ID,
			Score:      score,
			Bucket:     bucket,
			Resource:   resource,
		})
	}
	return a, nil
}

// AssignAll assigns materials for every student in order.
// The first per-student error aborts the whole run.
func AssignAll(students []model.StudentRecord, reg *registry.Registry) ([]model.Assignment, error) {
	out := make([]model.Assignment, 0, len(students))
	for _, s := range students {
		a, err := Assign(s, reg)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
