// Package report pivots per-student material assignments into one row per student.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pavelanni/remedial/internal/model"
	"github.com/pavelanni/remedial/internal/registry"
)

// Build produces one row per student, in roster order, with one column per
// registry question in declaration order. Questions without an assignment get "".
func Build(reg *registry.Registry, students []model.StudentRecord, assignments []model.Assignment) model.Report {
	byStudent := make(map[string]model.Assignment, len(assignments))
	for _, a := range assignments {
		byStudent[a.StudentID] = a
	}

	columns := reg.IDs()
	rep := model.Report{Columns: columns, Rows: make([]model.ReportRow, 0, len(students))}
	for _, s := range students {
		a := byStudent[s.StudentID]
		row := model.ReportRow{
			Name:      s.Name,
			StudentID: s.StudentID,
			Contact:   s.Contact,
			Resources: make([]string, len(columns)),
		}
		for i, id := range columns {
			row.Resources[i] = a.Resource(id)
		}
		rep.Rows = append(rep.Rows, row)
	}
	return rep
}

// Filter keeps only the rows whose student id is in ids. An empty ids keeps every row.
func Filter(rep model.Report, ids []string) model.Report {
	if len(ids) == 0 {
		return rep
	}
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	out := model.Report{Columns: rep.Columns}
	for _, row := range rep.Rows {
		if keep[row.StudentID] {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// Export converts a report into its JSON snapshot form.
func Export(reg *registry.Registry, rep model.Report, rosterPath, registryPath string) model.ReportExport {
	exp := model.ReportExport{
		GeneratedAt:  time.Now().UTC(),
		RosterPath:   rosterPath,
		RegistryPath: registryPath,
		Students:     make([]model.StudentEntry, 0, len(rep.Rows)),
	}
	for _, q := range reg.Questions() {
		exp.Questions = append(exp.Questions, model.QuestionEntry{ID: q.ID, Topic: q.Topic, MaxMarks: q.MaxMarks})
	}
	for _, row := range rep.Rows {
		entry := model.StudentEntry{
			Name:      row.Name,
			StudentID: row.StudentID,
			Contact:   row.Contact,
			Materials: make(map[string]string, len(row.Resources)),
		}
		for i, res := range row.Resources {
			if res != "" {
				entry.Materials[rep.Columns[i]] = res
			}
		}
		exp.Students = append(exp.Students, entry)
	}
	return exp
}

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, err = fmt.Fprintln(w)
	return err
}
