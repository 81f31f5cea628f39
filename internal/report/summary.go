package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pavelanni/remedial/internal/grading"
	"github.com/pavelanni/remedial/internal/model"
	"github.com/pavelanni/remedial/internal/registry"
)

// QuestionSummary aggregates one question across the roster.
type QuestionSummary struct {
	QuestionID string                `json:"question_id"`
	Topic      string                `json:"topic"`
	MaxMarks   float64               `json:"max_marks"`
	Students   int                   `json:"students"`
	Mean       float64               `json:"mean"`
	Buckets    [model.NumBuckets]int `json:"buckets"`
}

// Summarize computes per-question means and bucket counts in registry order.
func Summarize(reg *registry.Registry, students []model.StudentRecord) []QuestionSummary {
	out := make([]QuestionSummary, 0, reg.Len())
	for _, q := range reg.Questions() {
		qs := QuestionSummary{QuestionID: q.ID, Topic: q.Topic, MaxMarks: q.MaxMarks}
		var sum float64
		for _, s := range students {
			score, ok := s.Score(q.ID)
			if !ok {
				continue
			}
			qs.Students++
			sum += score
			qs.Buckets[grading.Classify(score, q.MaxMarks)]++
		}
		if qs.Students > 0 {
			qs.Mean = sum / float64(qs.Students)
		}
		out = append(out, qs)
	}
	return out
}

// WriteSummary prints summaries as an aligned text table.
func WriteSummary(w io.Writer, summaries []QuestionSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprint(tw, "QUESTION\tTOPIC\tMAX\tMEAN")
	for _, b := range model.Buckets {
		fmt.Fprintf(tw, "\t%s", b.Label())
	}
	fmt.Fprintln(tw)
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%g\t%.2f", s.QuestionID, s.Topic, s.MaxMarks, s.Mean)
		for _, n := range s.Buckets {
			fmt.Fprintf(tw, "\t%d", n)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
