// Package registrytest provides registries for tests.
package registrytest

import (
	"testing"

	"github.com/pavelanni/remedial/internal/model"
	"github.com/pavelanni/remedial/internal/registry"
)

// Course mirrors the automata theory test: question id, topic and max marks.
var Course = []struct {
	ID       string
	Topic    string
	MaxMarks float64
}{
	{"T1a", "Regular Expression", 6},
	{"T1b", "Epsilon NFA", 4},
	{"T2", "Epsilon NFA and DFA equivalence", 10},
	{"T3a", "Regular Expressions", 4},
	{"T3b", "DFA Minimization", 6},
	{"T4a", "Combining DFAs", 6},
	{"T4b", "Decision Algorithms", 4},
	{"T5a", "Pumping Lemma", 6},
	{"T5b", "Epsilon DFA construction", 4},
}

// URL returns the material URL the sample registry uses for (id, bucket).
func URL(id string, b model.Bucket) string {
	return "https://materials.example.edu/" + id + "/" + b.String()
}

// Specs returns the course question specs with deterministic material URLs.
func Specs() []model.QuestionSpec {
	specs := make([]model.QuestionSpec, 0, len(Course))
	for _, c := range Course {
		s := model.QuestionSpec{ID: c.ID, Topic: c.Topic, MaxMarks: c.MaxMarks}
		for _, b := range model.Buckets {
			s.Materials[b] = URL(c.ID, b)
		}
		specs = append(specs, s)
	}
	return specs
}

// Sample builds the course registry or fails the test.
func Sample(t testing.TB) *registry.Registry {
	t.Helper()
	reg, err := registry.New(Specs())
	if err != nil {
		t.Fatalf("registrytest.Sample: %v", err)
	}
	return reg
}

// Small builds a registry with the given question ids, each worth maxMarks.
func Small(t testing.TB, maxMarks float64, ids ...string) *registry.Registry {
	t.Helper()
	specs := make([]model.QuestionSpec, 0, len(ids))
	for _, id := range ids {
		s := model.QuestionSpec{ID: id, Topic: "Topic " + id, MaxMarks: maxMarks}
		for _, b := range model.Buckets {
			s.Materials[b] = URL(id, b)
		}
		specs = append(specs, s)
	}
	reg, err := registry.New(specs)
	if err != nil {
		t.Fatalf("registrytest.Small: %v", err)
	}
	return reg
}
