// Package registry holds the scoring rules: per-question topic, maximum marks and
// the remediation material catalog, validated once at construction.
package registry

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/pavelanni/remedial/internal/model"
)

var (
	// ErrInvalid reports an inconsistent registry configuration.
	ErrInvalid = errors.New("invalid registry")
	// ErrUnknownQuestion reports a question id outside the registry.
	ErrUnknownQuestion = errors.New("unknown question")
	// ErrMissingMaterial reports a catalog slice without an entry for a bucket.
	ErrMissingMaterial = errors.New("missing material")
)

// Question ids end up as SQL column names, so they are kept to a safe alphabet.
var questionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Registry is an immutable, validated set of question specs in declaration order.
type Registry struct {
	questions []model.QuestionSpec
	index     map[string]int
}

// New validates specs and builds a Registry. All problems are reported together.
func New(specs []model.QuestionSpec) (*Registry, error) {
	var problems []error
	if len(specs) == 0 {
		problems = append(problems, errors.New("no questions declared"))
	}

	questions := make([]model.QuestionSpec, len(specs))
	copy(questions, specs)

	index := make(map[string]int, len(questions))
	for i, q := range questions {
		id := strings.TrimSpace(q.ID)
		switch {
		case id == "":
			problems = append(problems, fmt.Errorf("question #%d: empty id", i+1))
			continue
		case !questionIDPattern.MatchString(id):
			problems = append(problems, fmt.Errorf("question %q: id may only contain letters, digits, '_', '.' and '-'", id))
		}
		if _, dup := index[id]; dup {
			problems = append(problems, fmt.Errorf("question %q: declared more than once", id))
			continue
		}
		index[id] = i
		questions[i].ID = id

		if strings.TrimSpace(q.Topic) == "" {
			problems = append(problems, fmt.Errorf("question %q: empty topic", id))
		}
		if math.IsNaN(q.MaxMarks) || q.MaxMarks < 0 {
			problems = append(problems, fmt.Errorf("question %q: max marks must be non-negative, got %v", id, q.MaxMarks))
		}
		for _, b := range model.Buckets {
			if strings.TrimSpace(q.Materials[b]) == "" {
				problems = append(problems, fmt.Errorf("question %q: no material for bucket %s", id, b))
			}
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(problems...))
	}

	return &Registry{questions: questions, index: index}, nil
}

// Len returns the number of declared questions.
func (r *Registry) Len() int { return len(r.questions) }

// IDs returns question ids in declaration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.questions))
	for i, q := range r.questions {
		ids[i] = q.ID
	}
	return ids
}

// Questions returns a copy of the declared specs in declaration order.
func (r *Registry) Questions() []model.QuestionSpec {
	out := make([]model.QuestionSpec, len(r.questions))
	copy(out, r.questions)
	return out
}

// Contains reports whether id is declared.
func (r *Registry) Contains(id string) bool {
	_, ok := r.index[id]
	return ok
}

// Question returns the spec for id.
func (r *Registry) Question(id string) (model.QuestionSpec, error) {
	i, ok := r.index[id]
	if !ok {
		return model.QuestionSpec{}, fmt.Errorf("%w: %q", ErrUnknownQuestion, id)
	}
	return r.questions[i], nil
}

// MaxMarks returns the maximum achievable marks for id.
func (r *Registry) MaxMarks(id string) (float64, error) {
	q, err := r.Question(id)
	if err != nil {
		return 0, err
	}
	return q.MaxMarks, nil
}

// Topic returns the topic label for id.
func (r *Registry) Topic(id string) (string, error) {
	q, err := r.Question(id)
	if err != nil {
		return "", err
	}
	return q.Topic, nil
}

// Material returns the remediation resource for (id, bucket).
func (r *Registry) Material(id string, b model.Bucket) (string, error) {
	q, err := r.Question(id)
	if err != nil {
		return "", err
	}
	if !b.Valid() || q.Materials[b] == "" {
		return "", fmt.Errorf("%w: question %q bucket %s", ErrMissingMaterial, id, b)
	}
	return q.Materials[b], nil
}
