package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/remedial/internal/model"
)

func spec(id, topic string, max float64) model.QuestionSpec {
	return model.QuestionSpec{
		ID:       id,
		Topic:    topic,
		MaxMarks: max,
		Materials: [model.NumBuckets]string{
			"https://example.org/" + id + "/low",
			"https://example.org/" + id + "/mid-low",
			"https://example.org/" + id + "/mid-high",
			"https://example.org/" + id + "/high",
		},
	}
}

func TestNewKeepsDeclarationOrder(t *testing.T) {
	reg, err := New([]model.QuestionSpec{
		spec("T2", "Epsilon NFA and DFA equivalence", 10),
		spec("T1a", "Regular Expression", 6),
		spec("T1b", "Epsilon NFA", 4),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"T2", "T1a", "T1b"}, reg.IDs())
	assert.Equal(t, 3, reg.Len())

	max, err := reg.MaxMarks("T1a")
	require.NoError(t, err)
	assert.Equal(t, 6.0, max)

	topic, err := reg.Topic("T1b")
	require.NoError(t, err)
	assert.Equal(t, "Epsilon NFA", topic)

	uri, err := reg.Material("T2", model.BucketMidHigh)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/T2/mid-high", uri)
}

func TestLookupUnknownQuestion(t *testing.T) {
	reg, err := New([]model.QuestionSpec{spec("T1a", "Regular Expression", 6)})
	require.NoError(t, err)

	_, err = reg.MaxMarks("T9")
	assert.ErrorIs(t, err, ErrUnknownQuestion)
	_, err = reg.Topic("T9")
	assert.ErrorIs(t, err, ErrUnknownQuestion)
	_, err = reg.Material("T9", model.BucketLow)
	assert.ErrorIs(t, err, ErrUnknownQuestion)
	assert.False(t, reg.Contains("T9"))
}

func TestMaterialInvalidBucket(t *testing.T) {
	reg, err := New([]model.QuestionSpec{spec("T1a", "Regular Expression", 6)})
	require.NoError(t, err)

	_, err = reg.Material("T1a", model.Bucket(7))
	assert.ErrorIs(t, err, ErrMissingMaterial)
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	missingBucket := spec("T1a", "Regular Expression", 6)
	missingBucket.Materials[model.BucketMidLow] = ""

	tests := []struct {
		name  string
		specs []model.QuestionSpec
	}{
		{"empty", nil},
		{"missing bucket", []model.QuestionSpec{missingBucket}},
		{"negative max", []model.QuestionSpec{spec("T1a", "Regular Expression", -1)}},
		{"duplicate id", []model.QuestionSpec{spec("T1a", "A", 6), spec("T1a", "B", 4)}},
		{"empty id", []model.QuestionSpec{spec(" ", "A", 6)}},
		{"unsafe id", []model.QuestionSpec{spec(`T1"; DROP`, "A", 6)}},
		{"empty topic", []model.QuestionSpec{spec("T1a", "", 6)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.specs)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestNewAllowsZeroMaxMarks(t *testing.T) {
	_, err := New([]model.QuestionSpec{spec("bonus", "Bonus", 0)})
	assert.NoError(t, err)
}

const validJSON = `{
  "questions": [
    {"id": "T1a", "topic": "Regular Expression", "max_marks": 6,
     "materials": {"low": "https://x/1", "mid_low": "https://x/2", "mid_high": "https://x/3", "high": "https://x/4"}},
    {"id": "T1b", "topic": "Epsilon NFA", "max_marks": 4,
     "materials": {"low": "https://y/1", "mid_low": "https://y/2", "mid_high": "https://y/3", "high": "https://y/4"}}
  ]
}`

const validYAML = `
questions:
  - id: T1a
    topic: Regular Expression
    max_marks: 6
    materials:
      low: https://x/1
      mid_low: https://x/2
      mid_high: https://x/3
      high: https://x/4
  - id: T1b
    topic: Epsilon NFA
    max_marks: 4
    materials:
      low: https://y/1
      mid_low: https://y/2
      mid_high: https://y/3
      high: https://y/4
`

func TestParseJSONAndYAMLAgree(t *testing.T) {
	fromJSON, err := Parse([]byte(validJSON), FormatJSON)
	require.NoError(t, err)
	fromYAML, err := Parse([]byte(validYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, fromJSON.Questions(), fromYAML.Questions())
	uri, err := fromYAML.Material("T1b", model.BucketHigh)
	require.NoError(t, err)
	assert.Equal(t, "https://y/4", uri)
}

func TestParseRejectsMissingBucketEntry(t *testing.T) {
	doc := `{"questions": [{"id": "T1a", "topic": "Regular Expression", "max_marks": 6,
	  "materials": {"low": "https://x/1", "mid_low": "https://x/2", "high": "https://x/4"}}]}`
	_, err := Parse([]byte(doc), FormatJSON)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"no questions", `{"questions": []}`},
		{"unknown bucket", `{"questions": [{"id": "T1a", "topic": "t", "max_marks": 6,
		  "materials": {"low": "https://x/1", "mid_low": "https://x/2", "mid_high": "https://x/3", "high": "https://x/4", "top": "https://x/5"}}]}`},
		{"negative max", `{"questions": [{"id": "T1a", "topic": "t", "max_marks": -2,
		  "materials": {"low": "https://x/1", "mid_low": "https://x/2", "mid_high": "https://x/3", "high": "https://x/4"}}]}`},
		{"not a uri", `{"questions": [{"id": "T1a", "topic": "t", "max_marks": 6,
		  "materials": {"low": "nope", "mid_low": "https://x/2", "mid_high": "https://x/3", "high": "https://x/4"}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), FormatJSON)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o644))

	reg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1a", "T1b"}, reg.IDs())

	_, err = LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestExampleRegistryLoads(t *testing.T) {
	reg, err := LoadFile(filepath.Join("..", "..", "configs", "registry.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"T1a", "T1b", "T2", "T3a", "T3b", "T4a", "T4b", "T5a", "T5b"}, reg.IDs())
	max, err := reg.MaxMarks("T2")
	require.NoError(t, err)
	assert.Equal(t, 10.0, max)
}
