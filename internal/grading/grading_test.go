package grading

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/remedial/internal/model"
	"github.com/pavelanni/remedial/internal/registry"
	"github.com/pavelanni/remedial/internal/registry/registrytest"
)

func TestClassifyBoundaries(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		max   float64
		want  model.Bucket
	}{
		{"zero", 0, 100, model.BucketLow},
		{"just below quarter", 24.999, 100, model.BucketLow},
		{"quarter", 25, 100, model.BucketMidLow},
		{"just below half", 49.999, 100, model.BucketMidLow},
		{"half", 50, 100, model.BucketMidHigh},
		{"just below three quarters", 74.999, 100, model.BucketMidHigh},
		{"three quarters", 75, 100, model.BucketHigh},
		{"full", 100, 100, model.BucketHigh},
		{"above max", 120, 100, model.BucketHigh},
		{"negative score", -5, 100, model.BucketLow},
		{"half of six", 3, 6, model.BucketMidHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.score, tt.max))
		})
	}
}

func TestClassifyNonPositiveMaxIsLow(t *testing.T) {
	for _, max := range []float64{0, -1, -100, math.Inf(-1), math.NaN()} {
		for _, score := range []float64{-10, 0, 1, 50, 1e9, math.Inf(1)} {
			assert.Equal(t, model.BucketLow, Classify(score, max), "score=%v max=%v", score, max)
		}
	}
}

func TestClassifyMonotonic(t *testing.T) {
	for _, max := range []float64{1, 4, 6, 10, 100} {
		prev := Classify(-max, max)
		for score := -max; score <= 2*max; score += max / 97 {
			got := Classify(score, max)
			require.GreaterOrEqual(t, int(got), int(prev), "score=%v max=%v", score, max)
			prev = got
		}
	}
}

func TestAssignSelectsBucketMaterial(t *testing.T) {
	reg := registrytest.Sample(t)
	student := model.StudentRecord{StudentID: "1RV01", Scores: map[string]float64{"T1a": 3}}

	a, err := Assign(student, reg)
	require.NoError(t, err)
	require.Len(t, a.Items, 1)
	assert.Equal(t, "T1a", a.Items[0].QuestionID)
	assert.Equal(t, model.BucketMidHigh, a.Items[0].Bucket)
	assert.Equal(t, registrytest.URL("T1a", model.BucketMidHigh), a.Items[0].Resource)
}

func TestAssignFollowsRegistryOrder(t *testing.T) {
	reg := registrytest.Sample(t)
	student := model.StudentRecord{StudentID: "1RV02", Scores: map[string]float64{
		"T5b": 4, "T1a": 0, "T2": 6,
	}}

	a, err := Assign(student, reg)
	require.NoError(t, err)
	var ids []string
	for _, it := range a.Items {
		ids = append(ids, it.QuestionID)
	}
	assert.Equal(t, []string{"T1a", "T2", "T5b"}, ids)
	assert.Equal(t, registrytest.URL("T5b", model.BucketHigh), a.Resource("T5b"))
	assert.Equal(t, registrytest.URL("T1a", model.BucketLow), a.Resource("T1a"))
	assert.Equal(t, "", a.Resource("T3a"))
}

func TestAssignUnknownQuestion(t *testing.T) {
	reg := registrytest.Small(t, 10, "Q1")
	student := model.StudentRecord{StudentID: "s1", Scores: map[string]float64{"Q1": 5, "Q7": 1}}

	_, err := Assign(student, reg)
	assert.ErrorIs(t, err, registry.ErrUnknownQuestion)
}

func TestAssignAllAbortsOnFirstError(t *testing.T) {
	reg := registrytest.Small(t, 10, "Q1")
	students := []model.StudentRecord{
		{StudentID: "s1", Scores: map[string]float64{"Q1": 9}},
		{StudentID: "s2", Scores: map[string]float64{"Q2": 1}},
	}
	_, err := AssignAll(students, reg)
	require.ErrorIs(t, err, registry.ErrUnknownQuestion)
	assert.Contains(t, err.Error(), "s2")

	out, err := AssignAll(students[:1], reg)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.BucketHigh, out[0].Items[0].Bucket)
}
