// Package grading turns raw scores into performance buckets and resolves the
// remediation material for each bucket.
package grading

import "github.com/pavelanni/remedial/internal/model"

const (
	midLowThreshold  = 0.25
	midHighThreshold = 0.50
	highThreshold    = 0.75
)

// Classify maps a raw score to a performance bucket.
//
// A non-positive maxMarks always yields BucketLow. Scores are not clamped: values
// above maxMarks or below zero are classified by the same thresholds, and a
// threshold value belongs to the higher bucket.
func Classify(score, maxMarks float64) model.Bucket {
	if !(maxMarks > 0) {
		return model.BucketLow
	}
	fraction := score / maxMarks
	switch {
	case fraction < midLowThreshold:
		return model.BucketLow
	case fraction < midHighThreshold:
		return model.BucketMidLow
	case fraction < highThreshold:
		return model.BucketMidHigh
	default:
		return model.BucketHigh
	}
}
