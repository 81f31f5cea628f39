package model

import (
	"fmt"
	"strings"
)

// Bucket is one of four ordered performance tiers derived from score / max marks.
type Bucket int

const (
	// BucketLow is below 25% of max marks.
	BucketLow Bucket = iota
	// BucketMidLow is 25% up to 50%.
	BucketMidLow
	// BucketMidHigh is 50% up to 75%.
	BucketMidHigh
	// BucketHigh is 75% and above.
	BucketHigh
)

// NumBuckets is the number of performance tiers.
const NumBuckets = 4

// Buckets lists all tiers in ascending order.
var Buckets = [NumBuckets]Bucket{BucketLow, BucketMidLow, BucketMidHigh, BucketHigh}

var bucketNames = [NumBuckets]string{"low", "mid_low", "mid_high", "high"}

var bucketLabels = [NumBuckets]string{"0-25%", "25-50%", "50-75%", "75-100%"}

// String returns the configuration name of the bucket (low, mid_low, mid_high, high).
func (b Bucket) String() string {
	if !b.Valid() {
		return fmt.Sprintf("bucket(%d)", int(b))
	}
	return bucketNames[b]
}

// Label returns the percentage range shown to humans.
func (b Bucket) Label() string {
	if !b.Valid() {
		return b.String()
	}
	return bucketLabels[b]
}

// Valid reports whether b is one of the four declared tiers.
func (b Bucket) Valid() bool {
	return b >= BucketLow && b <= BucketHigh
}

// MarshalText implements encoding.TextMarshaler.
func (b Bucket) MarshalText() ([]byte, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("invalid bucket %d", int(b))
	}
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Bucket) UnmarshalText(text []byte) error {
	parsed, err := ParseBucket(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ParseBucket accepts either the configuration name or the percentage label.
func ParseBucket(s string) (Bucket, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i := range bucketNames {
		if s == bucketNames[i] || s == bucketLabels[i] {
			return Bucket(i), nil
		}
	}
	return BucketLow, fmt.Errorf("unknown bucket %q", s)
}

// StudentRecord is one roster row after cleaning.
// Contact is empty when the roster carries no usable address.
type StudentRecord struct {
	Name      string             `json:"name"`
	StudentID string             `json:"student_id"`
	Contact   string             `json:"contact,omitempty"`
	Scores    map[string]float64 `json:"scores"`
	Total     float64            `json:"total"`
	HasTotal  bool               `json:"-"`
}

// Score returns the student's score for a question and whether one was recorded.
func (s StudentRecord) Score(questionID string) (float64, bool) {
	v, ok := s.Scores[questionID]
	return v, ok
}

// QuestionSpec is the static metadata for one question.
// Materials is indexed by Bucket.
type QuestionSpec struct {
	ID        string             `json:"id"`
	Topic     string             `json:"topic"`
	MaxMarks  float64            `json:"max_marks"`
	Materials [NumBuckets]string `json:"-"`
}

// AssignmentItem is the resolved remediation resource for one question.
type AssignmentItem struct {
	QuestionID string  `json:"question_id"`
	Score      float64 `json:"score"`
	Bucket     Bucket  `json:"bucket"`
	Resource   string  `json:"resource"`
}

// Assignment holds every resolved resource for one student, in registry order.
type Assignment struct {
	StudentID string           `json:"student_id"`
	Items     []AssignmentItem `json:"items"`
}

// Resource returns the resource assigned for questionID, or "" when none.
func (a Assignment) Resource(questionID string) string {
	for _, it := range a.Items {
		if it.QuestionID == questionID {
			return it.Resource
		}
	}
	return ""
}

// ReportRow is one student's pivoted material row.
// Resources is aligned with Report.Columns; "" marks a question without a score.
type ReportRow struct {
	Name      string   `json:"name"`
	StudentID string   `json:"student_id"`
	Contact   string   `json:"contact,omitempty"`
	Resources []string `json:"resources"`
}

// Report is the pivoted interchange table handed to exporters and the dispatcher.
type Report struct {
	Columns []string    `json:"columns"`
	Rows    []ReportRow `json:"rows"`
}

// OutcomeStatus is the per-student result of a dispatch attempt.
type OutcomeStatus string

const (
	OutcomeSent             OutcomeStatus = "sent"
	OutcomeSkippedNoAddress OutcomeStatus = "skipped_no_address"
	OutcomeFailed           OutcomeStatus = "failed"
)

// Outcome records what happened when dispatching to one student.
type Outcome struct {
	StudentID string        `json:"student_id"`
	Name      string        `json:"name"`
	Address   string        `json:"address,omitempty"`
	Status    OutcomeStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
}

// MarksEntry is one question's marks and Bloom's Taxonomy level extracted from a document.
type MarksEntry struct {
	Question int `json:"question"`
	Marks    int `json:"marks"`
	BTLevel  int `json:"bt_level"`
}
