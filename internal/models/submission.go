package models

import "time"

// Submission is one numbered attempt by a student at an item. The payload is
// immutable after insert; only grading fields are mutated afterwards, either
// by a grader or by the inheritance copy-forward at insert time.
//
// GradedAttemptNumber records which attempt actually earned the grade: on an
// inherited row it points back at the graded predecessor.
type Submission struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	ClassID             uint       `gorm:"not null;index" json:"class_id"`
	StudentID           uint       `gorm:"not null;uniqueIndex:idx_submission_attempt" json:"student_id"`
	ItemID              uint       `gorm:"not null;uniqueIndex:idx_submission_attempt" json:"item_id"`
	AttemptNumber       int        `gorm:"not null;uniqueIndex:idx_submission_attempt" json:"attempt_number"`
	Payload             string     `gorm:"type:text;not null" json:"payload"`
	SubmittedAt         time.Time  `gorm:"not null" json:"submitted_at"`
	GradedAt            *time.Time `json:"graded_at"`
	RawScore            *float64   `json:"raw_score"`
	AdjustedScore       *float64   `json:"adjusted_score"`
	Feedback            string     `gorm:"type:text" json:"feedback"`
	GraderID            *uint      `json:"grader_id"`
	GradedAttemptNumber *int       `json:"graded_attempt_number"`
	HasNewerVersion     bool       `gorm:"not null;default:false" json:"has_newer_version"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// IsGraded reports whether the row carries a grade, inherited or direct.
func (s Submission) IsGraded() bool {
	return s.GradedAt != nil && s.RawScore != nil
}

// EffectiveScore returns the score that should be surfaced for the row:
// the adjusted score when present, otherwise the raw score.
func (s Submission) EffectiveScore() *float64 {
	if s.AdjustedScore != nil {
		return s.AdjustedScore
	}
	return s.RawScore
}
