package dto

import (
	"time"

	"github.com/noah-isme/aula-go-api/internal/models"
)

// SubmissionCreateRequest is the payload for a new attempt at an item.
type SubmissionCreateRequest struct {
	ItemID  uint   `json:"item_id" validate:"required,gt=0"`
	Payload string `json:"payload" validate:"required,min=1"`
}

// GradeSubmissionRequest is the payload for a grading mutation.
type GradeSubmissionRequest struct {
	Score    float64 `json:"score" validate:"gte=0"`
	Feedback string  `json:"feedback" validate:"omitempty,max=10000"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID                  uint       `json:"id"`
	ClassID             uint       `json:"class_id"`
	StudentID           uint       `json:"student_id"`
	ItemID              uint       `json:"item_id"`
	AttemptNumber       int        `json:"attempt_number"`
	SubmittedAt         time.Time  `json:"submitted_at"`
	RawScore            *float64   `json:"raw_score"`
	AdjustedScore       *float64   `json:"adjusted_score"`
	Feedback            string     `json:"feedback"`
	GraderID            *uint      `json:"grader_id"`
	GradedAt            *time.Time `json:"graded_at"`
	GradedAttemptNumber *int       `json:"graded_attempt_number"`
	HasNewerVersion     bool       `json:"has_newer_version"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:                  model.ID,
		ClassID:             model.ClassID,
		StudentID:           model.StudentID,
		ItemID:              model.ItemID,
		AttemptNumber:       model.AttemptNumber,
		SubmittedAt:         model.SubmittedAt,
		RawScore:            model.RawScore,
		AdjustedScore:       model.AdjustedScore,
		Feedback:            model.Feedback,
		GraderID:            model.GraderID,
		GradedAt:            model.GradedAt,
		GradedAttemptNumber: model.GradedAttemptNumber,
		HasNewerVersion:     model.HasNewerVersion,
	}
}
