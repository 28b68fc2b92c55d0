package grading

import (
	"time"

	"github.com/noah-isme/aula-go-api/internal/models"
)

// Effective is the grade currently attributed to a (student, item) pair,
// possibly inherited from an earlier graded attempt.
type Effective struct {
	SubmissionID        uint
	RawScore            *float64
	AdjustedScore       *float64
	Score               float64
	Feedback            string
	GradedAt            time.Time
	GraderID            *uint
	GradedAttemptNumber int
	LatestAttemptNumber int
	HasNewerVersion     bool
}

// Resolve computes the effective grade for one (student, item) pair from its
// submission rows. It returns false when no attempt has been graded yet.
//
// The graded row G is the one with the most recent GradedAt, ties broken by
// the highest attempt number; HasNewerVersion reports whether a strictly
// newer attempt than G exists.
func Resolve(submissions []models.Submission) (Effective, bool) {
	if len(submissions) == 0 {
		return Effective{}, false
	}

	latest := 0
	var graded *models.Submission
	for i := range submissions {
		sub := &submissions[i]
		if sub.AttemptNumber > latest {
			latest = sub.AttemptNumber
		}
		if !sub.IsGraded() {
			continue
		}
		if graded == nil || newerGrade(sub, graded) {
			graded = sub
		}
	}

	if graded == nil {
		return Effective{LatestAttemptNumber: latest}, false
	}

	gradedAttempt := graded.AttemptNumber
	if graded.GradedAttemptNumber != nil {
		gradedAttempt = *graded.GradedAttemptNumber
	}

	effective := Effective{
		SubmissionID:        graded.ID,
		RawScore:            graded.RawScore,
		AdjustedScore:       graded.AdjustedScore,
		Feedback:            graded.Feedback,
		GradedAt:            *graded.GradedAt,
		GraderID:            graded.GraderID,
		GradedAttemptNumber: gradedAttempt,
		LatestAttemptNumber: latest,
		HasNewerVersion:     latest > graded.AttemptNumber,
	}
	if score := graded.EffectiveScore(); score != nil {
		effective.Score = *score
	}

	return effective, true
}

func newerGrade(candidate, current *models.Submission) bool {
	if candidate.GradedAt.After(*current.GradedAt) {
		return true
	}
	if candidate.GradedAt.Equal(*current.GradedAt) {
		return candidate.AttemptNumber > current.AttemptNumber
	}
	return false
}
