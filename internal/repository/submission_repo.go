package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/aula-go-api/internal/grading"
	"github.com/noah-isme/aula-go-api/internal/models"
)

// SubmissionRepository defines data operations for submission attempts.
type SubmissionRepository interface {
	CreateAttempt(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	ListForItem(ctx context.Context, classID, studentID, itemID uint) ([]models.Submission, error)
	ListForStudent(ctx context.Context, classID, studentID uint) ([]models.Submission, error)
	ApplyGrade(ctx context.Context, submission *models.Submission) error
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

// CreateAttempt inserts a new attempt with the next attempt number and
// materializes the inheritance invariant in the same transaction: attempts
// after the first copy the then-current effective grade onto the new row and
// flag every graded prior row as superseded. Reading the prior rows inside
// the transaction keeps the grade-vs-new-attempt race linearizable; a
// concurrent insert of the same attempt number trips the unique
// (student, item, attempt) constraint and surfaces as a conflict.
func (r *submissionRepository) CreateAttempt(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prior []models.Submission
		if err := tx.
			Where("student_id = ? AND item_id = ?", submission.StudentID, submission.ItemID).
			Order("attempt_number ASC").
			Find(&prior).Error; err != nil {
			return err
		}

		next := 1
		if len(prior) > 0 {
			next = prior[len(prior)-1].AttemptNumber + 1
		}
		submission.AttemptNumber = next
		submission.HasNewerVersion = false

		if next > 1 {
			if effective, ok := grading.Resolve(prior); ok {
				submission.RawScore = effective.RawScore
				submission.AdjustedScore = effective.AdjustedScore
				submission.Feedback = effective.Feedback
				gradedAt := effective.GradedAt
				submission.GradedAt = &gradedAt
				submission.GraderID = effective.GraderID
				gradedAttempt := effective.GradedAttemptNumber
				submission.GradedAttemptNumber = &gradedAttempt
			}

			// The new attempt supersedes every graded prior row, not just the
			// effective one: re-grading an older attempt can make it effective
			// again while later graded rows sit unflagged.
			if err := tx.Model(&models.Submission{}).
				Where("student_id = ? AND item_id = ? AND graded_at IS NOT NULL AND has_newer_version = ?",
					submission.StudentID, submission.ItemID, false).
				Update("has_newer_version", true).Error; err != nil {
				return err
			}
		}

		return tx.Create(submission).Error
	})
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) ListForItem(ctx context.Context, classID, studentID, itemID uint) ([]models.Submission, error) {
	var submissions []models.Submission
	err := r.db.WithContext(ctx).
		Where("class_id = ? AND student_id = ? AND item_id = ?", classID, studentID, itemID).
		Order("attempt_number ASC").
		Find(&submissions).Error
	return submissions, err
}

func (r *submissionRepository) ListForStudent(ctx context.Context, classID, studentID uint) ([]models.Submission, error) {
	var submissions []models.Submission
	err := r.db.WithContext(ctx).
		Where("class_id = ? AND student_id = ?", classID, studentID).
		Order("item_id ASC, attempt_number ASC").
		Find(&submissions).Error
	return submissions, err
}

// ApplyGrade persists a grading mutation and refreshes the superseded flag
// against the latest attempt inside one transaction.
func (r *submissionRepository) ApplyGrade(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest int
		err := tx.Model(&models.Submission{}).
			Where("student_id = ? AND item_id = ?", submission.StudentID, submission.ItemID).
			Select("COALESCE(MAX(attempt_number), 0)").
			Scan(&latest).Error
		if err != nil {
			return err
		}

		submission.HasNewerVersion = latest > submission.AttemptNumber
		return tx.Save(submission).Error
	})
}
