package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/aula-go-api/internal/apperr"
	"github.com/noah-isme/aula-go-api/internal/dto"
	"github.com/noah-isme/aula-go-api/internal/models"
	"github.com/noah-isme/aula-go-api/internal/observability"
	"github.com/noah-isme/aula-go-api/internal/repository"
)

// ErrItemNotFound indicates the item is missing or not part of the live generation.
var ErrItemNotFound = errors.New("item not found or not current")

// SubmissionService accepts student attempts at items.
type SubmissionService interface {
	Create(ctx context.Context, classSlug string, studentID uint, payload dto.SubmissionCreateRequest) (dto.SubmissionResponse, error)
	ListForStudent(ctx context.Context, classSlug string, studentID uint) ([]dto.SubmissionResponse, error)
}

type submissionService struct {
	classes     repository.ClassRepository
	curriculum  repository.CurriculumRepository
	submissions repository.SubmissionRepository
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	now         func() time.Time
}

// NewSubmissionService constructs a SubmissionService instance.
func NewSubmissionService(classes repository.ClassRepository, curriculum repository.CurriculumRepository, submissions repository.SubmissionRepository, validate *validator.Validate, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		classes:     classes,
		curriculum:  curriculum,
		submissions: submissions,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "submission_service").Logger(),
		now:         time.Now,
	}
}

// Create records a new attempt. The attempt number assignment, inheritance
// copy-forward, and superseded-flag update all commit in one transaction
// inside the repository; validation and authorization failures reject before
// any side effect.
func (s *submissionService) Create(ctx context.Context, classSlug string, studentID uint, payload dto.SubmissionCreateRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, apperr.Wrap(apperr.KindValidation, "invalid submission payload", err)
	}

	class, err := s.classes.GetBySlug(ctx, classSlug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, apperr.Wrap(apperr.KindNotFound, "class not found", ErrClassNotFound)
		}
		return dto.SubmissionResponse{}, err
	}

	if _, err := s.classes.GetEnrollment(ctx, class.ID, studentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, apperr.New(apperr.KindAuthorization, "student is not enrolled in this class")
		}
		return dto.SubmissionResponse{}, err
	}

	item, err := s.curriculum.GetCurrentItem(ctx, class.ID, payload.ItemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, apperr.Wrap(apperr.KindNotFound, "item not found or not current", ErrItemNotFound)
		}
		return dto.SubmissionResponse{}, err
	}
	if !item.IsActive {
		return dto.SubmissionResponse{}, apperr.Newf(apperr.KindValidation, "item %q is not accepting submissions", item.Key)
	}

	cleanPayload := strings.TrimSpace(s.sanitizer.Sanitize(payload.Payload))
	if cleanPayload == "" {
		return dto.SubmissionResponse{}, apperr.New(apperr.KindValidation, "submission payload empty after sanitization")
	}

	submission := models.Submission{
		ClassID:     class.ID,
		StudentID:   studentID,
		ItemID:      item.ID,
		Payload:     cleanPayload,
		SubmittedAt: s.now(),
	}

	if err := s.submissions.CreateAttempt(ctx, &submission); err != nil {
		if isDuplicateKey(err) {
			return dto.SubmissionResponse{}, apperr.Wrap(apperr.KindConflict, "attempt number collision, please retry", err)
		}
		return dto.SubmissionResponse{}, err
	}

	observability.Submissions().WithLabelValues(classSlug).Inc()

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("student_id", studentID).
		Uint("item_id", item.ID).
		Int("attempt_number", submission.AttemptNumber).
		Msg("submission created")

	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) ListForStudent(ctx context.Context, classSlug string, studentID uint) ([]dto.SubmissionResponse, error) {
	class, err := s.classes.GetBySlug(ctx, classSlug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, "class not found", ErrClassNotFound)
		}
		return nil, err
	}

	submissions, err := s.submissions.ListForStudent(ctx, class.ID, studentID)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		responses = append(responses, dto.NewSubmissionResponse(submission))
	}
	return responses, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToUpper(err.Error())
	return strings.Contains(message, "UNIQUE") || strings.Contains(message, "DUPLICATE")
}
