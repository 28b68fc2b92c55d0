package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/aula-go-api/internal/apperr"
	"github.com/noah-isme/aula-go-api/internal/dto"
	"github.com/noah-isme/aula-go-api/internal/observability"
	"github.com/noah-isme/aula-go-api/internal/repository"
)

// ErrSubmissionNotFound indicates a submission could not be found.
var ErrSubmissionNotFound = errors.New("submission not found")

// Actor identifies the authenticated caller of a grading mutation.
type Actor struct {
	ID   uint
	Role string
}

// GradingService encapsulates grading mutations by graders.
type GradingService interface {
	Grade(ctx context.Context, submissionID uint, payload dto.GradeSubmissionRequest, actor Actor) (dto.SubmissionResponse, error)
}

type gradingService struct {
	classes     repository.ClassRepository
	curriculum  repository.CurriculumRepository
	submissions repository.SubmissionRepository
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	cache       *redis.Client
	nats        *nats.Conn
	natsSubject string
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewGradingService constructs the grading service.
func NewGradingService(classes repository.ClassRepository, curriculum repository.CurriculumRepository, submissions repository.SubmissionRepository, validate *validator.Validate, cache *redis.Client, natsConn *nats.Conn, natsSubject string, logger zerolog.Logger) GradingService {
	return &gradingService{
		classes:     classes,
		curriculum:  curriculum,
		submissions: submissions,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		cache:       cache,
		nats:        natsConn,
		natsSubject: natsSubject,
		logger:      logger.With().Str("component", "grading_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/aula-go-api/internal/service/grading"),
		now:         time.Now,
	}
}

func (s *gradingService) Grade(ctx context.Context, submissionID uint, payload dto.GradeSubmissionRequest, actor Actor) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grading.update", trace.WithAttributes(
		attribute.Int64("grading.submission_id", int64(submissionID)),
		attribute.Int64("grading.actor_id", int64(actor.ID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.SubmissionResponse{}, apperr.Wrap(apperr.KindValidation, "invalid grading payload", err)
	}

	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "submission_not_found")
			return dto.SubmissionResponse{}, apperr.Wrap(apperr.KindNotFound, "submission not found", ErrSubmissionNotFound)
		}
		span.RecordError(err)
		return dto.SubmissionResponse{}, err
	}

	// Administrators grade anywhere; everyone else needs a grader enrollment
	// in the submission's class.
	if actor.Role != "admin" {
		enrollment, err := s.classes.GetEnrollment(ctx, submission.ClassID, actor.ID)
		if err != nil || !enrollment.CanGrade() {
			span.SetStatus(codes.Error, "grading_authority_missing")
			return dto.SubmissionResponse{}, apperr.New(apperr.KindAuthorization, "caller lacks grading authority over this class")
		}
	}

	item, err := s.curriculum.GetCurrentItem(ctx, submission.ClassID, submission.ItemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "item_not_current")
			return dto.SubmissionResponse{}, apperr.Wrap(apperr.KindNotFound, "item is no longer current", ErrItemNotFound)
		}
		span.RecordError(err)
		return dto.SubmissionResponse{}, err
	}

	class, err := s.classes.GetByID(ctx, submission.ClassID)
	if err != nil {
		span.RecordError(err)
		return dto.SubmissionResponse{}, err
	}

	if payload.Score < 0 || payload.Score > item.Points {
		observability.GradingMutations().WithLabelValues(class.Slug, "rejected").Inc()
		span.SetStatus(codes.Error, "score_out_of_range")
		return dto.SubmissionResponse{}, apperr.Newf(apperr.KindValidation, "score %.2f outside [0, %.2f] for item %q", payload.Score, item.Points, item.Key)
	}

	cleanFeedback := strings.TrimSpace(s.sanitizer.Sanitize(payload.Feedback))

	// Idempotent re-grade by the same grader is a no-op.
	if submission.RawScore != nil && math.Abs(*submission.RawScore-payload.Score) < 1e-6 &&
		strings.TrimSpace(submission.Feedback) == cleanFeedback &&
		submission.GraderID != nil && *submission.GraderID == actor.ID {
		span.SetAttributes(attribute.Bool("grading.idempotent", true))
		return dto.NewSubmissionResponse(submission), nil
	}

	score := payload.Score
	gradedAt := s.now()
	gradedAttempt := submission.AttemptNumber
	graderID := actor.ID

	submission.RawScore = &score
	submission.AdjustedScore = nil
	submission.Feedback = cleanFeedback
	submission.GradedAt = &gradedAt
	submission.GraderID = &graderID
	submission.GradedAttemptNumber = &gradedAttempt

	if err := s.submissions.ApplyGrade(ctx, &submission); err != nil {
		observability.GradingMutations().WithLabelValues(class.Slug, "failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "grade_persist_failed")
		return dto.SubmissionResponse{}, err
	}

	observability.GradingMutations().WithLabelValues(class.Slug, "graded").Inc()
	s.invalidateSummaries(ctx, class.Slug, submission.StudentID)
	s.publishGraded(class.Slug, submission.ID, submission.StudentID, score)

	span.SetAttributes(attribute.Float64("grading.score", score))

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("grader_id", actor.ID).
		Float64("score", score).
		Msg("submission graded")

	return dto.NewSubmissionResponse(submission), nil
}

// invalidateSummaries drops the student's cached grade summaries so the next
// read rebuilds them from the mutated submission history.
func (s *gradingService) invalidateSummaries(ctx context.Context, classSlug string, studentID uint) {
	if s.cache == nil {
		return
	}
	keys := []string{
		summaryCacheKey(classSlug, studentID, LevelItems),
		summaryCacheKey(classSlug, studentID, LevelConstituents),
		summaryCacheKey(classSlug, studentID, LevelModules),
	}
	if err := s.cache.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn().Err(err).Uint("student_id", studentID).Msg("failed to invalidate grade summary cache")
	}
}

func (s *gradingService) publishGraded(classSlug string, submissionID, studentID uint, score float64) {
	if s.nats == nil || s.natsSubject == "" {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"class":         classSlug,
		"submission_id": submissionID,
		"student_id":    studentID,
		"score":         score,
	})
	if err != nil {
		return
	}
	if err := s.nats.Publish(s.natsSubject, payload); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", submissionID).Msg("failed to publish grading event")
	}
}
