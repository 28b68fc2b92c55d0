package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/aula-go-api/internal/apperr"
	"github.com/noah-isme/aula-go-api/internal/dto"
	"github.com/noah-isme/aula-go-api/internal/grading"
	"github.com/noah-isme/aula-go-api/internal/models"
	"github.com/noah-isme/aula-go-api/internal/repository"
)

// Summary levels accepted by GradeQueryService.Summary.
const (
	LevelItems        = "items"
	LevelConstituents = "constituents"
	LevelModules      = "modules"
)

const meanPolicyName = "arithmetic-mean"

// GradeQueryService answers read-side grade questions for one student in one
// class. Effective grades are resolved from submission history on every call;
// nothing here mutates state, so the answers are safe to cache.
type GradeQueryService interface {
	ItemGrades(ctx context.Context, classSlug string, studentID uint) ([]dto.ItemGrade, error)
	ConstituentGrades(ctx context.Context, classSlug string, studentID uint) ([]dto.ConstituentGrade, error)
	ModuleGrades(ctx context.Context, classSlug string, studentID uint) ([]dto.ModuleGrade, error)
	Summary(ctx context.Context, classSlug string, studentID uint, level string) (dto.GradeSummary, error)
}

type gradeQueryService struct {
	classes     repository.ClassRepository
	curriculum  repository.CurriculumRepository
	submissions repository.SubmissionRepository
	cache       *redis.Client
	cacheTTL    time.Duration
	logger      zerolog.Logger
}

// NewGradeQueryService builds the read-side grade aggregator.
func NewGradeQueryService(classes repository.ClassRepository, curriculum repository.CurriculumRepository, submissions repository.SubmissionRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) GradeQueryService {
	return &gradeQueryService{
		classes:     classes,
		curriculum:  curriculum,
		submissions: submissions,
		cache:       cache,
		cacheTTL:    ttl,
		logger:      logger.With().Str("component", "grade_query_service").Logger(),
	}
}

// gradeContext is the per-request working set: the live curriculum plus the
// student's submissions grouped by item.
type gradeContext struct {
	class        models.Class
	modules      []models.Module
	constituents []models.Constituent
	items        []models.Item
	policies     []models.GradingPolicy
	byItem       map[uint][]models.Submission
}

func (s *gradeQueryService) load(ctx context.Context, classSlug string, studentID uint, withPolicies bool) (gradeContext, error) {
	class, err := s.classes.GetBySlug(ctx, classSlug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gradeContext{}, apperr.Wrap(apperr.KindNotFound, "class not found", ErrClassNotFound)
		}
		return gradeContext{}, err
	}

	gc := gradeContext{class: class, byItem: map[uint][]models.Submission{}}

	if gc.modules, err = s.curriculum.ListCurrentModules(ctx, class.ID); err != nil {
		return gradeContext{}, err
	}
	if gc.constituents, err = s.curriculum.ListCurrentConstituents(ctx, class.ID); err != nil {
		return gradeContext{}, err
	}
	if gc.items, err = s.curriculum.ListCurrentItems(ctx, class.ID); err != nil {
		return gradeContext{}, err
	}
	if withPolicies {
		if gc.policies, err = s.curriculum.ListCurrentPolicies(ctx, class.ID); err != nil {
			return gradeContext{}, err
		}
	}

	submissions, err := s.submissions.ListForStudent(ctx, class.ID, studentID)
	if err != nil {
		return gradeContext{}, err
	}
	for _, submission := range submissions {
		gc.byItem[submission.ItemID] = append(gc.byItem[submission.ItemID], submission)
	}

	return gc, nil
}

func (s *gradeQueryService) ItemGrades(ctx context.Context, classSlug string, studentID uint) ([]dto.ItemGrade, error) {
	gc, err := s.load(ctx, classSlug, studentID, false)
	if err != nil {
		return nil, err
	}

	grades := make([]dto.ItemGrade, 0, len(gc.items))
	for _, item := range gc.items {
		grades = append(grades, itemGrade(item, gc.byItem[item.ID]))
	}
	return grades, nil
}

func itemGrade(item models.Item, submissions []models.Submission) dto.ItemGrade {
	grade := dto.ItemGrade{
		ItemID:          item.ID,
		ItemKey:         item.Key,
		Title:           item.Title,
		ConstituentSlug: item.ConstituentSlug,
		Points:          item.Points,
	}

	effective, graded := grading.Resolve(submissions)
	grade.LatestAttemptNumber = effective.LatestAttemptNumber
	if !graded {
		return grade
	}

	score := clampScore(effective.Score, item.Points)
	normalized := normalizeScore(score, item.Points)
	gradedAt := effective.GradedAt
	gradedAttempt := effective.GradedAttemptNumber

	grade.Score = &score
	grade.NormalizedScore = &normalized
	grade.Feedback = effective.Feedback
	grade.GraderID = effective.GraderID
	grade.GradedAt = &gradedAt
	grade.GradedAttemptNumber = &gradedAttempt
	grade.HasNewerVersion = effective.HasNewerVersion
	return grade
}

// ConstituentGrades reports raw point totals over the gradable items.
// Inactive items are excluded from the totals (their history stays visible at
// the item level), and constituents without any gradable item are omitted
// rather than reported as empty zero rows.
func (s *gradeQueryService) ConstituentGrades(ctx context.Context, classSlug string, studentID uint) ([]dto.ConstituentGrade, error) {
	gc, err := s.load(ctx, classSlug, studentID, false)
	if err != nil {
		return nil, err
	}

	itemsBySlug := map[string][]models.Item{}
	for _, item := range gc.items {
		if !item.Gradable() {
			continue
		}
		itemsBySlug[item.ConstituentSlug] = append(itemsBySlug[item.ConstituentSlug], item)
	}

	grades := make([]dto.ConstituentGrade, 0, len(gc.constituents))
	for _, constituent := range gc.constituents {
		items := itemsBySlug[constituent.Slug]
		if len(items) == 0 {
			continue
		}

		grade := dto.ConstituentGrade{
			Slug:      constituent.Slug,
			Name:      constituent.Name,
			ModuleKey: constituent.ModuleKey,
			ItemCount: len(items),
		}
		for _, item := range items {
			grade.MaxPoints += item.Points
			effective, graded := grading.Resolve(gc.byItem[item.ID])
			if !graded {
				continue
			}
			grade.EarnedPoints += clampScore(effective.Score, item.Points)
			grade.GradedCount++
			grade.LastUpdated = laterOf(grade.LastUpdated, effective.GradedAt)
		}
		grades = append(grades, grade)
	}
	return grades, nil
}

// ModuleGrades is the only level where curving applies: the grades of the
// module's active items are normalized to the 0..10 scale and fed through the
// resolved policy.
// Without a configured policy the final score is the plain arithmetic mean.
func (s *gradeQueryService) ModuleGrades(ctx context.Context, classSlug string, studentID uint) ([]dto.ModuleGrade, error) {
	gc, err := s.load(ctx, classSlug, studentID, true)
	if err != nil {
		return nil, err
	}

	moduleBySlug := map[string]string{}
	for _, constituent := range gc.constituents {
		moduleBySlug[constituent.Slug] = constituent.ModuleKey
	}

	itemsByModule := map[string][]models.Item{}
	for _, item := range gc.items {
		if !item.Gradable() {
			continue
		}
		moduleKey, ok := moduleBySlug[item.ConstituentSlug]
		if !ok {
			continue
		}
		itemsByModule[moduleKey] = append(itemsByModule[moduleKey], item)
	}

	grades := make([]dto.ModuleGrade, 0, len(gc.modules))
	for _, module := range gc.modules {
		items := itemsByModule[module.Key]
		if len(items) == 0 {
			continue
		}

		grade := dto.ModuleGrade{
			ModuleKey: module.Key,
			Name:      module.Name,
			Weight:    module.Weight,
			ItemCount: len(items),
		}

		scores := make([]float64, 0, len(items))
		for _, item := range items {
			effective, graded := grading.Resolve(gc.byItem[item.ID])
			if !graded {
				continue
			}
			scores = append(scores, normalizeScore(clampScore(effective.Score, item.Points), item.Points))
			grade.GradedCount++
			grade.LastUpdated = laterOf(grade.LastUpdated, effective.GradedAt)
		}

		rules, policyName := s.resolvePolicy(gc.policies, module.Key)
		grade.PolicyName = policyName
		grade.FinalScore = grading.Evaluate(scores, rules)
		grade.EarnedWeight = grade.FinalScore / 10.0 * module.Weight
		grades = append(grades, grade)
	}
	return grades, nil
}

// resolvePolicy selects the active policy governing a module: a module-scoped
// policy outranks a universal one, and within a scope the newest current
// version wins (the repository orders by created_at descending). Unparsable
// rules degrade to the arithmetic mean instead of failing the read.
func (s *gradeQueryService) resolvePolicy(policies []models.GradingPolicy, moduleKey string) ([]grading.Rule, string) {
	var selected *models.GradingPolicy
	for i := range policies {
		policy := &policies[i]
		if !policy.IsActive {
			continue
		}
		switch policy.ModuleKey {
		case moduleKey:
			selected = policy
		case "":
			if selected == nil {
				selected = policy
			}
		default:
			continue
		}
		if selected == policy && policy.ModuleKey == moduleKey {
			break
		}
	}
	if selected == nil {
		return nil, meanPolicyName
	}

	rules, err := grading.ParseRules(selected.Rules)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("policy", selected.PolicyName).
			Str("version", selected.Version).
			Msg("policy rules unparsable, falling back to arithmetic mean")
		return nil, meanPolicyName
	}
	return rules, selected.PolicyName
}

func (s *gradeQueryService) Summary(ctx context.Context, classSlug string, studentID uint, level string) (dto.GradeSummary, error) {
	switch level {
	case LevelItems, LevelConstituents, LevelModules:
	default:
		return dto.GradeSummary{}, apperr.Newf(apperr.KindValidation, "unknown summary level %q", level)
	}

	cacheKey := summaryCacheKey(classSlug, studentID, level)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var summary dto.GradeSummary
			if unmarshalErr := json.Unmarshal([]byte(cached), &summary); unmarshalErr == nil {
				s.logger.Debug().Str("key", cacheKey).Msg("grade summary cache hit")
				return summary, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read grade summary cache")
		}
	}

	summary, err := s.buildSummary(ctx, classSlug, studentID, level)
	if err != nil {
		return dto.GradeSummary{}, err
	}

	if s.cache != nil {
		if payload, marshalErr := json.Marshal(summary); marshalErr == nil {
			if setErr := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); setErr != nil {
				s.logger.Warn().Err(setErr).Msg("failed to store grade summary cache")
			}
		}
	}
	return summary, nil
}

func (s *gradeQueryService) buildSummary(ctx context.Context, classSlug string, studentID uint, level string) (dto.GradeSummary, error) {
	summary := dto.GradeSummary{Level: level}
	var total float64
	var counted int

	switch level {
	case LevelItems:
		grades, err := s.ItemGrades(ctx, classSlug, studentID)
		if err != nil {
			return dto.GradeSummary{}, err
		}
		summary.TotalCount = len(grades)
		for _, grade := range grades {
			if grade.NormalizedScore == nil {
				continue
			}
			total += *grade.NormalizedScore
			counted++
			summary.LastUpdated = latestOf(summary.LastUpdated, grade.GradedAt)
		}
	case LevelConstituents:
		grades, err := s.ConstituentGrades(ctx, classSlug, studentID)
		if err != nil {
			return dto.GradeSummary{}, err
		}
		summary.TotalCount = len(grades)
		for _, grade := range grades {
			if grade.MaxPoints <= 0 {
				continue
			}
			total += grade.EarnedPoints / grade.MaxPoints * 10.0
			counted++
			summary.LastUpdated = latestOf(summary.LastUpdated, grade.LastUpdated)
		}
	case LevelModules:
		grades, err := s.ModuleGrades(ctx, classSlug, studentID)
		if err != nil {
			return dto.GradeSummary{}, err
		}
		summary.TotalCount = len(grades)
		for _, grade := range grades {
			total += grade.FinalScore
			counted++
			summary.LastUpdated = latestOf(summary.LastUpdated, grade.LastUpdated)
		}
	}

	if counted > 0 {
		summary.Average = total / float64(counted)
	}
	return summary, nil
}

// summaryCacheKey names the cached summary for one (class, student, level)
// triple. Grading mutations delete these keys so reads never serve a stale
// summary for the whole TTL.
func summaryCacheKey(classSlug string, studentID uint, level string) string {
	return fmt.Sprintf("grades:summary:%s:%d:%s", classSlug, studentID, level)
}

func clampScore(score, points float64) float64 {
	if score < 0 {
		return 0
	}
	if points > 0 && score > points {
		return points
	}
	return score
}

func normalizeScore(score, points float64) float64 {
	if points <= 0 {
		return 0
	}
	normalized := score / points * 10.0
	if normalized < 0 {
		return 0
	}
	if normalized > 10 {
		return 10
	}
	return normalized
}

func laterOf(current *time.Time, candidate time.Time) *time.Time {
	if candidate.IsZero() {
		return current
	}
	if current == nil || candidate.After(*current) {
		return &candidate
	}
	return current
}

func latestOf(current, candidate *time.Time) *time.Time {
	if candidate == nil {
		return current
	}
	return laterOf(current, *candidate)
}
