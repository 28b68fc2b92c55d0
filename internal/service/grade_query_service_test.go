package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/aula-go-api/internal/apperr"
	"github.com/noah-isme/aula-go-api/internal/dto"
	"github.com/noah-isme/aula-go-api/internal/grading"
	"github.com/noah-isme/aula-go-api/internal/models"
	"github.com/noah-isme/aula-go-api/internal/repository"
)

func seedModule(t *testing.T, db *gorm.DB, classID uint, key string, weight float64) models.Module {
	t.Helper()
	module := models.Module{ClassID: classID, Key: key, Name: key, Weight: weight, IsCurrent: true}
	require.NoError(t, db.Create(&module).Error)
	return module
}

func seedConstituent(t *testing.T, db *gorm.DB, classID uint, slug, moduleKey string) models.Constituent {
	t.Helper()
	constituent := models.Constituent{
		ClassID: classID, Slug: slug, Name: slug, ModuleKey: moduleKey,
		Weight: 100, Type: "implementation", MaxAttempts: 3, IsCurrent: true,
	}
	require.NoError(t, db.Create(&constituent).Error)
	return constituent
}

func seedScopedItem(t *testing.T, db *gorm.DB, classID uint, key, constituentSlug string, points float64) models.Item {
	t.Helper()
	item := models.Item{
		ClassID: classID, Key: key, ConstituentSlug: constituentSlug, Title: key,
		Points: points, DeliveryType: "upload",
		DueDate: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		IsActive: true, IsCurrent: true,
	}
	require.NoError(t, db.Create(&item).Error)
	return item
}

func seedPolicy(t *testing.T, db *gorm.DB, classID uint, moduleKey, name string, rules []grading.Rule) {
	t.Helper()
	raw, err := json.Marshal(rules)
	require.NoError(t, err)
	policy := models.GradingPolicy{
		ClassID: classID, ModuleKey: moduleKey, PolicyName: name, Version: "v1",
		Rules: raw, IsActive: true, IsCurrent: true,
	}
	require.NoError(t, db.Create(&policy).Error)
}

func gradeAttempt(t *testing.T, db *gorm.DB, submissionSvc SubmissionService, gradingSvc GradingService, classSlug string, studentID, itemID uint, score float64) {
	t.Helper()
	created, err := submissionSvc.Create(context.Background(), classSlug, studentID, dto.SubmissionCreateRequest{ItemID: itemID, Payload: "work"})
	require.NoError(t, err)
	_, err = gradingSvc.Grade(context.Background(), created.ID, dto.GradeSubmissionRequest{Score: score}, Actor{ID: 42, Role: models.EnrollmentRoleGrader})
	require.NoError(t, err)
}

func newQueryFixture(t *testing.T, cache *redis.Client) (*gorm.DB, models.Class, SubmissionService, GradingService, GradeQueryService) {
	t.Helper()
	db := newServiceDB(t)
	class := seedClass(t, db, "algo-2026")
	enroll(t, db, class.ID, 7, models.EnrollmentRoleStudent)
	enroll(t, db, class.ID, 42, models.EnrollmentRoleGrader)

	classes := repository.NewClassRepository(db)
	curriculum := repository.NewCurriculumRepository(db)
	submissions := repository.NewSubmissionRepository(db)
	validate := newValidator()

	submissionSvc := NewSubmissionService(classes, curriculum, submissions, validate, zerolog.Nop())
	gradingSvc := NewGradingService(classes, curriculum, submissions, validate, cache, nil, "", zerolog.Nop())
	querySvc := NewGradeQueryService(classes, curriculum, submissions, cache, time.Minute, zerolog.Nop())
	return db, class, submissionSvc, gradingSvc, querySvc
}

func TestGradeQueryServiceItemGrades(t *testing.T) {
	db, class, submissionSvc, gradingSvc, querySvc := newQueryFixture(t, nil)
	seedModule(t, db, class.ID, "algorithms", 100)
	seedConstituent(t, db, class.ID, "homework", "algorithms")
	graded := seedScopedItem(t, db, class.ID, "hw-1", "homework", 20)
	seedScopedItem(t, db, class.ID, "hw-2", "homework", 10)

	gradeAttempt(t, db, submissionSvc, gradingSvc, class.Slug, 7, graded.ID, 15)

	grades, err := querySvc.ItemGrades(context.Background(), class.Slug, 7)
	require.NoError(t, err)
	require.Len(t, grades, 2)

	byKey := map[string]dto.ItemGrade{}
	for _, grade := range grades {
		byKey[grade.ItemKey] = grade
	}

	hw1 := byKey["hw-1"]
	require.NotNil(t, hw1.Score)
	require.InDelta(t, 15.0, *hw1.Score, 1e-9)
	require.NotNil(t, hw1.NormalizedScore)
	require.InDelta(t, 7.5, *hw1.NormalizedScore, 1e-9)
	require.Equal(t, 1, hw1.LatestAttemptNumber)
	require.False(t, hw1.HasNewerVersion)

	hw2 := byKey["hw-2"]
	require.Nil(t, hw2.Score)
	require.Nil(t, hw2.NormalizedScore)
	require.Zero(t, hw2.LatestAttemptNumber)
}

func TestGradeQueryServiceConstituentGradesAreRawSums(t *testing.T) {
	db, class, submissionSvc, gradingSvc, querySvc := newQueryFixture(t, nil)
	seedModule(t, db, class.ID, "algorithms", 100)
	seedConstituent(t, db, class.ID, "homework", "algorithms")
	seedConstituent(t, db, class.ID, "empty-track", "algorithms")
	hw1 := seedScopedItem(t, db, class.ID, "hw-1", "homework", 20)
	seedScopedItem(t, db, class.ID, "hw-2", "homework", 10)

	gradeAttempt(t, db, submissionSvc, gradingSvc, class.Slug, 7, hw1.ID, 15)

	grades, err := querySvc.ConstituentGrades(context.Background(), class.Slug, 7)
	require.NoError(t, err)

	// A constituent with no current items is omitted entirely.
	require.Len(t, grades, 1)
	homework := grades[0]
	require.Equal(t, "homework", homework.Slug)

	// Ungraded items still count toward the maximum.
	require.InDelta(t, 15.0, homework.EarnedPoints, 1e-9)
	require.InDelta(t, 30.0, homework.MaxPoints, 1e-9)
	require.Equal(t, 2, homework.ItemCount)
	require.Equal(t, 1, homework.GradedCount)
	require.NotNil(t, homework.LastUpdated)
}

func TestGradeQueryServiceModuleGradesApplyPolicy(t *testing.T) {
	db, class, submissionSvc, gradingSvc, querySvc := newQueryFixture(t, nil)
	seedModule(t, db, class.ID, "algorithms", 40)
	seedConstituent(t, db, class.ID, "homework", "algorithms")
	hw1 := seedScopedItem(t, db, class.ID, "hw-1", "homework", 10)
	hw2 := seedScopedItem(t, db, class.ID, "hw-2", "homework", 10)
	seedPolicy(t, db, class.ID, "algorithms", "standard-curve", grading.DefaultRules())

	// Normalized scores 9.5 and 9.2: every score above 9.0 curves to 10.
	gradeAttempt(t, db, submissionSvc, gradingSvc, class.Slug, 7, hw1.ID, 9.5)
	gradeAttempt(t, db, submissionSvc, gradingSvc, class.Slug, 7, hw2.ID, 9.2)

	grades, err := querySvc.ModuleGrades(context.Background(), class.Slug, 7)
	require.NoError(t, err)
	require.Len(t, grades, 1)

	module := grades[0]
	require.Equal(t, "standard-curve", module.PolicyName)
	require.InDelta(t, 10.0, module.FinalScore, 1e-9)
	require.InDelta(t, 40.0, module.EarnedWeight, 1e-9)
	require.Equal(t, 2, module.GradedCount)
}

func TestGradeQueryServiceModuleScopedPolicyOutranksUniversal(t *testing.T) {
	db, class, submissionSvc, gradingSvc, querySvc := newQueryFixture(t, nil)
	seedModule(t, db, class.ID, "algorithms", 50)
	seedModule(t, db, class.ID, "systems", 50)
	seedConstituent(t, db, class.ID, "homework", "algorithms")
	seedConstituent(t, db, class.ID, "labs", "systems")
	hw := seedScopedItem(t, db, class.ID, "hw-1", "homework", 10)
	lab := seedScopedItem(t, db, class.ID, "lab-1", "labs", 10)

	seedPolicy(t, db, class.ID, "", "class-wide", grading.DefaultRules())
	seedPolicy(t, db, class.ID, "algorithms", "algo-only", []grading.Rule{
		{Predicate: grading.Predicate{Kind: "always"}, Formula: grading.Formula{Kind: "constant", Value: 5}},
	})

	gradeAttempt(t, db, submissionSvc, gradingSvc, class.Slug, 7, hw.ID, 9.5)
	gradeAttempt(t, db, submissionSvc, gradingSvc, class.Slug, 7, lab.ID, 9.5)

	grades, err := querySvc.ModuleGrades(context.Background(), class.Slug, 7)
	require.NoError(t, err)
	require.Len(t, grades, 2)

	byKey := map[string]dto.ModuleGrade{}
	for _, grade := range grades {
		byKey[grade.ModuleKey] = grade
	}

	require.Equal(t, "algo-only", byKey["algorithms"].PolicyName)
	require.InDelta(t, 5.0, byKey["algorithms"].FinalScore, 1e-9)
	require.Equal(t, "class-wide", byKey["systems"].PolicyName)
	require.InDelta(t, 10.0, byKey["systems"].FinalScore, 1e-9)
}

func TestGradeQueryServiceMeanFallbackWithoutPolicy(t *testing.T) {
	db, class, submissionSvc, gradingSvc, querySvc := newQueryFixture(t, nil)
	seedModule(t, db, class.ID, "algorithms", 100)
	seedConstituent(t, db, class.ID, "homework", "algorithms")
	hw1 := seedScopedItem(t, db, class.ID, "hw-1", "homework", 10)
	hw2 := seedScopedItem(t, db, class.ID, "hw-2", "homework", 10)

	gradeAttempt(t, db, submissionSvc, gradingSvc, class.Slug, 7, hw1.ID, 6)
	gradeAttempt(t, db, submissionSvc, gradingSvc, class.Slug, 7, hw2.ID, 8)

	grades, err := querySvc.ModuleGrades(context.Background(), class.Slug, 7)
	require.NoError(t, err)
	require.Len(t, grades, 1)
	require.Equal(t, "arithmetic-mean", grades[0].PolicyName)
	require.InDelta(t, 7.0, grades[0].FinalScore, 1e-9)
}

func TestGradeQueryServiceSummaryCaches(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	db, class, submissionSvc, gradingSvc, querySvc := newQueryFixture(t, cache)
	seedModule(t, db, class.ID, "algorithms", 100)
	seedConstituent(t, db, class.ID, "homework", "algorithms")
	hw := seedScopedItem(t, db, class.ID, "hw-1", "homework", 10)

	gradeAttempt(t, db, submissionSvc, gradingSvc, class.Slug, 7, hw.ID, 8)

	summary, err := querySvc.Summary(context.Background(), class.Slug, 7, LevelModules)
	require.NoError(t, err)
	require.Equal(t, LevelModules, summary.Level)
	require.Equal(t, 1, summary.TotalCount)
	require.InDelta(t, 8.0, summary.Average, 1e-9)

	require.True(t, mr.Exists("grades:summary:algo-2026:7:modules"))

	// Rows written behind the service's back are not observed until expiry.
	hw2 := seedScopedItem(t, db, class.ID, "hw-2", "homework", 10)
	score := 2.0
	gradedAt := time.Now()
	attempt := 1
	require.NoError(t, db.Create(&models.Submission{
		ClassID: class.ID, StudentID: 7, ItemID: hw2.ID, AttemptNumber: 1,
		Payload: "late", SubmittedAt: gradedAt,
		RawScore: &score, GradedAt: &gradedAt, GradedAttemptNumber: &attempt,
	}).Error)

	cached, err := querySvc.Summary(context.Background(), class.Slug, 7, LevelModules)
	require.NoError(t, err)
	require.InDelta(t, 8.0, cached.Average, 1e-9)
}

func TestGradingMutationInvalidatesSummaryCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	db, class, submissionSvc, gradingSvc, querySvc := newQueryFixture(t, cache)
	seedModule(t, db, class.ID, "algorithms", 100)
	seedConstituent(t, db, class.ID, "homework", "algorithms")
	hw1 := seedScopedItem(t, db, class.ID, "hw-1", "homework", 10)
	hw2 := seedScopedItem(t, db, class.ID, "hw-2", "homework", 10)

	gradeAttempt(t, db, submissionSvc, gradingSvc, class.Slug, 7, hw1.ID, 8)

	summary, err := querySvc.Summary(context.Background(), class.Slug, 7, LevelModules)
	require.NoError(t, err)
	require.InDelta(t, 8.0, summary.Average, 1e-9)
	require.True(t, mr.Exists("grades:summary:algo-2026:7:modules"))

	// A grading mutation drops the student's cached summaries.
	gradeAttempt(t, db, submissionSvc, gradingSvc, class.Slug, 7, hw2.ID, 2)
	require.False(t, mr.Exists("grades:summary:algo-2026:7:modules"))

	fresh, err := querySvc.Summary(context.Background(), class.Slug, 7, LevelModules)
	require.NoError(t, err)
	require.InDelta(t, 5.0, fresh.Average, 1e-9)
}

func TestGradeQueryServiceAggregationSkipsInactiveItems(t *testing.T) {
	db, class, submissionSvc, gradingSvc, querySvc := newQueryFixture(t, nil)
	seedModule(t, db, class.ID, "algorithms", 100)
	seedConstituent(t, db, class.ID, "homework", "algorithms")
	active := seedScopedItem(t, db, class.ID, "hw-1", "homework", 10)
	closed := seedItem(t, db, class.ID, "hw-closed", 50, true, false)

	gradeAttempt(t, db, submissionSvc, gradingSvc, class.Slug, 7, active.ID, 8)

	// The closed item carries a grade from before it was deactivated.
	score := 50.0
	gradedAt := time.Now()
	attempt := 1
	require.NoError(t, db.Create(&models.Submission{
		ClassID: class.ID, StudentID: 7, ItemID: closed.ID, AttemptNumber: 1,
		Payload: "old work", SubmittedAt: gradedAt,
		RawScore: &score, GradedAt: &gradedAt, GradedAttemptNumber: &attempt,
	}).Error)

	// Item-level history stays visible for both items.
	items, err := querySvc.ItemGrades(context.Background(), class.Slug, 7)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// The inactive item contributes neither points nor counts to totals.
	constituents, err := querySvc.ConstituentGrades(context.Background(), class.Slug, 7)
	require.NoError(t, err)
	require.Len(t, constituents, 1)
	require.InDelta(t, 8.0, constituents[0].EarnedPoints, 1e-9)
	require.InDelta(t, 10.0, constituents[0].MaxPoints, 1e-9)
	require.Equal(t, 1, constituents[0].ItemCount)

	// Nor does its perfect score feed the module curve.
	modules, err := querySvc.ModuleGrades(context.Background(), class.Slug, 7)
	require.NoError(t, err)
	require.Len(t, modules, 1)
	require.Equal(t, 1, modules[0].GradedCount)
	require.InDelta(t, 8.0, modules[0].FinalScore, 1e-9)
}

func TestGradeQueryServiceSummaryRejectsUnknownLevel(t *testing.T) {
	_, class, _, _, querySvc := newQueryFixture(t, nil)

	_, err := querySvc.Summary(context.Background(), class.Slug, 7, "semesters")
	require.Error(t, err)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
