package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/aula-go-api/internal/apperr"
	"github.com/noah-isme/aula-go-api/internal/grading"
	"github.com/noah-isme/aula-go-api/internal/models"
	"github.com/noah-isme/aula-go-api/internal/repository"
	"github.com/noah-isme/aula-go-api/internal/snapshot"
)

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Class{}, &models.Enrollment{},
		&models.Module{}, &models.Constituent{}, &models.Item{},
		&models.GradingPolicy{}, &models.Submission{},
	))
	return db
}

func seedClass(t *testing.T, db *gorm.DB, slug string) models.Class {
	t.Helper()
	class := models.Class{Slug: slug, Name: slug}
	require.NoError(t, db.Create(&class).Error)
	return class
}

func enroll(t *testing.T, db *gorm.DB, classID, userID uint, role string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Enrollment{ClassID: classID, UserID: userID, Role: role}).Error)
}

func baseSnapshot(class string) snapshot.Document {
	return snapshot.Document{
		Class: class,
		Modules: []snapshot.ModuleRecord{
			{Key: "algorithms", Name: "Algorithms", Weight: 40, Order: 1},
			{Key: "systems", Name: "Systems", Weight: 60, Order: 2},
		},
		Constituents: []snapshot.ConstituentRecord{
			{Slug: "algo-homework", Name: "Homework", Module: "algorithms", Weight: 50},
			{Slug: "sys-labs", Name: "Labs", Module: "systems", Weight: 50},
		},
		Items: []snapshot.ItemRecord{
			{Key: "hw-1", Constituent: "algo-homework", Title: "Sorting", Points: 10, DueDate: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
			{Key: "lab-1", Constituent: "sys-labs", Title: "Allocator", Points: 25, DueDate: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)},
		},
		Policies: []snapshot.PolicyRecord{
			{Name: "standard-curve", Version: "v1", Rules: grading.DefaultRules()},
		},
	}
}

func TestSyncServiceInitialApplyCreatesEverything(t *testing.T) {
	db := newServiceDB(t)
	class := seedClass(t, db, "algo-2026")

	svc := NewSyncService(repository.NewClassRepository(db), repository.NewCurriculumRepository(db), nil, "", zerolog.Nop())

	report, err := svc.Apply(context.Background(), class.Slug, baseSnapshot(class.Slug), false)
	require.NoError(t, err)
	require.True(t, report.Success)
	require.NotEmpty(t, report.RunID)
	require.Equal(t, 2, report.Modules.Created)
	require.Equal(t, 2, report.Constituents.Created)
	require.Equal(t, 2, report.Items.Created)
	require.Equal(t, 1, report.Policies.Created)
	require.Zero(t, report.Modules.Updated)
	require.Zero(t, report.Modules.Deactivated)
}

func TestSyncServiceClassifiesNewModifiedAndDeactivated(t *testing.T) {
	db := newServiceDB(t)
	class := seedClass(t, db, "algo-2026")

	curriculum := repository.NewCurriculumRepository(db)
	svc := NewSyncService(repository.NewClassRepository(db), curriculum, nil, "", zerolog.Nop())

	_, err := svc.Apply(context.Background(), class.Slug, baseSnapshot(class.Slug), false)
	require.NoError(t, err)

	next := baseSnapshot(class.Slug)
	// systems disappears, theory is new, algorithms gets a weight change.
	next.Modules = []snapshot.ModuleRecord{
		{Key: "algorithms", Name: "Algorithms", Weight: 45, Order: 1},
		{Key: "theory", Name: "Theory", Weight: 55, Order: 2},
	}
	next.Constituents = []snapshot.ConstituentRecord{
		{Slug: "algo-homework", Name: "Homework", Module: "algorithms", Weight: 50},
		{Slug: "theory-quizzes", Name: "Quizzes", Module: "theory", Weight: 50},
	}
	next.Items = []snapshot.ItemRecord{
		{Key: "hw-1", Constituent: "algo-homework", Title: "Sorting", Points: 10, DueDate: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		{Key: "quiz-1", Constituent: "theory-quizzes", Title: "Automata", Points: 5, DueDate: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
	}

	report, err := svc.Apply(context.Background(), class.Slug, next, false)
	require.NoError(t, err)
	require.True(t, report.Success)

	require.Equal(t, 1, report.Modules.Created)
	require.Equal(t, 1, report.Modules.Updated)
	require.Equal(t, 1, report.Modules.Deactivated)
	require.Zero(t, report.Modules.Unchanged)

	require.Equal(t, 1, report.Items.Created)
	require.Equal(t, 1, report.Items.Unchanged)
	require.Equal(t, 1, report.Items.Deactivated)

	// The deactivated module survives as a retired row, not a deletion.
	var retired models.Module
	require.NoError(t, db.Where("class_id = ? AND key = ?", class.ID, "systems").First(&retired).Error)
	require.False(t, retired.IsCurrent)

	current, err := curriculum.ListCurrentModules(context.Background(), class.ID)
	require.NoError(t, err)
	require.Len(t, current, 2)
}

func TestSyncServiceNormalizationAvoidsFalseModified(t *testing.T) {
	db := newServiceDB(t)
	class := seedClass(t, db, "algo-2026")

	svc := NewSyncService(repository.NewClassRepository(db), repository.NewCurriculumRepository(db), nil, "", zerolog.Nop())

	_, err := svc.Apply(context.Background(), class.Slug, baseSnapshot(class.Slug), false)
	require.NoError(t, err)

	// Same semantics in a different textual shape: a shifted timezone on the
	// due date and an equivalent float spelling of the weight.
	again := baseSnapshot(class.Slug)
	plusTwo := time.FixedZone("plus2", 2*60*60)
	again.Items[0].DueDate = time.Date(2026, 3, 1, 14, 0, 0, 0, plusTwo)
	again.Modules[0].Weight = 40.0000000001

	report, err := svc.Apply(context.Background(), class.Slug, again, false)
	require.NoError(t, err)
	require.Zero(t, report.Modules.Updated)
	require.Zero(t, report.Items.Updated)
	require.Zero(t, report.Policies.Updated)
	require.Equal(t, 2, report.Modules.Unchanged)
	require.Equal(t, 2, report.Items.Unchanged)
	require.Equal(t, 1, report.Policies.Unchanged)
}

func TestSyncServiceForceSkipsClassification(t *testing.T) {
	db := newServiceDB(t)
	class := seedClass(t, db, "algo-2026")

	curriculum := repository.NewCurriculumRepository(db)
	svc := NewSyncService(repository.NewClassRepository(db), curriculum, nil, "", zerolog.Nop())

	_, err := svc.Apply(context.Background(), class.Slug, baseSnapshot(class.Slug), false)
	require.NoError(t, err)

	report, err := svc.Apply(context.Background(), class.Slug, baseSnapshot(class.Slug), true)
	require.NoError(t, err)
	require.True(t, report.Force)
	require.Zero(t, report.Modules.Created)
	require.Zero(t, report.Modules.Updated)
	require.Zero(t, report.Modules.Unchanged)

	// The rows still get rewritten.
	current, err := curriculum.ListCurrentModules(context.Background(), class.ID)
	require.NoError(t, err)
	require.Len(t, current, 2)
}

func TestSyncServiceRejectsMismatchedClass(t *testing.T) {
	db := newServiceDB(t)
	seedClass(t, db, "algo-2026")

	svc := NewSyncService(repository.NewClassRepository(db), repository.NewCurriculumRepository(db), nil, "", zerolog.Nop())

	_, err := svc.Apply(context.Background(), "algo-2026", baseSnapshot("other-class"), false)
	require.Error(t, err)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestSyncServiceUnknownClass(t *testing.T) {
	db := newServiceDB(t)

	svc := NewSyncService(repository.NewClassRepository(db), repository.NewCurriculumRepository(db), nil, "", zerolog.Nop())

	_, err := svc.Apply(context.Background(), "ghost", baseSnapshot("ghost"), false)
	require.Error(t, err)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

type failingItemsRepo struct {
	repository.CurriculumRepository
}

func (r failingItemsRepo) ReplaceItems(ctx context.Context, classID uint, rows []models.Item) error {
	return fmt.Errorf("storage briefly unavailable")
}

func TestSyncServicePartialFailureKeepsCommittedTypes(t *testing.T) {
	db := newServiceDB(t)
	class := seedClass(t, db, "algo-2026")

	curriculum := repository.NewCurriculumRepository(db)
	svc := NewSyncService(repository.NewClassRepository(db), failingItemsRepo{curriculum}, nil, "", zerolog.Nop())

	report, err := svc.Apply(context.Background(), class.Slug, baseSnapshot(class.Slug), false)
	require.Error(t, err)
	require.Equal(t, apperr.KindIntegrity, apperr.KindOf(err))
	require.False(t, report.Success)
	require.True(t, report.Items.Failed())
	require.False(t, report.Modules.Failed())
	require.Equal(t, []string{"items"}, report.FailedTypes())

	// Modules and constituents committed before the items failure stay applied.
	modules, listErr := curriculum.ListCurrentModules(context.Background(), class.ID)
	require.NoError(t, listErr)
	require.Len(t, modules, 2)

	items, listErr := curriculum.ListCurrentItems(context.Background(), class.ID)
	require.NoError(t, listErr)
	require.Empty(t, items)
}
