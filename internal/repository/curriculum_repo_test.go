package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/aula-go-api/internal/models"
)

func setupEngineTestDB(t *testing.T, entities ...interface{}) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(entities...))
	return db
}

func currentModuleKeys(t *testing.T, repo CurriculumRepository, classID uint) []string {
	t.Helper()
	rows, err := repo.ListCurrentModules(context.Background(), classID)
	require.NoError(t, err)
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row.Key)
	}
	return keys
}

func TestCurriculumRepositoryReplaceModulesTwoPhase(t *testing.T) {
	db := setupEngineTestDB(t, &models.Module{})
	repo := NewCurriculumRepository(db)
	ctx := context.Background()

	// Persisted current generation {A, C}.
	require.NoError(t, repo.ReplaceModules(ctx, 1, []models.Module{
		{ClassID: 1, Key: "A", Name: "Alpha", Weight: 40, OrderIndex: 1, IsCurrent: true},
		{ClassID: 1, Key: "C", Name: "Gamma", Weight: 60, OrderIndex: 2, IsCurrent: true},
	}))

	// Authoritative set {A, B}: C must drop out, B must appear, A stays.
	require.NoError(t, repo.ReplaceModules(ctx, 1, []models.Module{
		{ClassID: 1, Key: "A", Name: "Alpha", Weight: 40, OrderIndex: 1, IsCurrent: true},
		{ClassID: 1, Key: "B", Name: "Beta", Weight: 60, OrderIndex: 2, IsCurrent: true},
	}))

	require.Equal(t, []string{"A", "B"}, currentModuleKeys(t, repo, 1))

	// C is deactivated, not deleted.
	var total int64
	require.NoError(t, db.Model(&models.Module{}).Count(&total).Error)
	require.Equal(t, int64(3), total)

	var retired models.Module
	require.NoError(t, db.Where("key = ?", "C").First(&retired).Error)
	require.False(t, retired.IsCurrent)
}

func TestCurriculumRepositoryReplaceIsIdempotent(t *testing.T) {
	db := setupEngineTestDB(t, &models.Module{})
	repo := NewCurriculumRepository(db)
	ctx := context.Background()

	rows := []models.Module{
		{ClassID: 1, Key: "A", Name: "Alpha", Weight: 50, OrderIndex: 1, IsCurrent: true},
		{ClassID: 1, Key: "B", Name: "Beta", Weight: 50, OrderIndex: 2, IsCurrent: true},
	}

	require.NoError(t, repo.ReplaceModules(ctx, 1, append([]models.Module{}, rows...)))
	require.NoError(t, repo.ReplaceModules(ctx, 1, append([]models.Module{}, rows...)))

	require.Equal(t, []string{"A", "B"}, currentModuleKeys(t, repo, 1))

	var total int64
	require.NoError(t, db.Model(&models.Module{}).Count(&total).Error)
	require.Equal(t, int64(2), total, "keyed upserts must not duplicate rows")
}

func TestCurriculumRepositoryReplaceStaysInClassScope(t *testing.T) {
	db := setupEngineTestDB(t, &models.Module{})
	repo := NewCurriculumRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.ReplaceModules(ctx, 1, []models.Module{
		{ClassID: 1, Key: "A", Name: "Alpha", Weight: 100, OrderIndex: 1, IsCurrent: true},
	}))
	require.NoError(t, repo.ReplaceModules(ctx, 2, []models.Module{
		{ClassID: 2, Key: "A", Name: "Other Alpha", Weight: 100, OrderIndex: 1, IsCurrent: true},
	}))

	// Emptying class 2 must not touch class 1.
	require.NoError(t, repo.ReplaceModules(ctx, 2, nil))

	require.Equal(t, []string{"A"}, currentModuleKeys(t, repo, 1))
	require.Empty(t, currentModuleKeys(t, repo, 2))
}

func TestCurriculumRepositoryReplaceItemsUpdatesFields(t *testing.T) {
	db := setupEngineTestDB(t, &models.Item{})
	repo := NewCurriculumRepository(db)
	ctx := context.Background()
	due := time.Date(2026, 9, 15, 23, 59, 0, 0, time.UTC)

	require.NoError(t, repo.ReplaceItems(ctx, 1, []models.Item{
		{ClassID: 1, Key: "hw1", ConstituentSlug: "homework", Title: "HW 1", Points: 20, DeliveryType: "upload", DueDate: due, IsActive: true, IsCurrent: true},
	}))

	var original models.Item
	require.NoError(t, db.Where("key = ?", "hw1").First(&original).Error)

	require.NoError(t, repo.ReplaceItems(ctx, 1, []models.Item{
		{ClassID: 1, Key: "hw1", ConstituentSlug: "homework", Title: "HW 1 (revised)", Points: 25, DeliveryType: "upload", DueDate: due.Add(48 * time.Hour), IsActive: true, IsCurrent: true},
	}))

	items, err := repo.ListCurrentItems(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, original.ID, items[0].ID, "upsert must keep the surrogate id stable for submissions")
	require.Equal(t, "HW 1 (revised)", items[0].Title)
	require.Equal(t, 25.0, items[0].Points)
}

func TestCurriculumRepositoryReplacePoliciesKeyedByScopeAndVersion(t *testing.T) {
	db := setupEngineTestDB(t, &models.GradingPolicy{})
	repo := NewCurriculumRepository(db)
	ctx := context.Background()

	rows := []models.GradingPolicy{
		{ClassID: 1, ModuleKey: "", PolicyName: "default", Version: "1", Rules: []byte(`[]`), IsActive: true, IsCurrent: true},
		{ClassID: 1, ModuleKey: "A", PolicyName: "strict", Version: "1", Rules: []byte(`[]`), IsActive: true, IsCurrent: true},
	}

	require.NoError(t, repo.ReplacePolicies(ctx, 1, append([]models.GradingPolicy{}, rows...)))
	require.NoError(t, repo.ReplacePolicies(ctx, 1, append([]models.GradingPolicy{}, rows...)))

	policies, err := repo.ListCurrentPolicies(ctx, 1)
	require.NoError(t, err)
	require.Len(t, policies, 2)
}

func TestCurriculumRepositoryGetCurrentItemIgnoresRetiredRows(t *testing.T) {
	db := setupEngineTestDB(t, &models.Item{})
	repo := NewCurriculumRepository(db)
	ctx := context.Background()
	due := time.Now().Add(24 * time.Hour)

	require.NoError(t, repo.ReplaceItems(ctx, 1, []models.Item{
		{ClassID: 1, Key: "hw1", ConstituentSlug: "homework", Title: "HW 1", Points: 10, DeliveryType: "upload", DueDate: due, IsActive: true, IsCurrent: true},
	}))

	var stored models.Item
	require.NoError(t, db.Where("key = ?", "hw1").First(&stored).Error)

	_, err := repo.GetCurrentItem(ctx, 1, stored.ID)
	require.NoError(t, err)

	// Retire the generation; the item must stop resolving as current.
	require.NoError(t, repo.ReplaceItems(ctx, 1, nil))
	_, err = repo.GetCurrentItem(ctx, 1, stored.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
