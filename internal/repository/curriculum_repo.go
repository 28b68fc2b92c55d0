package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/aula-go-api/internal/models"
)

// CurriculumRepository exposes the live curriculum generation for one class
// and the two-phase replace primitive the synchronizer builds on. All reads
// filter on is_current; all writes stay inside the class scope.
type CurriculumRepository interface {
	ListCurrentModules(ctx context.Context, classID uint) ([]models.Module, error)
	ListCurrentConstituents(ctx context.Context, classID uint) ([]models.Constituent, error)
	ListCurrentItems(ctx context.Context, classID uint) ([]models.Item, error)
	ListCurrentPolicies(ctx context.Context, classID uint) ([]models.GradingPolicy, error)
	GetCurrentItem(ctx context.Context, classID, itemID uint) (models.Item, error)
	ReplaceModules(ctx context.Context, classID uint, rows []models.Module) error
	ReplaceConstituents(ctx context.Context, classID uint, rows []models.Constituent) error
	ReplaceItems(ctx context.Context, classID uint, rows []models.Item) error
	ReplacePolicies(ctx context.Context, classID uint, rows []models.GradingPolicy) error
}

type curriculumRepository struct {
	db *gorm.DB
}

// NewCurriculumRepository instantiates the repository.
func NewCurriculumRepository(db *gorm.DB) CurriculumRepository {
	return &curriculumRepository{db: db}
}

func (r *curriculumRepository) ListCurrentModules(ctx context.Context, classID uint) ([]models.Module, error) {
	var rows []models.Module
	err := r.db.WithContext(ctx).
		Where("class_id = ? AND is_current = ?", classID, true).
		Order("order_index ASC").
		Find(&rows).Error
	return rows, err
}

func (r *curriculumRepository) ListCurrentConstituents(ctx context.Context, classID uint) ([]models.Constituent, error) {
	var rows []models.Constituent
	err := r.db.WithContext(ctx).
		Where("class_id = ? AND is_current = ?", classID, true).
		Order("slug ASC").
		Find(&rows).Error
	return rows, err
}

func (r *curriculumRepository) ListCurrentItems(ctx context.Context, classID uint) ([]models.Item, error) {
	var rows []models.Item
	err := r.db.WithContext(ctx).
		Where("class_id = ? AND is_current = ?", classID, true).
		Order("key ASC").
		Find(&rows).Error
	return rows, err
}

func (r *curriculumRepository) ListCurrentPolicies(ctx context.Context, classID uint) ([]models.GradingPolicy, error) {
	var rows []models.GradingPolicy
	err := r.db.WithContext(ctx).
		Where("class_id = ? AND is_current = ?", classID, true).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (r *curriculumRepository) GetCurrentItem(ctx context.Context, classID, itemID uint) (models.Item, error) {
	var item models.Item
	err := r.db.WithContext(ctx).
		Where("id = ? AND class_id = ? AND is_current = ?", itemID, classID, true).
		First(&item).Error
	if err != nil {
		return models.Item{}, err
	}
	return item, nil
}

// Two-phase apply, one transaction per entity type: deactivate the whole
// current generation in scope, then upsert the authoritative rows as current
// keyed by their natural identifier. Snapshot-isolated readers never see two
// generations current at once; the zero-current window stays inside the
// transaction. Upserts are keyed, so re-running an apply is idempotent.

func (r *curriculumRepository) ReplaceModules(ctx context.Context, classID uint, rows []models.Module) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deactivate(tx, &models.Module{}, classID); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "class_id"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "description", "weight", "order_index", "color", "icon", "is_current", "updated_at",
			}),
		}).Create(&rows).Error
	})
}

func (r *curriculumRepository) ReplaceConstituents(ctx context.Context, classID uint, rows []models.Constituent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deactivate(tx, &models.Constituent{}, classID); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "class_id"}, {Name: "slug"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "description", "module_key", "weight", "type", "max_attempts", "is_current", "updated_at",
			}),
		}).Create(&rows).Error
	})
}

func (r *curriculumRepository) ReplaceItems(ctx context.Context, classID uint, rows []models.Item) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deactivate(tx, &models.Item{}, classID); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "class_id"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"constituent_slug", "title", "points", "delivery_type", "due_date", "is_active", "is_current", "updated_at",
			}),
		}).Create(&rows).Error
	})
}

func (r *curriculumRepository) ReplacePolicies(ctx context.Context, classID uint, rows []models.GradingPolicy) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deactivate(tx, &models.GradingPolicy{}, classID); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "class_id"}, {Name: "module_key"}, {Name: "version"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"policy_name", "rules", "is_active", "is_current", "updated_at",
			}),
		}).Create(&rows).Error
	})
}

func deactivate(tx *gorm.DB, model interface{}, classID uint) error {
	return tx.Model(model).
		Where("class_id = ? AND is_current = ?", classID, true).
		Update("is_current", false).Error
}
