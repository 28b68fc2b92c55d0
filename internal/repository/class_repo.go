package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/aula-go-api/internal/models"
)

// ClassRepository resolves tenant scope and class membership.
type ClassRepository interface {
	GetBySlug(ctx context.Context, slug string) (models.Class, error)
	GetByID(ctx context.Context, id uint) (models.Class, error)
	GetEnrollment(ctx context.Context, classID, userID uint) (models.Enrollment, error)
}

type classRepository struct {
	db *gorm.DB
}

// NewClassRepository instantiates the repository.
func NewClassRepository(db *gorm.DB) ClassRepository {
	return &classRepository{db: db}
}

func (r *classRepository) GetBySlug(ctx context.Context, slug string) (models.Class, error) {
	var class models.Class
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&class).Error; err != nil {
		return models.Class{}, err
	}
	return class, nil
}

func (r *classRepository) GetByID(ctx context.Context, id uint) (models.Class, error) {
	var class models.Class
	if err := r.db.WithContext(ctx).First(&class, id).Error; err != nil {
		return models.Class{}, err
	}
	return class, nil
}

func (r *classRepository) GetEnrollment(ctx context.Context, classID, userID uint) (models.Enrollment, error) {
	var enrollment models.Enrollment
	err := r.db.WithContext(ctx).
		Where("class_id = ? AND user_id = ?", classID, userID).
		First(&enrollment).Error
	if err != nil {
		return models.Enrollment{}, err
	}
	return enrollment, nil
}
