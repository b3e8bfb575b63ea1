package repository

import (
	"context"

	"fetch/internal/models"

	"gorm.io/gorm"
)

// ActivityRepository stores per-account feed rows.
type ActivityRepository interface {
	CreateBatch(ctx context.Context, activities []models.Activity) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.Activity, error)
	WithTx(tx *gorm.DB) ActivityRepository
}

type activityRepository struct {
	db *gorm.DB
}

// NewActivityRepository creates a new activity repository
func NewActivityRepository(db *gorm.DB) ActivityRepository {
	return &activityRepository{db: db}
}

func (r *activityRepository) WithTx(tx *gorm.DB) ActivityRepository {
	return &activityRepository{db: tx}
}

func (r *activityRepository) CreateBatch(ctx context.Context, activities []models.Activity) error {
	if len(activities) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&activities).Error; err != nil {
		return translateError(err)
	}
	return nil
}

func (r *activityRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.Activity, error) {
	var activities []models.Activity
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&activities).Error; err != nil {
		return nil, translateError(err)
	}
	return activities, nil
}
