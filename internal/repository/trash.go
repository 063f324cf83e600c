package repository

import (
	"context"
	"time"

	"huddle/internal/models"

	"gorm.io/gorm"
)

// TrashRepository keeps snapshots of deleted entities until they expire.
type TrashRepository interface {
	Create(ctx context.Context, item *models.TrashItem) error
	GetByID(ctx context.Context, id uint) (*models.TrashItem, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.TrashItem, error)
	Delete(ctx context.Context, id uint) error
}

type trashRepository struct {
	db *gorm.DB
}

// NewTrashRepository returns a new TrashRepository implementation.
func NewTrashRepository(db *gorm.DB) TrashRepository {
	return &trashRepository{db: db}
}

func (r *trashRepository) Create(ctx context.Context, item *models.TrashItem) error {
	return wrapWrite(r.db.WithContext(ctx).Create(item).Error)
}

func (r *trashRepository) GetByID(ctx context.Context, id uint) (*models.TrashItem, error) {
	var item models.TrashItem
	if err := r.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, wrapFind(err, "Trash item", id)
	}
	return &item, nil
}

func (r *trashRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.TrashItem, error) {
	var items []models.TrashItem
	if err := r.db.WithContext(ctx).Where("expires_at <= ?", now).
		Order("expires_at").Limit(clampLimit(limit, 100, 1000)).
		Find(&items).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return items, nil
}

func (r *trashRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&models.TrashItem{}, id).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}
