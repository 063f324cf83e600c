package repository

import (
	"context"
	"time"

	"huddle/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RevocationRepository stores revoked token ids until their natural expiry.
type RevocationRepository interface {
	Create(ctx context.Context, rev *models.TokenRevocation) error
	Exists(ctx context.Context, tokenID string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type revocationRepository struct {
	db *gorm.DB
}

// NewRevocationRepository returns a new RevocationRepository implementation.
func NewRevocationRepository(db *gorm.DB) RevocationRepository {
	return &revocationRepository{db: db}
}

// Create is idempotent per token id.
func (r *revocationRepository) Create(ctx context.Context, rev *models.TokenRevocation) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rev).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *revocationRepository) Exists(ctx context.Context, tokenID string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.TokenRevocation{}).
		Where("token_id = ?", tokenID).Count(&n).Error; err != nil {
		return false, models.NewTransientError(err)
	}
	return n > 0, nil
}

func (r *revocationRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.TokenRevocation{})
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}
