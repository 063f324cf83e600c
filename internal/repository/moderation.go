package repository

import (
	"context"
	"errors"
	"time"

	"huddle/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ModerationRepository persists moderation actions and moderator bundles.
type ModerationRepository interface {
	CreateAction(ctx context.Context, a *models.ModerationAction) error
	ListActions(ctx context.Context, targetUserID uint, limit int) ([]models.ModerationAction, error)
	ExpiredSuspensions(ctx context.Context, now time.Time) ([]models.ModerationAction, error)
	DeactivateAction(ctx context.Context, id uint) (bool, error)
	DeactivateSuspensions(ctx context.Context, userID uint) (int64, error)
	GetProfile(ctx context.Context, userID uint) (*models.ModeratorProfile, error)
	UpsertProfile(ctx context.Context, p *models.ModeratorProfile) error
}

type moderationRepository struct {
	db *gorm.DB
}

// NewModerationRepository returns a new ModerationRepository implementation.
func NewModerationRepository(db *gorm.DB) ModerationRepository {
	return &moderationRepository{db: db}
}

func (r *moderationRepository) CreateAction(ctx context.Context, a *models.ModerationAction) error {
	return wrapWrite(r.db.WithContext(ctx).Create(a).Error)
}

func (r *moderationRepository) ListActions(ctx context.Context, targetUserID uint, limit int) ([]models.ModerationAction, error) {
	var actions []models.ModerationAction
	if err := r.db.WithContext(ctx).Where("target_user_id = ?", targetUserID).
		Order("created_at DESC").Order("id DESC").
		Limit(clampLimit(limit, 50, 200)).
		Find(&actions).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return actions, nil
}

// ExpiredSuspensions lists active suspensions whose expiry has passed.
func (r *moderationRepository) ExpiredSuspensions(ctx context.Context, now time.Time) ([]models.ModerationAction, error) {
	var actions []models.ModerationAction
	if err := r.db.WithContext(ctx).
		Where("action = ? AND is_active = ? AND expires_at <= ?", models.ActionSuspend, true, now).
		Order("expires_at").Order("id").
		Find(&actions).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return actions, nil
}

// DeactivateAction reports false if another worker already cleared the action.
func (r *moderationRepository) DeactivateAction(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ModerationAction{}).
		Where("id = ? AND is_active = ?", id, true).Update("is_active", false)
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *moderationRepository) DeactivateSuspensions(ctx context.Context, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.ModerationAction{}).
		Where("target_user_id = ? AND action = ? AND is_active = ?", userID, models.ActionSuspend, true).
		Update("is_active", false)
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}

// GetProfile returns nil when the user has no moderator profile.
func (r *moderationRepository) GetProfile(ctx context.Context, userID uint) (*models.ModeratorProfile, error) {
	var p models.ModeratorProfile
	if err := r.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &p, nil
}

func (r *moderationRepository) UpsertProfile(ctx context.Context, p *models.ModeratorProfile) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role_type", "extra_permissions", "updated_at"}),
	}).Create(p).Error
	return wrapWrite(err)
}
