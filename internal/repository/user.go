// Package repository implements the data access layer for the application.
package repository

import (
	"context"
	"errors"
	"time"

	"huddle/internal/cache"
	"huddle/internal/models"

	"gorm.io/gorm"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetDeleted(ctx context.Context, id uint) (*models.User, error)
	GetPublic(ctx context.Context, id uint) (*models.PublicUser, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByLogin(ctx context.Context, login string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateProfile(ctx context.Context, id uint, fields map[string]interface{}) error
	TransitionStatus(ctx context.Context, id uint, from, to models.AccountStatus, isActive bool) (bool, error)
	BumpTokenVersion(ctx context.Context, id uint) (int, error)
	IncrementMessageCount(ctx context.Context, id uint) error
	SetPresence(ctx context.Context, id uint, status models.OnlineStatus, lastSeen time.Time) error
	SoftDelete(ctx context.Context, id uint) error
	Restore(ctx context.Context, id uint) error
	HardDelete(ctx context.Context, id uint) error
	List(ctx context.Context, limit, offset int) ([]models.User, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// GetByID always reads the row; auth state is never served from cache.
func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, wrapFind(err, "User", id)
	}
	return &user, nil
}

func (r *userRepository) GetDeleted(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Unscoped().
		Where("id = ? AND deleted_at IS NOT NULL", id).
		First(&user).Error; err != nil {
		return nil, wrapFind(err, "Deleted user", id)
	}
	return &user, nil
}

func (r *userRepository) GetPublic(ctx context.Context, id uint) (*models.PublicUser, error) {
	var pub models.PublicUser
	err := cache.Aside(ctx, cache.PublicUserKey(id), &pub, cache.PublicUserTTL, func() error {
		user, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		pub = user.Public()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &pub, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("LOWER(email) = LOWER(?)", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

// GetByLogin resolves either a username or an email address.
func (r *userRepository) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	user, err := r.GetByUsername(ctx, login)
	if err != nil || user != nil {
		return user, err
	}
	return r.GetByEmail(ctx, login)
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	user.Normalize()
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewConflictError("User already exists")
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", id)
	}
	cache.InvalidateUser(ctx, id)
	return nil
}

// TransitionStatus moves the account from one status to another only if it is
// still in from. The boolean reports whether the row changed.
func (r *userRepository) TransitionStatus(ctx context.Context, id uint, from, to models.AccountStatus, isActive bool) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{"status": to, "is_active": isActive})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *userRepository) BumpTokenVersion(ctx context.Context, id uint) (int, error) {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		UpdateColumn("token_version", gorm.Expr("token_version + ?", 1))
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, models.NewNotFoundError("User", id)
	}
	var version int
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Pluck("token_version", &version).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return version, nil
}

func (r *userRepository) IncrementMessageCount(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		UpdateColumn("message_count", gorm.Expr("message_count + ?", 1)).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *userRepository) SetPresence(ctx context.Context, id uint, status models.OnlineStatus, lastSeen time.Time) error {
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		UpdateColumns(map[string]interface{}{"online_status": status, "last_seen": lastSeen}).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *userRepository) SoftDelete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.User{}, id)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", id)
	}
	cache.InvalidateUser(ctx, id)
	return nil
}

func (r *userRepository) Restore(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Unscoped().Model(&models.User{}).
		Where("id = ? AND deleted_at IS NOT NULL", id).
		Update("deleted_at", nil)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Deleted user", id)
	}
	return nil
}

func (r *userRepository) HardDelete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Unscoped().Delete(&models.User{}, id).Error; err != nil {
		return models.NewInternalError(err)
	}
	cache.InvalidateUser(ctx, id)
	return nil
}

func (r *userRepository) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).Order("id").
		Limit(clampLimit(limit, 50, 200)).Offset(offset).
		Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}
