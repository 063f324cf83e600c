package repository

import (
	"context"
	"errors"
	"time"

	"huddle/internal/models"

	"gorm.io/gorm"
)

// GroupRepository defines persistence operations for groups and memberships.
type GroupRepository interface {
	Create(ctx context.Context, g *models.Group) error
	GetByID(ctx context.Context, id uint) (*models.Group, error)
	ListPublic(ctx context.Context, limit, offset int) ([]models.Group, error)
	SoftDelete(ctx context.Context, id uint) error
	TouchActivity(ctx context.Context, id uint, at time.Time) error

	GetMember(ctx context.Context, groupID, userID uint) (*models.GroupMember, error)
	SaveMember(ctx context.Context, m *models.GroupMember) error
	SetMemberStatus(ctx context.Context, groupID, userID uint, status models.MemberStatus) error
	SetMemberRole(ctx context.Context, groupID, userID uint, role models.GroupRole) error
	ListMembers(ctx context.Context, groupID uint) ([]models.GroupMember, error)
	CountOwners(ctx context.Context, groupID uint) (int64, error)
}

type groupRepository struct {
	db *gorm.DB
}

// NewGroupRepository returns a new GroupRepository implementation.
func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &groupRepository{db: db}
}

func (r *groupRepository) Create(ctx context.Context, g *models.Group) error {
	if err := r.db.WithContext(ctx).Create(g).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewConflictError("A group with this name already exists")
		}
		return models.NewInternalError(err)
	}
	return nil
}

// GetByID treats deleted groups as missing.
func (r *groupRepository) GetByID(ctx context.Context, id uint) (*models.Group, error) {
	var g models.Group
	if err := r.db.WithContext(ctx).Where("is_deleted = ?", false).First(&g, id).Error; err != nil {
		return nil, wrapFind(err, "Group", id)
	}
	return &g, nil
}

func (r *groupRepository) ListPublic(ctx context.Context, limit, offset int) ([]models.Group, error) {
	var groups []models.Group
	if err := r.db.WithContext(ctx).
		Where("is_deleted = ? AND visibility = ?", false, models.GroupPublic).
		Order("id").Limit(clampLimit(limit, 50, 200)).Offset(offset).
		Find(&groups).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return groups, nil
}

func (r *groupRepository) SoftDelete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.Group{}).
		Where("id = ? AND is_deleted = ?", id, false).Update("is_deleted", true)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Group", id)
	}
	return nil
}

func (r *groupRepository) TouchActivity(ctx context.Context, id uint, at time.Time) error {
	if err := r.db.WithContext(ctx).Model(&models.Group{}).
		Where("id = ?", id).UpdateColumn("last_activity", at).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// GetMember returns the membership row in any status, or nil.
func (r *groupRepository) GetMember(ctx context.Context, groupID, userID uint) (*models.GroupMember, error) {
	var m models.GroupMember
	err := r.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, userID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &m, nil
}

// SaveMember inserts a membership or overwrites an earlier one for the same user.
func (r *groupRepository) SaveMember(ctx context.Context, m *models.GroupMember) error {
	return wrapWrite(r.db.WithContext(ctx).Save(m).Error)
}

func (r *groupRepository) SetMemberStatus(ctx context.Context, groupID, userID uint, status models.MemberStatus) error {
	res := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Update("status", status)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Group member", userID)
	}
	return nil
}

func (r *groupRepository) SetMemberRole(ctx context.Context, groupID, userID uint, role models.GroupRole) error {
	res := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ? AND status = ?", groupID, userID, models.MemberActive).
		Update("role", role)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Group member", userID)
	}
	return nil
}

func (r *groupRepository) ListMembers(ctx context.Context, groupID uint) ([]models.GroupMember, error) {
	var members []models.GroupMember
	if err := r.db.WithContext(ctx).
		Where("group_id = ? AND status = ?", groupID, models.MemberActive).
		Order("joined_at").Order("id").
		Find(&members).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return members, nil
}

func (r *groupRepository) CountOwners(ctx context.Context, groupID uint) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND role = ? AND status = ?", groupID, models.GroupRoleOwner, models.MemberActive).
		Count(&n).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return n, nil
}
