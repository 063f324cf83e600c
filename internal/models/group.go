package models

import "time"

// GroupVisibility controls whether anyone may join a group.
type GroupVisibility string

const (
	GroupPublic  GroupVisibility = "public"
	GroupPrivate GroupVisibility = "private"
)

// Group is a named multi-user room backed by one group conversation.
type Group struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Name         string          `gorm:"size:100;uniqueIndex;not null" json:"name"`
	Description  string          `gorm:"size:500" json:"description"`
	Visibility   GroupVisibility `gorm:"size:16;not null;default:public" json:"visibility"`
	CreatedBy    uint            `gorm:"not null;index" json:"created_by"`
	LastActivity *time.Time      `json:"last_activity,omitempty"`
	IsDeleted    bool            `gorm:"not null;default:false;index" json:"is_deleted"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// GroupRole is a member's role within one group.
type GroupRole string

const (
	GroupRoleOwner     GroupRole = "owner"
	GroupRoleAdmin     GroupRole = "admin"
	GroupRoleModerator GroupRole = "moderator"
	GroupRoleMember    GroupRole = "member"
)

// Valid reports whether r is a known group role.
func (r GroupRole) Valid() bool {
	switch r {
	case GroupRoleOwner, GroupRoleAdmin, GroupRoleModerator, GroupRoleMember:
		return true
	}
	return false
}

// CanManageMembers reports whether the role may add, remove or re-role members.
func (r GroupRole) CanManageMembers() bool {
	return r == GroupRoleOwner || r == GroupRoleAdmin
}

// MemberStatus is the lifecycle of a group membership.
type MemberStatus string

const (
	MemberActive MemberStatus = "active"
	MemberLeft   MemberStatus = "left"
	MemberKicked MemberStatus = "kicked"
	MemberBanned MemberStatus = "banned"
)

// GroupMember is one user's membership in a group.
type GroupMember struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	GroupID     uint         `gorm:"not null;uniqueIndex:idx_group_members_group_user,priority:1" json:"group_id"`
	UserID      uint         `gorm:"not null;uniqueIndex:idx_group_members_group_user,priority:2;index" json:"user_id"`
	Role        GroupRole    `gorm:"size:16;not null;default:member" json:"role"`
	Status      MemberStatus `gorm:"size:16;not null;default:active;index" json:"status"`
	JoinedAt    time.Time    `gorm:"not null" json:"joined_at"`
	LastReadAt  *time.Time   `json:"last_read_at,omitempty"`
	UnreadCount int          `gorm:"not null;default:0" json:"unread_count"`
}
