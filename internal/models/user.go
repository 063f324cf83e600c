// Package models contains the persistent domain types and the API error envelope.
package models

import (
	"time"

	"gorm.io/gorm"
)

// Role is a user's global role.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleUser:
		return true
	}
	return false
}

// AccountStatus is the account lifecycle state.
type AccountStatus string

const (
	StatusPending   AccountStatus = "pending"
	StatusActive    AccountStatus = "active"
	StatusSuspended AccountStatus = "suspended"
	StatusBanned    AccountStatus = "banned"
	// StatusDeleted is never stored in the status column; deleted users are
	// soft-deleted rows. It only appears in state-change events.
	StatusDeleted AccountStatus = "deleted"
)

// OnlineStatus is the presence state shown to other users.
type OnlineStatus string

const (
	OnlineStatusOnline  OnlineStatus = "online"
	OnlineStatusAway    OnlineStatus = "away"
	OnlineStatusOffline OnlineStatus = "offline"
)

// Valid reports whether s is a known presence state.
func (s OnlineStatus) Valid() bool {
	switch s {
	case OnlineStatusOnline, OnlineStatusAway, OnlineStatusOffline:
		return true
	}
	return false
}

// User is an account on the platform.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Username     string         `gorm:"size:150;uniqueIndex;not null" json:"username"`
	Email        string         `gorm:"size:254;uniqueIndex;not null" json:"email"`
	Password     string         `gorm:"not null" json:"-"`
	FirstName    string         `gorm:"size:150" json:"first_name"`
	LastName     string         `gorm:"size:150" json:"last_name"`
	Bio          string         `gorm:"size:500" json:"bio"`
	Avatar       string         `json:"avatar"`
	Role         Role           `gorm:"size:16;not null;default:user;index" json:"role"`
	IsStaff      bool           `gorm:"not null;default:false" json:"is_staff"`
	Status       AccountStatus  `gorm:"size:16;not null;default:pending;index" json:"status"`
	IsActive     bool           `gorm:"not null" json:"is_active"`
	OnlineStatus OnlineStatus   `gorm:"size:16;not null;default:offline;index" json:"online_status"`
	LastSeen     *time.Time     `json:"last_seen,omitempty"`
	TokenVersion int            `gorm:"not null;default:0" json:"-"`
	MessageCount int64          `gorm:"not null;default:0" json:"message_count"`
	ReportCount  int64          `gorm:"not null;default:0" json:"report_count"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// Normalize enforces the cross-field invariants before a write.
func (u *User) Normalize() {
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Status == "" {
		u.Status = StatusPending
	}
	if u.OnlineStatus == "" {
		u.OnlineStatus = OnlineStatusOffline
	}
	if u.Role == RoleAdmin {
		u.IsStaff = true
	}
	if u.Status == StatusBanned {
		u.IsActive = false
	}
}

// IsAdmin uses the strict rule: only role=admin counts.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// IsLive reports whether the account may authenticate and appear online.
func (u *User) IsLive() bool {
	return u != nil && u.IsActive && u.Status == StatusActive
}

// PublicUser is the shape other users see.
type PublicUser struct {
	ID           uint         `json:"id"`
	Username     string       `json:"username"`
	FirstName    string       `json:"first_name"`
	LastName     string       `json:"last_name"`
	Avatar       string       `json:"avatar"`
	OnlineStatus OnlineStatus `json:"online_status"`
	LastSeen     *time.Time   `json:"last_seen,omitempty"`
}

// Public returns the publicly visible projection of the user.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:           u.ID,
		Username:     u.Username,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Avatar:       u.Avatar,
		OnlineStatus: u.OnlineStatus,
		LastSeen:     u.LastSeen,
	}
}
