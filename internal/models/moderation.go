package models

import (
	"time"

	"gorm.io/datatypes"
)

// ModerationActionType names a moderation action.
type ModerationActionType string

const (
	ActionWarning       ModerationActionType = "warning"
	ActionSuspend       ModerationActionType = "suspend"
	ActionBan           ModerationActionType = "ban"
	ActionDeleteMessage ModerationActionType = "delete_message"
)

// ModerationAction records one moderation decision. Suspensions carry ExpiresAt
// and stay active until the expiry sweeper or an admin clears them.
type ModerationAction struct {
	ID           uint                 `gorm:"primaryKey" json:"id"`
	ModeratorID  uint                 `gorm:"not null;index" json:"moderator_id"`
	Action       ModerationActionType `gorm:"size:32;not null;index:idx_moderation_active,priority:1" json:"action"`
	TargetUserID uint                 `gorm:"not null;index" json:"target_user_id"`
	TargetRef    string               `gorm:"size:64" json:"target_ref,omitempty"`
	Reason       string               `gorm:"type:text" json:"reason"`
	Duration     string               `gorm:"size:16" json:"duration,omitempty"`
	IsActive     bool                 `gorm:"not null;default:false;index:idx_moderation_active,priority:2" json:"is_active"`
	CreatedAt    time.Time            `json:"created_at"`
	ExpiresAt    *time.Time           `gorm:"index:idx_moderation_active,priority:3" json:"expires_at,omitempty"`
}

// ModeratorRoleType selects a moderator's permission bundle.
type ModeratorRoleType string

const (
	ModeratorJunior ModeratorRoleType = "junior"
	ModeratorSenior ModeratorRoleType = "senior"
	ModeratorLead   ModeratorRoleType = "lead"
)

// Valid reports whether t is a known bundle.
func (t ModeratorRoleType) Valid() bool {
	switch t {
	case ModeratorJunior, ModeratorSenior, ModeratorLead:
		return true
	}
	return false
}

// ModeratorProfile holds the bundle for a user with role=moderator.
// ExtraPermissions is a comma-separated list granted on top of the bundle.
type ModeratorProfile struct {
	UserID           uint              `gorm:"primaryKey" json:"user_id"`
	RoleType         ModeratorRoleType `gorm:"size:16;not null;default:junior" json:"role_type"`
	ExtraPermissions string            `gorm:"size:255" json:"extra_permissions,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Severity grades an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// AuditEvent is an append-only record of a sensitive action.
type AuditEvent struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	ActorID     *uint          `gorm:"index" json:"actor_id,omitempty"`
	ActionType  string         `gorm:"size:64;not null;index" json:"action_type"`
	TargetType  string         `gorm:"size:32;not null" json:"target_type"`
	TargetRef   string         `gorm:"size:64;index" json:"target_ref"`
	Description string         `gorm:"type:text" json:"description"`
	Severity    Severity       `gorm:"size:16;not null;index" json:"severity"`
	Timestamp   time.Time      `gorm:"not null;index" json:"timestamp"`
	Metadata    datatypes.JSON `json:"metadata,omitempty"`
}

// TokenKind distinguishes access from refresh tokens.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// TokenRevocation marks a token id as unusable until it would have expired anyway.
type TokenRevocation struct {
	TokenID   string    `gorm:"primaryKey;size:64" json:"token_id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	TokenType TokenKind `gorm:"size:16;not null" json:"token_type"`
	RevokedAt time.Time `gorm:"not null" json:"revoked_at"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
}

// TrashItem keeps a serialized snapshot of a deleted entity until ExpiresAt.
type TrashItem struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	EntityType string         `gorm:"size:32;not null;index:idx_trash_entity,priority:1" json:"entity_type"`
	EntityID   uint           `gorm:"not null;index:idx_trash_entity,priority:2" json:"entity_id"`
	Snapshot   datatypes.JSON `gorm:"not null" json:"snapshot"`
	DeletedBy  uint           `gorm:"not null" json:"deleted_by"`
	DeletedAt  time.Time      `gorm:"not null" json:"deleted_at"`
	ExpiresAt  time.Time      `gorm:"not null;index" json:"expires_at"`
}
