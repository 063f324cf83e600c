package events

import (
	"github.com/google/uuid"

	"huddle/internal/models"
)

// AccountStateChanged fires after an account transition commits.
type AccountStateChanged struct {
	UserID  uint
	ActorID uint
	From    models.AccountStatus
	To      models.AccountStatus
}

// TokenVersionBumped fires after every earlier token of the user became stale.
type TokenVersionBumped struct {
	UserID  uint
	Version int
}

// AccountApproved fires when a pending account is approved.
type AccountApproved struct {
	UserID  uint
	ActorID uint
}

// UserWarned fires after a warning is recorded.
type UserWarned struct {
	UserID      uint
	ModeratorID uint
	Reason      string
}

// MessageDeleted fires after a message is soft-deleted.
type MessageDeleted struct {
	ID             uuid.UUID
	ConversationID uint
	GroupID        *uint
	ActorID        uint
}

// GroupMemberJoined fires after a user becomes an active group member.
type GroupMemberJoined struct {
	GroupID  uint
	UserID   uint
	Username string
}

// GroupMemberLeft fires after a membership ends (left or kicked).
type GroupMemberLeft struct {
	GroupID  uint
	UserID   uint
	Username string
	Status   models.MemberStatus
}
