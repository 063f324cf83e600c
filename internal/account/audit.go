package account

import (
	"context"
	"encoding/json"
	"time"

	"huddle/internal/models"
	"huddle/internal/repository"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audit action types written by account and moderation flows.
const (
	AuditUserApproved      = "user_approved"
	AuditUserSuspended     = "user_suspended"
	AuditUserBanned        = "user_banned"
	AuditUserActivated     = "user_activated"
	AuditSuspensionExpired = "suspension_expired"
	AuditUserDeleted       = "user_deleted"
	AuditUserRestored      = "user_restored"
	AuditUserPurged        = "user_purged"
	AuditForceLogout       = "user_force_logout"
	AuditUserWarned        = "user_warned"
	AuditMessageDeleted    = "message_deleted"
	AuditModeratorUpdated  = "moderator_updated"
)

// AuditEntry describes one audit event before it is stamped and stored.
type AuditEntry struct {
	ActorID     *uint
	Action      string
	TargetType  string
	TargetRef   string
	Description string
	Severity    models.Severity
	Metadata    map[string]interface{}
}

// RecordAudit appends an audit event through db, normally the caller's
// transaction, so a failed write rolls the whole change back.
func RecordAudit(ctx context.Context, db *gorm.DB, at time.Time, e AuditEntry) error {
	ev := &models.AuditEvent{
		ActorID:     e.ActorID,
		ActionType:  e.Action,
		TargetType:  e.TargetType,
		TargetRef:   e.TargetRef,
		Description: e.Description,
		Severity:    e.Severity,
		Timestamp:   at,
	}
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return models.NewInternalError(err)
		}
		ev.Metadata = datatypes.JSON(raw)
	}
	return repository.NewAuditRepository(db).Create(ctx, ev)
}
