package moderation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"huddle/internal/account"
	"huddle/internal/events"
	"huddle/internal/models"
	"huddle/internal/observability"
	"huddle/internal/repository"
	"huddle/internal/validation"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// Coordinator applies compound moderation actions. Every action commits in
// one transaction; session eviction and notifications follow the commit
// through the event bus.
type Coordinator struct {
	db      *gorm.DB
	machine *account.Machine
	policy  *Policy
	bus     *events.Bus
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(db *gorm.DB, machine *account.Machine, policy *Policy, bus *events.Bus) *Coordinator {
	if policy == nil {
		policy = NewPolicy(nil)
	}
	return &Coordinator{db: db, machine: machine, policy: policy, bus: bus}
}

// Actor resolves the effective permissions of user.
func (c *Coordinator) Actor(ctx context.Context, user *models.User) (Actor, error) {
	var profile *models.ModeratorProfile
	if user.Role == models.RoleModerator {
		var err error
		profile, err = repository.NewModerationRepository(c.db).GetProfile(ctx, user.ID)
		if err != nil {
			return Actor{}, err
		}
	}
	return c.policy.ActorFor(user, profile), nil
}

// CanDeleteMessages adapts the policy for message services that let staff
// remove other users' messages.
func (c *Coordinator) CanDeleteMessages(ctx context.Context, user *models.User) (bool, error) {
	if user.Role != models.RoleAdmin && user.Role != models.RoleModerator {
		return false, nil
	}
	actor, err := c.Actor(ctx, user)
	if err != nil {
		return false, err
	}
	return CanDeleteMessage(actor), nil
}

// Require fails with Forbidden unless user holds perm.
func (c *Coordinator) Require(ctx context.Context, user *models.User, perm Permission) error {
	actor, err := c.Actor(ctx, user)
	if err != nil {
		return err
	}
	if !actor.Has(perm) {
		return models.NewForbiddenError(fmt.Sprintf("Missing permission %s", perm))
	}
	return nil
}

func (c *Coordinator) authorize(ctx context.Context, actor *models.User, targetID uint, action models.ModerationActionType) (*models.User, error) {
	if actor.ID == targetID {
		return nil, models.NewForbiddenError("You cannot moderate your own account")
	}
	a, err := c.Actor(ctx, actor)
	if err != nil {
		return nil, err
	}
	target, err := repository.NewUserRepository(c.db).GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !CanModerateUser(a, target, action) {
		return nil, models.NewForbiddenError(fmt.Sprintf("Not allowed to %s this user", verb(action)))
	}
	return target, nil
}

func verb(action models.ModerationActionType) string {
	switch action {
	case models.ActionWarning:
		return "warn"
	case models.ActionDeleteMessage:
		return "delete messages of"
	}
	return string(action)
}

func checkReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if err := validation.ValidateReason(reason); err != nil {
		return "", models.NewFieldValidationError("reason", err.Error())
	}
	return reason, nil
}

func userRef(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// Warn records a warning and notifies the target.
func (c *Coordinator) Warn(ctx context.Context, actor *models.User, targetID uint, reason string) (action *models.ModerationAction, err error) {
	ctx, span := observability.StartSpan(ctx, "moderation", "warn", attribute.Int("target_id", int(targetID)))
	defer func() { observability.EndSpan(span, err) }()

	if reason, err = checkReason(reason); err != nil {
		return nil, err
	}
	target, err := c.authorize(ctx, actor, targetID, models.ActionWarning)
	if err != nil {
		return nil, err
	}

	now := c.machine.Now()
	action = &models.ModerationAction{
		ModeratorID:  actor.ID,
		Action:       models.ActionWarning,
		TargetUserID: target.ID,
		Reason:       reason,
		CreatedAt:    now,
	}
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewModerationRepository(tx).CreateAction(ctx, action); err != nil {
			return err
		}
		return account.RecordAudit(ctx, tx, now, account.AuditEntry{
			ActorID:     &actor.ID,
			Action:      account.AuditUserWarned,
			TargetType:  "user",
			TargetRef:   userRef(target.ID),
			Description: fmt.Sprintf("%s warned by %s", target.Username, actor.Username),
			Severity:    models.SeverityWarning,
			Metadata:    map[string]interface{}{"reason": reason, "action_id": action.ID},
		})
	})
	if err != nil {
		return nil, err
	}

	observability.ModerationActionsTotal.WithLabelValues(string(models.ActionWarning)).Inc()
	events.Publish(ctx, c.bus, events.UserWarned{UserID: target.ID, ModeratorID: actor.ID, Reason: reason})
	return action, nil
}

// Suspend moves the target to suspended until now+duration. duration uses
// the `\d+[hdw]` form; empty means 24h.
func (c *Coordinator) Suspend(ctx context.Context, actor *models.User, targetID uint, duration, reason string) (action *models.ModerationAction, err error) {
	ctx, span := observability.StartSpan(ctx, "moderation", "suspend", attribute.Int("target_id", int(targetID)))
	defer func() { observability.EndSpan(span, err) }()

	d, norm, err := validation.ParseSuspensionDuration(duration)
	if err != nil {
		return nil, models.NewFieldValidationError("duration", err.Error())
	}
	if reason, err = checkReason(reason); err != nil {
		return nil, err
	}
	target, err := c.authorize(ctx, actor, targetID, models.ActionSuspend)
	if err != nil {
		return nil, err
	}

	now := c.machine.Now()
	expires := now.Add(d)
	var change *account.Change
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		change, err = c.machine.ApplyTx(ctx, tx, account.Request{
			UserID:   target.ID,
			ActorID:  &actor.ID,
			To:       models.StatusSuspended,
			Action:   account.AuditUserSuspended,
			Severity: models.SeverityError,
			Reason:   reason,
			Metadata: map[string]interface{}{"duration": norm, "expires_at": expires},
		})
		if err != nil {
			return err
		}
		action = &models.ModerationAction{
			ModeratorID:  actor.ID,
			Action:       models.ActionSuspend,
			TargetUserID: target.ID,
			Reason:       reason,
			Duration:     norm,
			IsActive:     true,
			CreatedAt:    now,
			ExpiresAt:    &expires,
		}
		return repository.NewModerationRepository(tx).CreateAction(ctx, action)
	})
	if err != nil {
		return nil, err
	}

	observability.ModerationActionsTotal.WithLabelValues(string(models.ActionSuspend)).Inc()
	c.machine.Publish(ctx, change)
	return action, nil
}

// Ban moves the target to banned and invalidates all of their tokens.
// Any active suspension is closed so expiry cannot lift the ban.
func (c *Coordinator) Ban(ctx context.Context, actor *models.User, targetID uint, reason string) (action *models.ModerationAction, err error) {
	ctx, span := observability.StartSpan(ctx, "moderation", "ban", attribute.Int("target_id", int(targetID)))
	defer func() { observability.EndSpan(span, err) }()

	if reason, err = checkReason(reason); err != nil {
		return nil, err
	}
	target, err := c.authorize(ctx, actor, targetID, models.ActionBan)
	if err != nil {
		return nil, err
	}

	now := c.machine.Now()
	var change *account.Change
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		change, err = c.machine.ApplyTx(ctx, tx, account.Request{
			UserID:   target.ID,
			ActorID:  &actor.ID,
			To:       models.StatusBanned,
			Action:   account.AuditUserBanned,
			Severity: models.SeverityCritical,
			Reason:   reason,
		})
		if err != nil {
			return err
		}
		repo := repository.NewModerationRepository(tx)
		if _, err := repo.DeactivateSuspensions(ctx, target.ID); err != nil {
			return err
		}
		action = &models.ModerationAction{
			ModeratorID:  actor.ID,
			Action:       models.ActionBan,
			TargetUserID: target.ID,
			Reason:       reason,
			IsActive:     true,
			CreatedAt:    now,
		}
		return repo.CreateAction(ctx, action)
	})
	if err != nil {
		return nil, err
	}

	observability.ModerationActionsTotal.WithLabelValues(string(models.ActionBan)).Inc()
	c.machine.Publish(ctx, change)
	return action, nil
}

// DeleteMessage soft-deletes a message on behalf of a moderator. Deleting an
// already deleted message is a Conflict.
func (c *Coordinator) DeleteMessage(ctx context.Context, actor *models.User, messageID uuid.UUID, reason string) (action *models.ModerationAction, err error) {
	ctx, span := observability.StartSpan(ctx, "moderation", "delete_message", attribute.String("message_id", messageID.String()))
	defer func() { observability.EndSpan(span, err) }()

	if reason, err = checkReason(reason); err != nil {
		return nil, err
	}
	a, err := c.Actor(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !CanDeleteMessage(a) {
		return nil, models.NewForbiddenError("Not allowed to delete messages")
	}

	now := c.machine.Now()
	var msg *models.Message
	var conv *models.Conversation
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chats := repository.NewChatRepository(tx)
		var err error
		if msg, err = chats.GetMessage(ctx, messageID); err != nil {
			return err
		}
		if conv, err = chats.GetConversation(ctx, msg.ConversationID); err != nil {
			return err
		}
		changed, err := chats.SoftDeleteMessage(ctx, messageID, now)
		if err != nil {
			return err
		}
		if !changed {
			return models.NewConflictError("Message is already deleted")
		}
		action = &models.ModerationAction{
			ModeratorID:  actor.ID,
			Action:       models.ActionDeleteMessage,
			TargetUserID: msg.SenderID,
			TargetRef:    messageID.String(),
			Reason:       reason,
			CreatedAt:    now,
		}
		if err := repository.NewModerationRepository(tx).CreateAction(ctx, action); err != nil {
			return err
		}
		return account.RecordAudit(ctx, tx, now, account.AuditEntry{
			ActorID:     &actor.ID,
			Action:      account.AuditMessageDeleted,
			TargetType:  "message",
			TargetRef:   messageID.String(),
			Description: fmt.Sprintf("message in conversation %d deleted by %s", msg.ConversationID, actor.Username),
			Severity:    models.SeverityWarning,
			Metadata: map[string]interface{}{
				"reason":    reason,
				"sender_id": msg.SenderID,
				"action_id": action.ID,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	observability.ModerationActionsTotal.WithLabelValues(string(models.ActionDeleteMessage)).Inc()
	events.Publish(ctx, c.bus, events.MessageDeleted{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		GroupID:        conv.GroupID,
		ActorID:        actor.ID,
	})
	return action, nil
}

// ExpireSuspensions lifts every suspension whose expiry has passed and
// returns how many accounts were restored. Each suspension is handled in its
// own transaction so one failure does not hold back the rest.
func (c *Coordinator) ExpireSuspensions(ctx context.Context) (int64, error) {
	now := c.machine.Now()
	due, err := repository.NewModerationRepository(c.db).ExpiredSuspensions(ctx, now)
	if err != nil {
		return 0, err
	}

	var restored int64
	var firstErr error
	for i := range due {
		s := due[i]
		var change *account.Change
		err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			ok, err := repository.NewModerationRepository(tx).DeactivateAction(ctx, s.ID)
			if err != nil || !ok {
				return err
			}
			user, err := repository.NewUserRepository(tx).GetByID(ctx, s.TargetUserID)
			if err != nil {
				if errors.Is(err, &models.AppError{Code: models.ErrTypeNotFound}) {
					return nil
				}
				return err
			}
			if user.Status != models.StatusSuspended {
				return nil
			}
			change, err = c.machine.ApplyTx(ctx, tx, account.Request{
				UserID:   user.ID,
				To:       models.StatusActive,
				Action:   account.AuditSuspensionExpired,
				Severity: models.SeverityInfo,
				Metadata: map[string]interface{}{"action_id": s.ID, "expired_at": *s.ExpiresAt},
			})
			return err
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if change != nil {
			restored++
			c.machine.Publish(ctx, change)
		}
	}
	return restored, firstErr
}

// History lists moderation actions against a user, newest first.
func (c *Coordinator) History(ctx context.Context, actor *models.User, targetID uint, limit int) ([]models.ModerationAction, error) {
	if err := c.Require(ctx, actor, PermViewAuditLog); err != nil {
		return nil, err
	}
	return repository.NewModerationRepository(c.db).ListActions(ctx, targetID, limit)
}

// AuditEvents lists audit events for holders of view_audit_log.
func (c *Coordinator) AuditEvents(ctx context.Context, actor *models.User, f repository.AuditFilter) ([]models.AuditEvent, error) {
	if err := c.Require(ctx, actor, PermViewAuditLog); err != nil {
		return nil, err
	}
	return repository.NewAuditRepository(c.db).List(ctx, f)
}

// SetModerator makes target a moderator with the given bundle. Only admins
// may call it, and admins cannot be demoted this way.
func (c *Coordinator) SetModerator(ctx context.Context, admin *models.User, targetID uint, roleType models.ModeratorRoleType, extra []string) (*models.ModeratorProfile, error) {
	if !admin.IsAdmin() {
		return nil, models.NewForbiddenError("Admin privileges required")
	}
	if !roleType.Valid() {
		return nil, models.NewFieldValidationError("role_type", "role_type must be junior, senior or lead")
	}
	perms, err := ParsePermissions(extra)
	if err != nil {
		return nil, models.NewFieldValidationError("extra_permissions", err.Error())
	}
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}

	now := c.machine.Now()
	profile := &models.ModeratorProfile{
		UserID:           targetID,
		RoleType:         roleType,
		ExtraPermissions: strings.Join(names, ","),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		users := repository.NewUserRepository(tx)
		target, err := users.GetByID(ctx, targetID)
		if err != nil {
			return err
		}
		if target.Role == models.RoleAdmin {
			return models.NewConflictError("Admins cannot be given a moderator bundle")
		}
		if !target.IsLive() {
			return models.NewConflictError("Only active accounts can be moderators")
		}
		if err := users.UpdateProfile(ctx, target.ID, map[string]interface{}{
			"role":     models.RoleModerator,
			"is_staff": true,
		}); err != nil {
			return err
		}
		if err := repository.NewModerationRepository(tx).UpsertProfile(ctx, profile); err != nil {
			return err
		}
		return account.RecordAudit(ctx, tx, now, account.AuditEntry{
			ActorID:     &admin.ID,
			Action:      account.AuditModeratorUpdated,
			TargetType:  "user",
			TargetRef:   userRef(target.ID),
			Description: fmt.Sprintf("%s is now a %s moderator", target.Username, roleType),
			Severity:    models.SeverityWarning,
			Metadata:    map[string]interface{}{"role_type": string(roleType), "extra_permissions": names},
		})
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}
