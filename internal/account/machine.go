// Package account implements the account lifecycle: approval, suspension,
// bans, reactivation and deletion to trash.
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"huddle/internal/auth"
	"huddle/internal/events"
	"huddle/internal/models"
	"huddle/internal/observability"
	"huddle/internal/repository"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultTrashTTL is how long a deleted account can be restored.
const DefaultTrashTTL = 30 * 24 * time.Hour

var allowed = map[models.AccountStatus][]models.AccountStatus{
	models.StatusPending:   {models.StatusActive},
	models.StatusActive:    {models.StatusSuspended, models.StatusBanned, models.StatusDeleted},
	models.StatusSuspended: {models.StatusBanned, models.StatusActive},
	models.StatusBanned:    {models.StatusActive},
}

// CanTransition reports whether from → to is a legal account transition.
func CanTransition(from, to models.AccountStatus) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Request describes one status transition.
type Request struct {
	UserID   uint
	ActorID  *uint
	To       models.AccountStatus
	Action   string
	Severity models.Severity
	Reason   string
	Metadata map[string]interface{}
}

// Change is the committed outcome of a transition, published after commit.
type Change struct {
	User          *models.User
	ActorID       uint
	From          models.AccountStatus
	To            models.AccountStatus
	VersionBumped bool
	Version       int
}

// Machine applies account transitions with their audit trail.
type Machine struct {
	db       *gorm.DB
	tokens   *auth.TokenStore
	bus      *events.Bus
	trashTTL time.Duration
	now      func() time.Time
}

// NewMachine creates a Machine. trashTTL <= 0 uses DefaultTrashTTL.
func NewMachine(db *gorm.DB, tokens *auth.TokenStore, bus *events.Bus, trashTTL time.Duration) *Machine {
	if trashTTL <= 0 {
		trashTTL = DefaultTrashTTL
	}
	return &Machine{db: db, tokens: tokens, bus: bus, trashTTL: trashTTL, now: time.Now}
}

// SetClock replaces the time source.
func (m *Machine) SetClock(now func() time.Time) {
	m.now = now
}

// Now returns the machine's current time in UTC.
func (m *Machine) Now() time.Time {
	return m.now().UTC()
}

// ApplyTx performs the transition inside tx. The caller commits and then
// calls Publish with the returned change.
func (m *Machine) ApplyTx(ctx context.Context, tx *gorm.DB, req Request) (*Change, error) {
	if req.ActorID != nil && *req.ActorID == req.UserID && req.To != models.StatusActive {
		return nil, models.NewForbiddenError("You cannot moderate your own account")
	}

	users := repository.NewUserRepository(tx)
	user, err := users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	from := user.Status
	if !CanTransition(from, req.To) {
		return nil, models.NewConflictError(fmt.Sprintf("Cannot change account from %s to %s", from, req.To))
	}

	isActive := req.To != models.StatusBanned
	changed, err := users.TransitionStatus(ctx, user.ID, from, req.To, isActive)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, models.NewConflictError("Account status changed concurrently")
	}
	user.Status = req.To
	user.IsActive = isActive

	change := &Change{User: user, From: from, To: req.To}
	if req.ActorID != nil {
		change.ActorID = *req.ActorID
	}

	if req.To == models.StatusBanned {
		v, err := m.tokens.BumpVersion(ctx, tx, user.ID)
		if err != nil {
			return nil, err
		}
		user.TokenVersion = v
		change.VersionBumped = true
		change.Version = v
	}

	meta := map[string]interface{}{"from": string(from), "to": string(req.To)}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if req.Reason != "" {
		meta["reason"] = req.Reason
	}
	if err := RecordAudit(ctx, tx, m.Now(), AuditEntry{
		ActorID:     req.ActorID,
		Action:      req.Action,
		TargetType:  "user",
		TargetRef:   strconv.FormatUint(uint64(user.ID), 10),
		Description: fmt.Sprintf("%s: %s -> %s", user.Username, from, req.To),
		Severity:    req.Severity,
		Metadata:    meta,
	}); err != nil {
		return nil, err
	}
	return change, nil
}

// Publish emits the events for a committed change.
func (m *Machine) Publish(ctx context.Context, c *Change) {
	if c == nil {
		return
	}
	observability.AccountTransitions.WithLabelValues(string(c.From), string(c.To)).Inc()
	events.Publish(ctx, m.bus, events.AccountStateChanged{UserID: c.User.ID, ActorID: c.ActorID, From: c.From, To: c.To})
	if c.From == models.StatusPending && c.To == models.StatusActive {
		events.Publish(ctx, m.bus, events.AccountApproved{UserID: c.User.ID, ActorID: c.ActorID})
	}
	if c.VersionBumped {
		events.Publish(ctx, m.bus, events.TokenVersionBumped{UserID: c.User.ID, Version: c.Version})
	}
}

// Apply runs ApplyTx in its own transaction and publishes after commit.
func (m *Machine) Apply(ctx context.Context, req Request) (*Change, error) {
	var change *Change
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		change, err = m.ApplyTx(ctx, tx, req)
		if err == nil && req.To == models.StatusActive {
			_, err = repository.NewModerationRepository(tx).DeactivateSuspensions(ctx, req.UserID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	m.Publish(ctx, change)
	return change, nil
}

// Approve moves a pending account to active.
func (m *Machine) Approve(ctx context.Context, actorID, userID uint) (*models.User, error) {
	c, err := m.Apply(ctx, Request{
		UserID: userID, ActorID: &actorID, To: models.StatusActive,
		Action: AuditUserApproved, Severity: models.SeverityInfo,
	})
	if err != nil {
		return nil, err
	}
	return c.User, nil
}

// Activate re-permits login for a suspended or banned account and clears any
// active suspension.
func (m *Machine) Activate(ctx context.Context, actorID, userID uint, reason string) (*models.User, error) {
	c, err := m.Apply(ctx, Request{
		UserID: userID, ActorID: &actorID, To: models.StatusActive,
		Action: AuditUserActivated, Severity: models.SeverityInfo, Reason: reason,
	})
	if err != nil {
		return nil, err
	}
	return c.User, nil
}

// ForceLogout invalidates every token of the user. Sessions are evicted by
// the TokenVersionBumped subscriber.
func (m *Machine) ForceLogout(ctx context.Context, actorID, userID uint) (int, error) {
	var version int
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := repository.NewUserRepository(tx).GetByID(ctx, userID)
		if err != nil {
			return err
		}
		version, err = m.tokens.BumpVersion(ctx, tx, userID)
		if err != nil {
			return err
		}
		return RecordAudit(ctx, tx, m.Now(), AuditEntry{
			ActorID:     &actorID,
			Action:      AuditForceLogout,
			TargetType:  "user",
			TargetRef:   strconv.FormatUint(uint64(userID), 10),
			Description: fmt.Sprintf("%s: all sessions revoked", user.Username),
			Severity:    models.SeverityWarning,
		})
	})
	if err != nil {
		return 0, err
	}
	events.Publish(ctx, m.bus, events.TokenVersionBumped{UserID: userID, Version: version})
	return version, nil
}

// userSnapshot is the archived form of a deleted account.
type userSnapshot struct {
	ID           uint                 `json:"id"`
	Username     string               `json:"username"`
	Email        string               `json:"email"`
	FirstName    string               `json:"first_name"`
	LastName     string               `json:"last_name"`
	Bio          string               `json:"bio"`
	Role         models.Role          `json:"role"`
	Status       models.AccountStatus `json:"status"`
	MessageCount int64                `json:"message_count"`
	CreatedAt    time.Time            `json:"created_at"`
}

// Delete soft-deletes an active account and keeps a snapshot in trash.
func (m *Machine) Delete(ctx context.Context, actorID, userID uint) (*models.TrashItem, error) {
	if actorID == userID {
		return nil, models.NewForbiddenError("You cannot delete your own account")
	}
	var item *models.TrashItem
	var change *Change
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		users := repository.NewUserRepository(tx)
		user, err := users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if !CanTransition(user.Status, models.StatusDeleted) {
			return models.NewConflictError(fmt.Sprintf("Cannot delete an account that is %s", user.Status))
		}

		raw, err := json.Marshal(userSnapshot{
			ID: user.ID, Username: user.Username, Email: user.Email,
			FirstName: user.FirstName, LastName: user.LastName, Bio: user.Bio,
			Role: user.Role, Status: user.Status, MessageCount: user.MessageCount,
			CreatedAt: user.CreatedAt,
		})
		if err != nil {
			return models.NewInternalError(err)
		}

		now := m.Now()
		item = &models.TrashItem{
			EntityType: "user",
			EntityID:   user.ID,
			Snapshot:   datatypes.JSON(raw),
			DeletedBy:  actorID,
			DeletedAt:  now,
			ExpiresAt:  now.Add(m.trashTTL),
		}
		if err := repository.NewTrashRepository(tx).Create(ctx, item); err != nil {
			return err
		}
		v, err := m.tokens.BumpVersion(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		if err := users.SoftDelete(ctx, user.ID); err != nil {
			return err
		}
		change = &Change{User: user, ActorID: actorID, From: user.Status, To: models.StatusDeleted, VersionBumped: true, Version: v}

		return RecordAudit(ctx, tx, now, AuditEntry{
			ActorID:     &actorID,
			Action:      AuditUserDeleted,
			TargetType:  "user",
			TargetRef:   strconv.FormatUint(uint64(user.ID), 10),
			Description: fmt.Sprintf("%s moved to trash", user.Username),
			Severity:    models.SeverityWarning,
			Metadata:    map[string]interface{}{"trash_expires_at": item.ExpiresAt},
		})
	})
	if err != nil {
		return nil, err
	}
	m.Publish(ctx, change)
	return item, nil
}

// RestoreDeleted brings a trashed account back before its snapshot expires.
func (m *Machine) RestoreDeleted(ctx context.Context, actorID, trashID uint) (*models.User, error) {
	var user *models.User
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trash := repository.NewTrashRepository(tx)
		item, err := trash.GetByID(ctx, trashID)
		if err != nil {
			return err
		}
		if item.EntityType != "user" {
			return models.NewValidationError("Trash item is not a user")
		}
		if !item.ExpiresAt.After(m.Now()) {
			return models.NewConflictError("Trash item has expired")
		}
		users := repository.NewUserRepository(tx)
		if err := users.Restore(ctx, item.EntityID); err != nil {
			return err
		}
		if err := trash.Delete(ctx, item.ID); err != nil {
			return err
		}
		user, err = users.GetByID(ctx, item.EntityID)
		if err != nil {
			return err
		}
		return RecordAudit(ctx, tx, m.Now(), AuditEntry{
			ActorID:     &actorID,
			Action:      AuditUserRestored,
			TargetType:  "user",
			TargetRef:   strconv.FormatUint(uint64(user.ID), 10),
			Description: fmt.Sprintf("%s restored from trash", user.Username),
			Severity:    models.SeverityInfo,
		})
	})
	if err != nil {
		return nil, err
	}
	observability.AccountTransitions.WithLabelValues(string(models.StatusDeleted), string(user.Status)).Inc()
	events.Publish(ctx, m.bus, events.AccountStateChanged{UserID: user.ID, ActorID: actorID, From: models.StatusDeleted, To: user.Status})
	return user, nil
}

// FlushTrash hard-deletes accounts whose trash snapshot has expired.
func (m *Machine) FlushTrash(ctx context.Context) (int64, error) {
	items, err := repository.NewTrashRepository(m.db).ListExpired(ctx, m.Now(), 100)
	if err != nil {
		return 0, err
	}
	var purged int64
	for _, item := range items {
		item := item
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if item.EntityType == "user" {
				if err := repository.NewUserRepository(tx).HardDelete(ctx, item.EntityID); err != nil {
					return err
				}
			}
			if err := repository.NewTrashRepository(tx).Delete(ctx, item.ID); err != nil {
				return err
			}
			return RecordAudit(ctx, tx, m.Now(), AuditEntry{
				Action:      AuditUserPurged,
				TargetType:  item.EntityType,
				TargetRef:   strconv.FormatUint(uint64(item.EntityID), 10),
				Description: "trash retention elapsed",
				Severity:    models.SeverityInfo,
			})
		})
		if err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}
