package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"huddle/internal/account"
	"huddle/internal/auth"
	"huddle/internal/events"
	"huddle/internal/models"
	"huddle/internal/repository"
	"huddle/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	clock *testutil.Clock
	coord *Coordinator

	changes []events.AccountStateChanged
	bumps   []events.TokenVersionBumped
	warned  []events.UserWarned
	deleted []events.MessageDeleted
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	bus := events.NewBus()
	f := &fixture{db: db, clock: testutil.NewClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))}
	tokens := auth.NewTokenStore(db, nil, auth.Config{
		Secret: "moderation-test-secret-0123456789ab", Issuer: "huddle-api", Audience: "huddle-client",
		AccessTTL: 15 * time.Minute, RefreshTTL: 24 * time.Hour,
	})
	machine := account.NewMachine(db, tokens, bus, 0)
	machine.SetClock(f.clock.Now)
	f.coord = NewCoordinator(db, machine, nil, bus)

	events.Subscribe(bus, func(_ context.Context, e events.AccountStateChanged) { f.changes = append(f.changes, e) })
	events.Subscribe(bus, func(_ context.Context, e events.TokenVersionBumped) { f.bumps = append(f.bumps, e) })
	events.Subscribe(bus, func(_ context.Context, e events.UserWarned) { f.warned = append(f.warned, e) })
	events.Subscribe(bus, func(_ context.Context, e events.MessageDeleted) { f.deleted = append(f.deleted, e) })
	return f
}

func (f *fixture) reload(t *testing.T, id uint) *models.User {
	t.Helper()
	var u models.User
	require.NoError(t, f.db.First(&u, id).Error)
	return &u
}

func (f *fixture) audits(t *testing.T, action string) []models.AuditEvent {
	t.Helper()
	var out []models.AuditEvent
	require.NoError(t, f.db.Where("action_type = ?", action).Find(&out).Error)
	return out
}

func isCode(err error, code string) bool {
	return errors.Is(err, &models.AppError{Code: code})
}

func TestCoordinator_Suspend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	senior := testutil.CreateModerator(t, f.db, "senior", models.ModeratorSenior)
	junior := testutil.CreateModerator(t, f.db, "junior", models.ModeratorJunior)
	target := testutil.CreateUser(t, f.db, "target")

	_, err := f.coord.Suspend(ctx, junior, target.ID, "1d", "spam")
	assert.True(t, isCode(err, models.ErrTypeForbidden))

	_, err = f.coord.Suspend(ctx, senior, target.ID, "3 days", "spam")
	assert.True(t, isCode(err, models.ErrTypeValidation))

	_, err = f.coord.Suspend(ctx, senior, senior.ID, "1d", "")
	assert.True(t, isCode(err, models.ErrTypeForbidden))

	action, err := f.coord.Suspend(ctx, senior, target.ID, "3d", "spam")
	require.NoError(t, err)
	assert.True(t, action.IsActive)
	assert.Equal(t, "3d", action.Duration)
	require.NotNil(t, action.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(72*time.Hour), action.ExpiresAt.UTC())

	assert.Equal(t, models.StatusSuspended, f.reload(t, target.ID).Status)
	audits := f.audits(t, account.AuditUserSuspended)
	require.Len(t, audits, 1)
	assert.Equal(t, models.SeverityError, audits[0].Severity)
	require.Len(t, f.changes, 1)
	assert.Equal(t, models.StatusSuspended, f.changes[0].To)

	_, err = f.coord.Suspend(ctx, senior, target.ID, "", "again")
	assert.True(t, isCode(err, models.ErrTypeConflict))
}

func TestCoordinator_Ban(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	senior := testutil.CreateModerator(t, f.db, "senior", models.ModeratorSenior)
	lead := testutil.CreateModerator(t, f.db, "lead", models.ModeratorLead)
	target := testutil.CreateUser(t, f.db, "target")

	_, err := f.coord.Ban(ctx, senior, target.ID, "abuse")
	assert.True(t, isCode(err, models.ErrTypeForbidden))
	_, err = f.coord.Suspend(ctx, senior, lead.ID, "1d", "")
	assert.True(t, isCode(err, models.ErrTypeForbidden))

	_, err = f.coord.Suspend(ctx, senior, target.ID, "1w", "abuse")
	require.NoError(t, err)

	action, err := f.coord.Ban(ctx, lead, target.ID, "repeat abuse")
	require.NoError(t, err)
	assert.Equal(t, models.ActionBan, action.Action)

	u := f.reload(t, target.ID)
	assert.Equal(t, models.StatusBanned, u.Status)
	assert.False(t, u.IsActive)
	assert.Equal(t, 1, u.TokenVersion)
	require.Len(t, f.bumps, 1)
	assert.Equal(t, target.ID, f.bumps[0].UserID)

	var active int64
	require.NoError(t, f.db.Model(&models.ModerationAction{}).
		Where("action = ? AND is_active = ?", models.ActionSuspend, true).Count(&active).Error)
	assert.Zero(t, active)

	audits := f.audits(t, account.AuditUserBanned)
	require.Len(t, audits, 1)
	assert.Equal(t, models.SeverityCritical, audits[0].Severity)

	otherMod := testutil.CreateModerator(t, f.db, "othermod", models.ModeratorJunior)
	_, err = f.coord.Suspend(ctx, lead, otherMod.ID, "12h", "")
	assert.NoError(t, err)
}

func TestCoordinator_Warn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	junior := testutil.CreateModerator(t, f.db, "junior", models.ModeratorJunior)
	admin := testutil.CreateUser(t, f.db, "admin", testutil.WithRole(models.RoleAdmin))
	target := testutil.CreateUser(t, f.db, "target")

	action, err := f.coord.Warn(ctx, junior, target.ID, "be nice")
	require.NoError(t, err)
	assert.Equal(t, models.ActionWarning, action.Action)
	assert.False(t, action.IsActive)

	require.Len(t, f.warned, 1)
	assert.Equal(t, events.UserWarned{UserID: target.ID, ModeratorID: junior.ID, Reason: "be nice"}, f.warned[0])
	audits := f.audits(t, account.AuditUserWarned)
	require.Len(t, audits, 1)
	assert.Equal(t, models.SeverityWarning, audits[0].Severity)
	assert.Equal(t, models.StatusActive, f.reload(t, target.ID).Status)

	_, err = f.coord.Warn(ctx, junior, admin.ID, "nope")
	assert.True(t, isCode(err, models.ErrTypeForbidden))
	_, err = f.coord.Warn(ctx, target, junior.ID, "nope")
	assert.True(t, isCode(err, models.ErrTypeForbidden))
}

func TestCoordinator_DeleteMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	junior := testutil.CreateModerator(t, f.db, "junior", models.ModeratorJunior)
	alice := testutil.CreateUser(t, f.db, "alice")
	bob := testutil.CreateUser(t, f.db, "bob")
	conv := testutil.CreateDirect(t, f.db, alice.ID, bob.ID)

	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       alice.ID,
		Content:        "rude",
		Type:           models.MessageText,
		Timestamp:      f.clock.Now(),
	}
	require.NoError(t, f.db.Create(msg).Error)

	_, err := f.coord.DeleteMessage(ctx, bob, msg.ID, "")
	assert.True(t, isCode(err, models.ErrTypeForbidden))

	action, err := f.coord.DeleteMessage(ctx, junior, msg.ID, "rude")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, action.TargetUserID)
	assert.Equal(t, msg.ID.String(), action.TargetRef)

	stored, err := repository.NewChatRepository(f.db).GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted)
	require.Len(t, f.deleted, 1)
	assert.Equal(t, msg.ID, f.deleted[0].ID)
	assert.Nil(t, f.deleted[0].GroupID)
	assert.Len(t, f.audits(t, account.AuditMessageDeleted), 1)

	_, err = f.coord.DeleteMessage(ctx, junior, msg.ID, "rude")
	assert.True(t, isCode(err, models.ErrTypeConflict))
	assert.Len(t, f.audits(t, account.AuditMessageDeleted), 1)

	_, err = f.coord.DeleteMessage(ctx, junior, uuid.New(), "")
	assert.True(t, isCode(err, models.ErrTypeNotFound))
}

func TestCoordinator_ExpireSuspensions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	senior := testutil.CreateModerator(t, f.db, "senior", models.ModeratorSenior)
	lead := testutil.CreateModerator(t, f.db, "lead", models.ModeratorLead)
	short := testutil.CreateUser(t, f.db, "short")
	long := testutil.CreateUser(t, f.db, "long")
	banned := testutil.CreateUser(t, f.db, "banned")

	_, err := f.coord.Suspend(ctx, senior, short.ID, "1h", "")
	require.NoError(t, err)
	_, err = f.coord.Suspend(ctx, senior, long.ID, "1w", "")
	require.NoError(t, err)
	_, err = f.coord.Suspend(ctx, senior, banned.ID, "1h", "")
	require.NoError(t, err)
	_, err = f.coord.Ban(ctx, lead, banned.ID, "")
	require.NoError(t, err)

	n, err := f.coord.ExpireSuspensions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(2 * time.Hour)
	n, err = f.coord.ExpireSuspensions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, models.StatusActive, f.reload(t, short.ID).Status)
	assert.Equal(t, models.StatusSuspended, f.reload(t, long.ID).Status)
	assert.Equal(t, models.StatusBanned, f.reload(t, banned.ID).Status)

	expired := f.audits(t, account.AuditSuspensionExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, models.SeverityInfo, expired[0].Severity)
	assert.Nil(t, expired[0].ActorID)

	n, err = f.coord.ExpireSuspensions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.audits(t, account.AuditSuspensionExpired), 1)
}

func TestCoordinator_PermissionsAndProfiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := testutil.CreateUser(t, f.db, "admin", testutil.WithRole(models.RoleAdmin))
	junior := testutil.CreateModerator(t, f.db, "junior", models.ModeratorJunior)
	user := testutil.CreateUser(t, f.db, "user")

	ok, err := f.coord.CanDeleteMessages(ctx, junior)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.coord.CanDeleteMessages(ctx, user)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.coord.AuditEvents(ctx, junior, repository.AuditFilter{})
	assert.True(t, isCode(err, models.ErrTypeForbidden))

	_, err = f.coord.SetModerator(ctx, junior, user.ID, models.ModeratorSenior, nil)
	assert.True(t, isCode(err, models.ErrTypeForbidden))
	_, err = f.coord.SetModerator(ctx, admin, user.ID, "captain", nil)
	assert.True(t, isCode(err, models.ErrTypeValidation))
	_, err = f.coord.SetModerator(ctx, admin, admin.ID, models.ModeratorLead, nil)
	assert.True(t, isCode(err, models.ErrTypeConflict))

	profile, err := f.coord.SetModerator(ctx, admin, junior.ID, models.ModeratorSenior, []string{"ban_users"})
	require.NoError(t, err)
	assert.Equal(t, "ban_users", profile.ExtraPermissions)

	promoted := f.reload(t, junior.ID)
	log, err := f.coord.AuditEvents(ctx, promoted, repository.AuditFilter{ActionType: account.AuditModeratorUpdated})
	require.NoError(t, err)
	assert.Len(t, log, 1)

	actor, err := f.coord.Actor(ctx, promoted)
	require.NoError(t, err)
	assert.True(t, actor.Has(PermBanUsers))
	assert.False(t, actor.IsLead())

	_, err = f.coord.SetModerator(ctx, admin, user.ID, models.ModeratorJunior, nil)
	require.NoError(t, err)
	u := f.reload(t, user.ID)
	assert.Equal(t, models.RoleModerator, u.Role)
	assert.True(t, u.IsStaff)
}
