package repository

import (
	"context"
	"testing"
	"time"

	"huddle/internal/models"
	"huddle/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestModerationRepository_ExpiredSuspensions(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewModerationRepository(db)
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	expired := models.ModerationAction{ModeratorID: 1, Action: models.ActionSuspend, TargetUserID: 2, IsActive: true, ExpiresAt: &past}
	pending := models.ModerationAction{ModeratorID: 1, Action: models.ActionSuspend, TargetUserID: 3, IsActive: true, ExpiresAt: &future}
	warning := models.ModerationAction{ModeratorID: 1, Action: models.ActionWarning, TargetUserID: 2, Reason: "spam"}
	for _, a := range []*models.ModerationAction{&expired, &pending, &warning} {
		require.NoError(t, repo.CreateAction(ctx, a))
	}

	due, err := repo.ExpiredSuspensions(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, expired.ID, due[0].ID)

	ok, err := repo.DeactivateAction(ctx, expired.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.DeactivateAction(ctx, expired.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := repo.DeactivateSuspensions(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	history, err := repo.ListActions(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestModerationRepository_Profiles(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewModerationRepository(db)
	ctx := context.Background()
	mod := testutil.CreateModerator(t, db, "mod", models.ModeratorJunior)

	p, err := repo.GetProfile(ctx, mod.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.ModeratorJunior, p.RoleType)

	require.NoError(t, repo.UpsertProfile(ctx, &models.ModeratorProfile{UserID: mod.ID, RoleType: models.ModeratorLead}))
	p, err = repo.GetProfile(ctx, mod.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ModeratorLead, p.RoleType)

	none, err := repo.GetProfile(ctx, 4242)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestAuditRepository_Filter(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewAuditRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	events := []models.AuditEvent{
		{ActionType: "user_banned", TargetType: "user", TargetRef: "7", Severity: models.SeverityCritical, Timestamp: now, Metadata: datatypes.JSON(`{"reason":"abuse"}`)},
		{ActionType: "user_warned", TargetType: "user", TargetRef: "7", Severity: models.SeverityWarning, Timestamp: now.Add(time.Second)},
		{ActionType: "user_warned", TargetType: "user", TargetRef: "8", Severity: models.SeverityWarning, Timestamp: now.Add(2 * time.Second)},
	}
	for i := range events {
		require.NoError(t, repo.Create(ctx, &events[i]))
	}

	all, err := repo.List(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "8", all[0].TargetRef, "newest first")

	warned, err := repo.List(ctx, AuditFilter{ActionType: "user_warned", TargetRef: "7"})
	require.NoError(t, err)
	assert.Len(t, warned, 1)

	critical, err := repo.List(ctx, AuditFilter{Severity: models.SeverityCritical})
	require.NoError(t, err)
	require.Len(t, critical, 1)
	assert.JSONEq(t, `{"reason":"abuse"}`, string(critical[0].Metadata))
}

func TestTrashRepository_ListExpired(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewTrashRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	old := models.TrashItem{EntityType: "user", EntityID: 1, Snapshot: datatypes.JSON(`{}`), DeletedBy: 9, DeletedAt: now.Add(-31 * 24 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	fresh := models.TrashItem{EntityType: "user", EntityID: 2, Snapshot: datatypes.JSON(`{}`), DeletedBy: 9, DeletedAt: now, ExpiresAt: now.Add(30 * 24 * time.Hour)}
	require.NoError(t, repo.Create(ctx, &old))
	require.NoError(t, repo.Create(ctx, &fresh))

	due, err := repo.ListExpired(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, uint(1), due[0].EntityID)

	require.NoError(t, repo.Delete(ctx, old.ID))
	_, err = repo.GetByID(ctx, old.ID)
	assert.Equal(t, models.ErrTypeNotFound, codeOf(err))
}
