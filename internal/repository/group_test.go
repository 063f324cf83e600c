package repository

import (
	"context"
	"testing"
	"time"

	"huddle/internal/models"
	"huddle/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupRepository_Membership(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewGroupRepository(db)
	ctx := context.Background()

	owner := testutil.CreateUser(t, db, "owner")
	member := testutil.CreateUser(t, db, "member")
	g, _ := testutil.CreateGroup(t, db, "general", owner.ID, member.ID)

	dup := &models.Group{Name: "general", CreatedBy: owner.ID}
	assert.Equal(t, models.ErrTypeConflict, codeOf(repo.Create(ctx, dup)))

	n, err := repo.CountOwners(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, repo.SetMemberStatus(ctx, g.ID, member.ID, models.MemberLeft))
	members, err := repo.ListMembers(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)

	m, err := repo.GetMember(ctx, g.ID, member.ID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, models.MemberLeft, m.Status)

	m.Status = models.MemberActive
	m.JoinedAt = time.Now().UTC()
	require.NoError(t, repo.SaveMember(ctx, m))
	require.NoError(t, repo.SetMemberRole(ctx, g.ID, member.ID, models.GroupRoleAdmin))

	m, err = repo.GetMember(ctx, g.ID, member.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GroupRoleAdmin, m.Role)
	assert.Equal(t, models.MemberActive, m.Status)

	require.NoError(t, repo.SoftDelete(ctx, g.ID))
	_, err = repo.GetByID(ctx, g.ID)
	assert.Equal(t, models.ErrTypeNotFound, codeOf(err))
	assert.Equal(t, models.ErrTypeNotFound, codeOf(repo.SoftDelete(ctx, g.ID)))
}
