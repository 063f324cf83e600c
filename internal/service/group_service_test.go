package service

import (
	"context"
	"testing"

	"huddle/internal/models"
	"huddle/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupService_CreateAndJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, f.db, "owner")
	bob := testutil.CreateUser(t, f.db, "bob")

	group, err := f.groups.Create(ctx, CreateGroupInput{Owner: owner, Name: "  gophers  "})
	require.NoError(t, err)
	assert.Equal(t, "gophers", group.Name)
	assert.Equal(t, models.GroupPublic, group.Visibility)
	assert.NotZero(t, group.ConversationID)

	_, err = f.groups.Create(ctx, CreateGroupInput{Owner: bob, Name: "gophers"})
	assert.Equal(t, models.ErrTypeConflict, codeOf(err))

	member, err := f.groups.Join(ctx, group.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, models.GroupRoleMember, member.Role)
	require.Len(t, f.joined, 1)
	assert.Equal(t, bob.ID, f.joined[0].UserID)

	_, err = f.groups.Join(ctx, group.ID, bob)
	assert.Equal(t, models.ErrTypeConflict, codeOf(err))

	members, err := f.groups.Members(ctx, group.ID, bob)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	msg, _, err := f.messages.Append(ctx, AppendInput{ConversationID: group.ConversationID, Sender: bob, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, group.ID, *msg.GroupID)
}

func TestGroupService_PrivateGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, f.db, "owner")
	bob := testutil.CreateUser(t, f.db, "bob")
	carol := testutil.CreateUser(t, f.db, "carol")

	group, err := f.groups.Create(ctx, CreateGroupInput{Owner: owner, Name: "inner", Visibility: models.GroupPrivate})
	require.NoError(t, err)

	_, err = f.groups.Join(ctx, group.ID, bob)
	assert.Equal(t, models.ErrTypeForbidden, codeOf(err))
	_, err = f.groups.Get(ctx, group.ID, bob)
	assert.Equal(t, models.ErrTypeNotFound, codeOf(err))

	_, err = f.groups.AddMember(ctx, group.ID, owner, bob.ID)
	require.NoError(t, err)
	_, err = f.groups.Get(ctx, group.ID, bob)
	require.NoError(t, err)

	_, err = f.groups.AddMember(ctx, group.ID, bob, carol.ID)
	assert.Equal(t, models.ErrTypeForbidden, codeOf(err))
}

func TestGroupService_LeaveKickAndRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, f.db, "owner")
	admin := testutil.CreateUser(t, f.db, "admin")
	bob := testutil.CreateUser(t, f.db, "bob")
	carol := testutil.CreateUser(t, f.db, "carol")
	group, _ := testutil.CreateGroup(t, f.db, "crew", owner.ID, admin.ID, bob.ID, carol.ID)

	err := f.groups.Leave(ctx, group.ID, owner)
	assert.Equal(t, models.ErrTypeConflict, codeOf(err))

	_, err = f.groups.ChangeRole(ctx, group.ID, bob, admin.ID, models.GroupRoleAdmin)
	assert.Equal(t, models.ErrTypeForbidden, codeOf(err))
	updated, err := f.groups.ChangeRole(ctx, group.ID, owner, admin.ID, models.GroupRoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.GroupRoleAdmin, updated.Role)
	_, err = f.groups.ChangeRole(ctx, group.ID, admin, bob.ID, models.GroupRoleAdmin)
	assert.Equal(t, models.ErrTypeForbidden, codeOf(err), "admins cannot mint admins")
	_, err = f.groups.ChangeRole(ctx, group.ID, owner, bob.ID, models.GroupRoleOwner)
	assert.Equal(t, models.ErrTypeValidation, codeOf(err))

	err = f.groups.Kick(ctx, group.ID, admin, owner.ID)
	assert.Equal(t, models.ErrTypeForbidden, codeOf(err))
	require.NoError(t, f.groups.Kick(ctx, group.ID, admin, bob.ID))
	require.Len(t, f.left, 1)
	assert.Equal(t, models.MemberKicked, f.left[0].Status)
	assert.Equal(t, "bob", f.left[0].Username)

	require.NoError(t, f.groups.Leave(ctx, group.ID, carol))
	require.Len(t, f.left, 2)
	assert.Equal(t, models.MemberLeft, f.left[1].Status)

	// Kicked members may rejoin a public group.
	_, err = f.groups.Join(ctx, group.ID, bob)
	require.NoError(t, err)

	members, err := f.groups.Members(ctx, group.ID, owner)
	require.NoError(t, err)
	assert.Len(t, members, 3)
}

func TestGroupService_TransferAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, f.db, "owner")
	bob := testutil.CreateUser(t, f.db, "bob")
	group, conv := testutil.CreateGroup(t, f.db, "crew", owner.ID, bob.ID)

	err := f.groups.TransferOwnership(ctx, group.ID, bob, owner.ID)
	assert.Equal(t, models.ErrTypeForbidden, codeOf(err))

	require.NoError(t, f.groups.TransferOwnership(ctx, group.ID, owner, bob.ID))
	var roles []models.GroupMember
	require.NoError(t, f.db.Where("group_id = ?", group.ID).Order("user_id").Find(&roles).Error)
	assert.Equal(t, models.GroupRoleAdmin, roles[0].Role)
	assert.Equal(t, models.GroupRoleOwner, roles[1].Role)

	require.NoError(t, f.groups.Leave(ctx, group.ID, owner))

	err = f.groups.Delete(ctx, group.ID, owner)
	assert.Equal(t, models.ErrTypeForbidden, codeOf(err))
	require.NoError(t, f.groups.Delete(ctx, group.ID, bob))

	_, err = f.groups.Get(ctx, group.ID, bob)
	assert.Equal(t, models.ErrTypeNotFound, codeOf(err))
	var stored models.Conversation
	require.NoError(t, f.db.First(&stored, conv.ID).Error)
	assert.True(t, stored.IsDeleted)
}
