package server

import (
	"fmt"
	"net/http"
	"testing"

	"huddle/internal/models"
	"huddle/internal/service"
	"huddle/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGroup(t *testing.T) {
	ts := newTestServer(t)
	owner := testutil.CreateUser(t, ts.db, "owner")
	token := ts.token(t, owner)

	resp := ts.do(t, http.MethodPost, "/groups", token, map[string]string{
		"name":        "  Gophers ",
		"description": "all things go",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	group := decode[service.GroupDetail](t, resp)
	assert.Equal(t, "Gophers", group.Name)
	assert.Equal(t, models.GroupPublic, group.Visibility)
	assert.NotZero(t, group.ConversationID)

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/groups/%d/members", group.ID), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	members := decode[[]models.GroupMember](t, resp)
	require.Len(t, members, 1)
	assert.Equal(t, models.GroupRoleOwner, members[0].Role)

	resp = ts.do(t, http.MethodPost, "/groups", token, map[string]string{"name": ""})
	assertError(t, resp, http.StatusBadRequest, models.ErrTypeValidation)

	resp = ts.do(t, http.MethodPost, "/groups", token, map[string]string{"name": "x", "visibility": "secret"})
	assertError(t, resp, http.StatusBadRequest, models.ErrTypeValidation)
}

func TestGroupVisibility(t *testing.T) {
	ts := newTestServer(t)
	owner := testutil.CreateUser(t, ts.db, "owner")
	outsider := testutil.CreateUser(t, ts.db, "outsider")
	ownerToken := ts.token(t, owner)
	outsiderToken := ts.token(t, outsider)

	resp := ts.do(t, http.MethodPost, "/groups", ownerToken, map[string]string{"name": "open"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	open := decode[service.GroupDetail](t, resp)

	resp = ts.do(t, http.MethodPost, "/groups", ownerToken, map[string]string{"name": "hidden", "visibility": "private"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	hidden := decode[service.GroupDetail](t, resp)

	resp = ts.do(t, http.MethodGet, "/groups", outsiderToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decode[[]models.Group](t, resp)
	require.Len(t, listed, 1)
	assert.Equal(t, open.ID, listed[0].ID)

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/groups/%d", hidden.ID), outsiderToken, nil)
	assertError(t, resp, http.StatusNotFound, models.ErrTypeNotFound)

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/groups/%d/join", hidden.ID), outsiderToken, nil)
	assertError(t, resp, http.StatusForbidden, models.ErrTypeForbidden)

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/groups/%d/join", open.ID), outsiderToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.GroupRoleMember, decode[models.GroupMember](t, resp).Role)

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/groups/%d/join", open.ID), outsiderToken, nil)
	assertError(t, resp, http.StatusConflict, models.ErrTypeConflict)
}

func TestGroupMembership(t *testing.T) {
	ts := newTestServer(t)
	owner := testutil.CreateUser(t, ts.db, "owner")
	alice := testutil.CreateUser(t, ts.db, "alice")
	bob := testutil.CreateUser(t, ts.db, "bob")
	group, _ := testutil.CreateGroup(t, ts.db, "crew", owner.ID, alice.ID)
	base := fmt.Sprintf("/groups/%d", group.ID)
	ownerToken := ts.token(t, owner)
	aliceToken := ts.token(t, alice)

	// Plain members cannot add others.
	resp := ts.do(t, http.MethodPost, base+"/members", aliceToken, map[string]uint{"user_id": bob.ID})
	assertError(t, resp, http.StatusForbidden, models.ErrTypeForbidden)

	resp = ts.do(t, http.MethodPost, base+"/members", ownerToken, map[string]uint{"user_id": bob.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodPut, fmt.Sprintf("%s/members/%d/role", base, alice.ID), ownerToken, map[string]string{"role": "admin"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.GroupRoleAdmin, decode[models.GroupMember](t, resp).Role)

	resp = ts.do(t, http.MethodPut, fmt.Sprintf("%s/members/%d/role", base, bob.ID), ownerToken, map[string]string{"role": "owner"})
	assertError(t, resp, http.StatusBadRequest, models.ErrTypeValidation)

	// An admin can kick a member but not the owner.
	resp = ts.do(t, http.MethodDelete, fmt.Sprintf("%s/members/%d", base, owner.ID), aliceToken, nil)
	assertError(t, resp, http.StatusForbidden, models.ErrTypeForbidden)

	resp = ts.do(t, http.MethodDelete, fmt.Sprintf("%s/members/%d", base, bob.ID), aliceToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"/members", ownerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]models.GroupMember](t, resp), 2)

	resp = ts.do(t, http.MethodDelete, base+"/members/abc", ownerToken, nil)
	assertError(t, resp, http.StatusBadRequest, models.ErrTypeValidation)
}

func TestGroupOwnership(t *testing.T) {
	ts := newTestServer(t)
	owner := testutil.CreateUser(t, ts.db, "owner")
	alice := testutil.CreateUser(t, ts.db, "alice")
	group, groupConv := testutil.CreateGroup(t, ts.db, "crew", owner.ID, alice.ID)
	base := fmt.Sprintf("/groups/%d", group.ID)
	ownerToken := ts.token(t, owner)
	aliceToken := ts.token(t, alice)

	resp := ts.do(t, http.MethodPost, base+"/leave", ownerToken, nil)
	assertError(t, resp, http.StatusConflict, models.ErrTypeConflict)

	resp = ts.do(t, http.MethodPost, base+"/transfer", aliceToken, map[string]uint{"user_id": alice.ID})
	assertError(t, resp, http.StatusBadRequest, models.ErrTypeValidation)

	resp = ts.do(t, http.MethodPost, base+"/transfer", ownerToken, map[string]uint{"user_id": alice.ID})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, base+"/leave", ownerToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Former members lose the conversation.
	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/chat/conversations/%d/messages", groupConv.ID), ownerToken, nil)
	assertError(t, resp, http.StatusForbidden, models.ErrTypeForbidden)

	resp = ts.do(t, http.MethodDelete, base, aliceToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base, aliceToken, nil)
	assertError(t, resp, http.StatusNotFound, models.ErrTypeNotFound)
}

func TestGroupMessagesUseGroupConversation(t *testing.T) {
	ts := newTestServer(t)
	owner := testutil.CreateUser(t, ts.db, "owner")
	alice := testutil.CreateUser(t, ts.db, "alice")
	group, groupConv := testutil.CreateGroup(t, ts.db, "crew", owner.ID, alice.ID)

	resp := ts.do(t, http.MethodPost, fmt.Sprintf("/chat/conversations/%d/messages", groupConv.ID), ts.token(t, alice), map[string]string{"content": "hi all"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	view := decode[models.MessageView](t, resp)
	require.NotNil(t, view.GroupID)
	assert.Equal(t, group.ID, *view.GroupID)
}
