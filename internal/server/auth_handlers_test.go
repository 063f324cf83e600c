package server

import (
	"net/http"
	"testing"

	"huddle/internal/auth"
	"huddle/internal/models"
	"huddle/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": "newbie",
		"email":    "newbie@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode[AuthResponse](t, resp)
	assert.Equal(t, "newbie", body.User.Username)
	assert.Equal(t, models.StatusPending, body.User.Status)
	require.NotNil(t, body.Tokens)
	assert.NotEmpty(t, body.Tokens.Access)

	// Pending accounts cannot use their tokens yet.
	resp = ts.do(t, http.MethodGet, "/auth/profile", body.Tokens.Access, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRegister_Validation(t *testing.T) {
	ts := newTestServer(t)
	testutil.CreateUser(t, ts.db, "taken")

	tests := []struct {
		name   string
		body   map[string]string
		status int
	}{
		{"short password", map[string]string{"username": "alice", "email": "a@example.com", "password": "short"}, http.StatusBadRequest},
		{"bad email", map[string]string{"username": "alice", "email": "nope", "password": "secret123"}, http.StatusBadRequest},
		{"bad username", map[string]string{"username": "a b", "email": "a@example.com", "password": "secret123"}, http.StatusBadRequest},
		{"duplicate email", map[string]string{"username": "other", "email": "taken@example.com", "password": "secret123"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/auth/register", "", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)
	user := testutil.CreateUser(t, ts.db, "alice")

	resp := ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "alice",
		"password": testutil.Password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[AuthResponse](t, resp)
	assert.Equal(t, user.ID, body.User.ID)
	assert.NotEmpty(t, body.Tokens.Refresh)

	// Email works as the login too.
	resp = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": testutil.Password,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	st, err := ts.presence.GetUserStatus(t.Context(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OnlineStatusOnline, st.Status)
}

func TestLogin_Failures(t *testing.T) {
	ts := newTestServer(t)
	testutil.CreateUser(t, ts.db, "alice")
	testutil.CreateUser(t, ts.db, "waiting", testutil.WithStatus(models.StatusPending))
	testutil.CreateUser(t, ts.db, "banned", testutil.WithStatus(models.StatusBanned))

	resp := ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "wrong-pass1"})
	assertError(t, resp, http.StatusUnauthorized, models.ErrTypeUnauthorized)

	resp = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "ghost", "password": testutil.Password})
	assertError(t, resp, http.StatusUnauthorized, models.ErrTypeUnauthorized)

	resp = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "waiting", "password": testutil.Password})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	body := decode[models.ErrorResponse](t, resp)
	assert.Equal(t, "Account is pending admin approval", body.Error)

	resp = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "banned", "password": testutil.Password})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice"})
	assertError(t, resp, http.StatusBadRequest, models.ErrTypeValidation)
}

func TestRefreshAndLogout(t *testing.T) {
	ts := newTestServer(t)
	user := testutil.CreateUser(t, ts.db, "alice")
	pair, err := ts.tokens.Issue(user)
	require.NoError(t, err)

	resp := ts.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh": pair.Refresh})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	refreshed := decode[map[string]interface{}](t, resp)
	access, _ := refreshed["access"].(string)
	require.NotEmpty(t, access)

	// An access token is not a refresh token.
	resp = ts.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh": pair.Access})
	assertError(t, resp, http.StatusUnauthorized, models.ErrTypeInvalidToken)

	resp = ts.do(t, http.MethodPost, "/auth/logout", pair.Access, map[string]string{"refresh": pair.Refresh})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	st, err := ts.presence.GetUserStatus(t.Context(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OnlineStatusOffline, st.Status)

	resp = ts.do(t, http.MethodGet, "/auth/profile", pair.Access, nil)
	assertError(t, resp, http.StatusUnauthorized, models.ErrTypeRevokedToken)

	resp = ts.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh": pair.Refresh})
	assertError(t, resp, http.StatusUnauthorized, models.ErrTypeRevokedToken)

	// The token minted by refresh is independent of the revoked one.
	resp = ts.do(t, http.MethodGet, "/auth/profile", access, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpdateProfile(t *testing.T) {
	ts := newTestServer(t)
	user := testutil.CreateUser(t, ts.db, "alice")
	token := ts.token(t, user)

	resp := ts.do(t, http.MethodPut, "/auth/profile", token, map[string]string{
		"first_name": "Alice",
		"bio":        "hello",
		"avatar":     "avatars/alice.png",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[models.User](t, resp)
	assert.Equal(t, "Alice", updated.FirstName)
	assert.Equal(t, "hello", updated.Bio)

	resp = ts.do(t, http.MethodPut, "/auth/profile", token, map[string]string{
		"avatar": "https://evil.example.com/a.png",
	})
	assertError(t, resp, http.StatusBadRequest, models.ErrTypeValidation)
}

func TestTokenPairShape(t *testing.T) {
	ts := newTestServer(t)
	user := testutil.CreateUser(t, ts.db, "alice")
	pair, err := ts.tokens.Issue(user)
	require.NoError(t, err)

	_, got, err := ts.tokens.Verify(t.Context(), pair.Access, models.TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.True(t, pair.RefreshExpiresAt.After(pair.AccessExpiresAt))
	assert.NoError(t, auth.AccountDenial(got))
}
