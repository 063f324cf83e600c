package auth

import (
	"context"

	"huddle/internal/models"
)

// Toucher records activity for an authenticated user.
type Toucher interface {
	Touch(ctx context.Context, user *models.User)
}

// Authenticator resolves access tokens to live accounts for HTTP middleware
// and WebSocket upgrades.
type Authenticator struct {
	tokens  *TokenStore
	toucher Toucher
}

// NewAuthenticator wires token verification and presence touches. toucher may be nil.
func NewAuthenticator(tokens *TokenStore, toucher Toucher) *Authenticator {
	return &Authenticator{tokens: tokens, toucher: toucher}
}

// Authenticate verifies an access token and rejects accounts that are not active.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*models.User, error) {
	_, user, err := a.tokens.Verify(ctx, token, models.TokenAccess)
	if err != nil {
		return nil, err
	}
	if err := AccountDenial(user); err != nil {
		return nil, err
	}
	if a.toucher != nil {
		a.toucher.Touch(ctx, user)
	}
	return user, nil
}
