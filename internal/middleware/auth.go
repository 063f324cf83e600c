package middleware

import (
	"context"
	"strings"

	"huddle/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Authenticator resolves a bearer token to the live account it belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return "", models.NewUnauthorizedError("Authorization header required")
	}

	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", models.NewUnauthorizedError("Invalid authorization header format")
	}
	return parts[1], nil
}

// WebSocketToken prefers the Authorization header and falls back to the
// `token` query parameter, since browsers cannot set headers on upgrades.
func WebSocketToken(c *fiber.Ctx) (string, error) {
	if c.Get(fiber.HeaderAuthorization) != "" {
		return BearerToken(c)
	}
	if token := c.Query("token"); token != "" {
		return token, nil
	}
	return "", models.NewUnauthorizedError("Token required")
}

// AuthRequired authenticates the request and stores the user in locals.
func AuthRequired(a Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := BearerToken(c)
		if err != nil {
			return models.RespondError(c, err)
		}

		user, err := a.Authenticate(c.UserContext(), token)
		if err != nil {
			return models.RespondError(c, err)
		}

		c.Locals(LocalUserID, user.ID)
		c.Locals(LocalUser, user)
		c.SetUserContext(WithUserID(c.UserContext(), user.ID))
		return c.Next()
	}
}

// CurrentUser returns the user stored by AuthRequired.
func CurrentUser(c *fiber.Ctx) (*models.User, bool) {
	u, ok := c.Locals(LocalUser).(*models.User)
	return u, ok && u != nil
}

// RolesRequired rejects authenticated users whose role is not listed.
func RolesRequired(roles ...models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, ok := CurrentUser(c)
		if !ok {
			return models.RespondError(c, models.NewUnauthorizedError("Authentication required"))
		}
		for _, r := range roles {
			if user.Role == r {
				return c.Next()
			}
		}
		return models.RespondError(c, models.NewForbiddenError("Insufficient role for this action"))
	}
}
