package auth

import (
	"huddle/internal/models"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", models.NewInternalError(err)
	}
	return string(hash), nil
}

// CheckPassword reports whether plain matches hash.
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// AccountDenial returns the error for an account that may not sign in, or nil
// for a live account.
func AccountDenial(user *models.User) error {
	switch {
	case user.IsLive():
		return nil
	case user.Status == models.StatusPending:
		return models.NewForbiddenError("Account is pending admin approval")
	case user.Status == models.StatusSuspended:
		return models.NewForbiddenError("Account is suspended")
	case user.Status == models.StatusBanned:
		return models.NewForbiddenError("Account is banned")
	default:
		return models.NewForbiddenError("Account is inactive")
	}
}
