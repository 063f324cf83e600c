// Package auth issues and verifies access and refresh tokens and keeps the
// revocation list.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"huddle/internal/cache"
	"huddle/internal/models"
	"huddle/internal/observability"
	"huddle/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Claims are the JWT claims carried by both token kinds.
type Claims struct {
	Version int              `json:"ver"`
	Type    models.TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// UserID parses the subject.
func (c *Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, models.NewTokenError(models.ErrTypeInvalidToken, "Invalid token subject")
	}
	return uint(id), nil
}

// Pair is the result of a successful login or registration.
type Pair struct {
	Access           string    `json:"access"`
	Refresh          string    `json:"refresh"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Config holds signing parameters.
type Config struct {
	Secret     string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenStore issues, verifies and revokes tokens.
type TokenStore struct {
	cfg Config
	db  *gorm.DB
	rdb *redis.Client
	now func() time.Time
}

// NewTokenStore creates a store. rdb may be nil, in which case revocations
// are only looked up in the database.
func NewTokenStore(db *gorm.DB, rdb *redis.Client, cfg Config) *TokenStore {
	return &TokenStore{cfg: cfg, db: db, rdb: rdb, now: time.Now}
}

// SetClock replaces the time source.
func (s *TokenStore) SetClock(now func() time.Time) {
	s.now = now
}

// Issue signs a fresh access/refresh pair bound to the user's current token version.
func (s *TokenStore) Issue(user *models.User) (*Pair, error) {
	if s.cfg.Secret == "" {
		return nil, models.NewInternalError(errors.New("JWT secret not configured"))
	}
	now := s.now().UTC()

	access, accessExp, err := s.sign(user, models.TokenAccess, now, s.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.sign(user, models.TokenRefresh, now, s.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &Pair{
		Access:           access,
		Refresh:          refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// IssueAccess signs a single access token, used by refresh.
func (s *TokenStore) IssueAccess(user *models.User) (string, time.Time, error) {
	return s.sign(user, models.TokenAccess, s.now().UTC(), s.cfg.AccessTTL)
}

func (s *TokenStore) sign(user *models.User, kind models.TokenKind, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		Version: user.TokenVersion,
		Type:    kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", time.Time{}, models.NewInternalError(fmt.Errorf("sign %s token: %w", kind, err))
	}
	return signed, exp, nil
}

func (s *TokenStore) parse(raw string, opts ...jwt.ParserOption) (*Claims, error) {
	base := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.Secret), nil
	}, append(base, opts...)...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.NewTokenError(models.ErrTypeExpiredToken, "Token has expired")
		}
		return nil, models.NewTokenError(models.ErrTypeInvalidToken, "Invalid token")
	}
	if claims.ID == "" {
		return nil, models.NewTokenError(models.ErrTypeInvalidToken, "Token has no id")
	}
	return claims, nil
}

// Verify checks signature and claims, expiry, revocation and token version, in
// that order, and returns the claims with the user they belong to.
func (s *TokenStore) Verify(ctx context.Context, raw string, kind models.TokenKind) (*Claims, *models.User, error) {
	claims, user, err := s.verify(ctx, raw, kind)
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			observability.TokenVerifyFailures.WithLabelValues(appErr.Code).Inc()
		}
		return nil, nil, err
	}
	return claims, user, nil
}

func (s *TokenStore) verify(ctx context.Context, raw string, kind models.TokenKind) (*Claims, *models.User, error) {
	claims, err := s.parse(raw)
	if err != nil {
		return nil, nil, err
	}
	if claims.Type != kind {
		return nil, nil, models.NewTokenError(models.ErrTypeInvalidToken, fmt.Sprintf("Expected %s token", kind))
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, nil, err
	}

	revoked, err := s.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, nil, err
	}
	if revoked {
		return nil, nil, models.NewTokenError(models.ErrTypeRevokedToken, "Token has been revoked")
	}

	user, err := repository.NewUserRepository(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, &models.AppError{Code: models.ErrTypeNotFound}) {
			return nil, nil, models.NewTokenError(models.ErrTypeInvalidToken, "Token user no longer exists")
		}
		return nil, nil, err
	}
	if claims.Version != user.TokenVersion {
		return nil, nil, models.NewTokenError(models.ErrTypeStaleToken, "Token has been revoked")
	}
	return claims, user, nil
}

// IsRevoked consults the Redis mirror first and the database when Redis is
// not configured or fails.
func (s *TokenStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if s.rdb != nil {
		n, err := s.rdb.Exists(ctx, cache.BlacklistKey(jti)).Result()
		if err == nil {
			return n > 0, nil
		}
		observability.GlobalLogger.WarnContext(ctx, "revocation mirror unavailable, using database",
			slog.String("error", err.Error()))
	}
	return repository.NewRevocationRepository(s.db).Exists(ctx, jti)
}

// Revoke persists the revocation and mirrors it to Redis until the token expires.
func (s *TokenStore) Revoke(ctx context.Context, claims *Claims) error {
	userID, err := claims.UserID()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	expiresAt := now
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.UTC()
	}
	if !expiresAt.After(now) {
		return nil
	}

	rev := &models.TokenRevocation{
		TokenID:   claims.ID,
		UserID:    userID,
		TokenType: claims.Type,
		RevokedAt: now,
		ExpiresAt: expiresAt,
	}
	if err := repository.NewRevocationRepository(s.db).Create(ctx, rev); err != nil {
		return err
	}

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, cache.BlacklistKey(claims.ID), "1", expiresAt.Sub(now)).Err(); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to mirror revocation",
				slog.String("jti", claims.ID), slog.String("error", err.Error()))
		}
	}
	return nil
}

// RevokeRaw revokes a token given in raw form. Signature and audience are
// checked; revocation and version are not. Expired tokens need no revocation.
func (s *TokenStore) RevokeRaw(ctx context.Context, raw string) error {
	claims, err := s.parse(raw)
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) && appErr.Code == models.ErrTypeExpiredToken {
			return nil
		}
		return err
	}
	return s.Revoke(ctx, claims)
}

// BumpVersion increments the user's token version through db, which may be a
// transaction. Every token issued before the bump stops verifying.
func (s *TokenStore) BumpVersion(ctx context.Context, db *gorm.DB, userID uint) (int, error) {
	if db == nil {
		db = s.db
	}
	return repository.NewUserRepository(db).BumpTokenVersion(ctx, userID)
}

// PurgeExpired removes revocation rows whose tokens have expired anyway.
func (s *TokenStore) PurgeExpired(ctx context.Context) (int64, error) {
	return repository.NewRevocationRepository(s.db).DeleteExpired(ctx, s.now().UTC())
}
