// Package bootstrap prepares the database and Redis before the server or a
// maintenance command runs.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"huddle/internal/auth"
	"huddle/internal/cache"
	"huddle/internal/config"
	"huddle/internal/database"
	"huddle/internal/models"
	"huddle/internal/observability"
	"huddle/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedDemo fills an empty database with demo data.
	SeedDemo bool
}

// InitRuntime connects to DB and Redis and optionally seeds demo data.
// The Redis client is nil when Redis is unreachable.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	r := cache.InitRedis(cfg.RedisURL)

	if err := EnsureDevRootAdmin(ctx, cfg, db); err != nil {
		return nil, nil, fmt.Errorf("failed to bootstrap development root admin: %w", err)
	}

	if opts.SeedDemo {
		var count int64
		if err := db.WithContext(ctx).Model(&models.Message{}).Count(&count).Error; err != nil {
			return nil, nil, fmt.Errorf("check existing data: %w", err)
		}
		if count == 0 {
			if _, err := seed.Seed(db, seed.Options{NumUsers: 12, NumGroups: 4, NumMessages: 20}); err != nil {
				return nil, nil, fmt.Errorf("failed to seed demo data: %w", err)
			}
		}
	}

	return db, r, nil
}

// EnsureDevRootAdmin creates or promotes user 1 to an active admin when
// running in development with DEV_BOOTSTRAP_ROOT set.
func EnsureDevRootAdmin(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	if cfg == nil || db == nil {
		return nil
	}
	if !strings.EqualFold(cfg.Env, "development") || !cfg.DevBootstrapRoot {
		return nil
	}

	username := strings.TrimSpace(cfg.DevRootUsername)
	if username == "" {
		username = "huddle_root"
	}
	email := strings.TrimSpace(strings.ToLower(cfg.DevRootEmail))
	if email == "" {
		email = "root@huddle.local"
	}
	if cfg.DevRootPassword == "" {
		return fmt.Errorf("DEV_ROOT_PASSWORD must be set when DEV_BOOTSTRAP_ROOT is enabled")
	}

	hashedPassword, err := auth.HashPassword(cfg.DevRootPassword)
	if err != nil {
		return fmt.Errorf("hash root password: %w", err)
	}

	if err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var root models.User
		findErr := tx.First(&root, 1).Error
		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			root = models.User{
				ID:       1,
				Username: username,
				Email:    email,
				Password: hashedPassword,
				Role:     models.RoleAdmin,
				Status:   models.StatusActive,
				IsActive: true,
			}
			root.Normalize()
			if err := tx.Create(&root).Error; err != nil {
				return err
			}
		case findErr != nil:
			return findErr
		default:
			// Promotion reactivates the account; an admin is never banned.
			updates := map[string]any{
				"role":      models.RoleAdmin,
				"is_staff":  true,
				"status":    models.StatusActive,
				"is_active": true,
			}
			if cfg.DevRootForceCredentials {
				updates["username"] = username
				updates["email"] = email
				updates["password"] = hashedPassword
			}
			if err := tx.Model(&models.User{}).Where("id = ?", 1).Updates(updates).Error; err != nil {
				return err
			}
			if err := tx.Where("user_id = ?", 1).Delete(&models.ModeratorProfile{}).Error; err != nil {
				return err
			}
		}

		// Explicit ID insertion leaves the PostgreSQL sequence behind.
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec(`
				SELECT setval(
					pg_get_serial_sequence('users', 'id'),
					GREATEST((SELECT COALESCE(MAX(id), 1) FROM users), 1),
					true
				)
			`).Error; err != nil {
				return fmt.Errorf("failed to reset users sequence: %w", err)
			}
		}

		return nil
	}); err != nil {
		return err
	}

	observability.GlobalLogger.InfoContext(ctx, "development root admin ensured",
		slog.Uint64("user_id", 1),
		slog.String("email", email),
	)
	return nil
}
