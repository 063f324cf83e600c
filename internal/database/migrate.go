package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"huddle/internal/config"
	"huddle/internal/middleware"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationsDir = "migrations"

// Seams over goose so the runner can be tested without a live database.
var (
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.UpContext(ctx, db, dir, opts...)
	}
	gooseDownContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.DownContext(ctx, db, dir, opts...)
	}
	gooseVersionContext = func(ctx context.Context, db *sql.DB) (int64, error) {
		return goose.GetDBVersionContext(ctx, db)
	}
)

func setupGoose() error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}

// OpenSQL opens a plain database/sql handle over pgx for migration tooling.
func OpenSQL(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("pgx", PostgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open pgx connection: %w", err)
	}
	return db, nil
}

// RunMigrations applies every pending embedded migration.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	version, err := gooseVersionContext(ctx, db)
	if err == nil {
		middleware.Logger.Info("Migrations applied", slog.Int64("version", version))
	}
	return nil
}

// RollbackMigration reverts the most recently applied migration.
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}
	if err := gooseDownContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	middleware.Logger.Info("Migration rolled back")
	return nil
}

// Migration describes one embedded migration file.
type Migration struct {
	Version int64
	Source  string
}

// GetMigrations lists the embedded migrations in version order.
func GetMigrations() ([]Migration, error) {
	if err := setupGoose(); err != nil {
		return nil, err
	}
	collected, err := goose.CollectMigrations(migrationsDir, 0, goose.MaxVersion)
	if err != nil {
		return nil, fmt.Errorf("collect migrations: %w", err)
	}
	out := make([]Migration, 0, len(collected))
	for _, m := range collected {
		out = append(out, Migration{Version: m.Version, Source: m.Source})
	}
	return out, nil
}
