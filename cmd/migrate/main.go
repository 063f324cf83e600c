// Command migrate runs schema operations for the backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"huddle/internal/config"
	"huddle/internal/database"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func usage() error {
	return fmt.Errorf("usage: go run ./cmd/migrate <up|auto|status|down>")
}

func run() error {
	flag.Parse()
	if flag.NArg() < 1 {
		return usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	cmd := strings.ToLower(strings.TrimSpace(flag.Arg(0)))
	switch cmd {
	case "up":
		db, err := database.OpenSQL(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		if err := database.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("sql migrations failed: %w", err)
		}
		log.Println("sql migrations applied")
	case "auto":
		cfg.DBSchemaMode = database.SchemaModeAuto
		// Connect applies the schema.
		db, err := database.Connect(ctx, cfg)
		if err != nil {
			return fmt.Errorf("auto schema apply failed: %w", err)
		}
		defer func() { _ = database.Close(db) }()
		log.Println("automigrations applied")
	case "status":
		db, err := database.OpenSQL(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		status, err := database.GetSchemaStatus(ctx, db, cfg)
		if err != nil {
			return fmt.Errorf("schema status failed: %w", err)
		}
		log.Printf("mode=%s env=%s driver=%s run_sql=%t run_auto=%t version=%d pending=%d",
			status.Mode, status.Environment, status.Driver, status.WillRunSQL, status.WillRunAutoMigrate,
			status.CurrentVersion, len(status.PendingMigrations))
		for _, m := range status.PendingMigrations {
			log.Printf("pending: %d %s", m.Version, filepath.Base(m.Source))
		}
	case "down":
		db, err := database.OpenSQL(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		if err := database.RollbackMigration(ctx, db); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		log.Println("rolled back the latest migration")
	default:
		return usage()
	}

	return nil
}
