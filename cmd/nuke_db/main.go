// Command nuke_db wipes development data. By default it empties every
// table; -schema drops the PostgreSQL schema entirely.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"huddle/internal/config"
	"huddle/internal/database"
	"huddle/internal/seed"
)

func main() {
	dropSchema := flag.Bool("schema", false, "Drop and recreate the public schema (postgres only)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	switch strings.ToLower(cfg.Env) {
	case "production", "prod", "staging":
		log.Fatalf("refusing to nuke a %s database", cfg.Env)
	}

	if *dropSchema {
		if cfg.DBDriver != "" && cfg.DBDriver != "postgres" {
			log.Fatalf("-schema needs postgres, got %q", cfg.DBDriver)
		}
		db, err := database.OpenSQL(cfg)
		if err != nil {
			log.Fatal(err)
		}
		defer func() { _ = db.Close() }()

		fmt.Println("Dropping schema...")
		if _, err := db.Exec("DROP SCHEMA public CASCADE; CREATE SCHEMA public;"); err != nil {
			log.Fatalf("failed to nuke schema: %v", err)
		}
		if _, err := db.Exec("GRANT ALL ON SCHEMA public TO public;"); err != nil {
			log.Fatalf("failed to grant schema permissions: %v", err)
		}
		fmt.Println("Schema dropped. Run ./cmd/migrate up to recreate it.")
		return
	}

	db, err := database.Connect(context.Background(), cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = database.Close(db) }()

	fmt.Println("Clearing all tables...")
	if err := seed.ClearAll(db); err != nil {
		log.Fatalf("failed to clear tables: %v", err)
	}
	fmt.Println("Database nuked.")
}
