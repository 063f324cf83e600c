package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"huddle/internal/config"
	"huddle/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestConfigurePool(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	cfg := &config.Config{
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           5,
		DBConnMaxLifetimeMinutes: 15,
	}
	require.NoError(t, configurePool(db, cfg))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 10, sqlDB.Stats().MaxOpenConnections)
}

func TestSchemaPolicy(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.Config
		wantSQL  bool
		wantAuto bool
		wantErr  bool
	}{
		{"hybrid dev", config.Config{Env: "development", DBDriver: "postgres", DBSchemaMode: "hybrid"}, true, true, false},
		{"hybrid prod", config.Config{Env: "production", DBDriver: "postgres", DBSchemaMode: "hybrid"}, true, false, false},
		{"empty mode defaults to hybrid", config.Config{Env: "development", DBDriver: "postgres"}, true, true, false},
		{"sql only", config.Config{Env: "development", DBDriver: "postgres", DBSchemaMode: "sql"}, true, false, false},
		{"auto dev", config.Config{Env: "development", DBDriver: "postgres", DBSchemaMode: "auto"}, false, true, false},
		{"auto prod refused", config.Config{Env: "prod", DBDriver: "postgres", DBSchemaMode: "auto"}, false, false, true},
		{"sqlite always auto", config.Config{Env: "test", DBDriver: "sqlite", DBSchemaMode: "sql"}, false, true, false},
		{"sqlite in staging refused", config.Config{Env: "staging", DBDriver: "sqlite"}, false, false, true},
		{"unknown mode", config.Config{Env: "development", DBDriver: "postgres", DBSchemaMode: "nope"}, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runSQL, runAuto, err := schemaPolicy(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, runSQL)
			assert.Equal(t, tt.wantAuto, runAuto)
		})
	}
}

func TestApplySchema_SQLiteAutoMigrates(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:schema_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	cfg := &config.Config{Env: "test", DBDriver: "sqlite"}
	require.NoError(t, ApplySchema(context.Background(), db, cfg))

	for _, model := range PersistentModels() {
		assert.True(t, db.Migrator().HasTable(model), "missing table for %T", model)
	}
}

func TestPersistentModels_IncludesCoreTables(t *testing.T) {
	want := map[string]bool{
		"*models.User":             false,
		"*models.Message":          false,
		"*models.TokenRevocation":  false,
		"*models.ModerationAction": false,
		"*models.AuditEvent":       false,
	}
	for _, model := range PersistentModels() {
		switch model.(type) {
		case *models.User:
			want["*models.User"] = true
		case *models.Message:
			want["*models.Message"] = true
		case *models.TokenRevocation:
			want["*models.TokenRevocation"] = true
		case *models.ModerationAction:
			want["*models.ModerationAction"] = true
		case *models.AuditEvent:
			want["*models.AuditEvent"] = true
		}
	}
	for name, found := range want {
		assert.True(t, found, "PersistentModels should include %s", name)
	}
}

func TestRunMigrations_UsesEmbeddedDir(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	origUp, origVersion := gooseUpContext, gooseVersionContext
	defer func() { gooseUpContext, gooseVersionContext = origUp, origVersion }()

	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}
	gooseVersionContext = func(ctx context.Context, db *sql.DB) (int64, error) { return 1, nil }

	require.NoError(t, RunMigrations(context.Background(), db))
	assert.Equal(t, migrationsDir, gotDir)
}

func TestRunMigrations_PropagatesError(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}

	err = RunMigrations(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRollbackMigration_PropagatesError(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseDownContext
	defer func() { gooseDownContext = orig }()
	gooseDownContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("no migration")
	}

	assert.Error(t, RollbackMigration(context.Background(), db))
}

func TestGetMigrations_ListsEmbeddedFiles(t *testing.T) {
	all, err := GetMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, int64(1), all[0].Version)
}

func TestGetSchemaStatus_ReportsPending(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseVersionContext
	defer func() { gooseVersionContext = orig }()
	gooseVersionContext = func(ctx context.Context, db *sql.DB) (int64, error) { return 0, nil }

	cfg := &config.Config{Env: "development", DBDriver: "postgres", DBSchemaMode: "sql"}
	status, err := GetSchemaStatus(context.Background(), db, cfg)
	require.NoError(t, err)
	assert.True(t, status.WillRunSQL)
	assert.False(t, status.WillRunAutoMigrate)
	assert.NotEmpty(t, status.PendingMigrations)
}
