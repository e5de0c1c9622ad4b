package storage

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/touchless-directory/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testPostgresConfig() *config.PostgresConfig {
	cfg := &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "touchless_test",
		User:           "touchless",
		Password:       "touchless_dev_password",
		MaxConnections: 5,
	}
	if v := os.Getenv("TEST_POSTGRES_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("TEST_POSTGRES_PORT"); v != "" {
		cfg.Port = v
	}
	return cfg
}

// setupTestDB connects to the integration database, applies migrations and empties every table.
// The test is skipped in short mode or when Postgres is unavailable.
func setupTestDB(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	_, file, _, _ := runtime.Caller(0)
	migrations := filepath.Join(filepath.Dir(file), "..", "..", "migrations", "postgres")
	if err := RunMigrations(cfg.URL(), migrations); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	ctx := testContext(t)
	if _, err := db.Pool().Exec(ctx, `TRUNCATE job_units, background_jobs, runs, batches, listing_filters, listings`); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
	return db
}

func insertTestListing(t *testing.T, db *PostgresDB, id, website string) {
	t.Helper()
	_, err := db.Pool().Exec(testContext(t),
		`INSERT INTO listings (id, name, website) VALUES ($1, $2, NULLIF($3, ''))`, id, "Wash "+id, website)
	if err != nil {
		t.Fatalf("failed to insert listing: %v", err)
	}
}
