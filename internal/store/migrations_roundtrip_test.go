package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Runs against a disposable database named by INKWELL_TEST_DATABASE_URL.
func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("INKWELL_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("INKWELL_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn, PoolConfig{})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	migrations := os.DirFS(filepath.Join("..", "..", "db", "migrations"))
	if err := Migrate(ctx, db, migrations); err != nil {
		t.Fatalf("migrate up (pass 1): %v", err)
	}
	if err := Rollback(ctx, db, migrations); err != nil {
		t.Fatalf("migrate down: %v", err)
	}

	var remaining int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM schema_migrations`).Scan(&remaining); err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected rollback to clear schema_migrations, got %d rows", remaining)
	}

	if err := Migrate(ctx, db, migrations); err != nil {
		t.Fatalf("migrate up (pass 2): %v", err)
	}
	if err := Migrate(ctx, db, migrations); err != nil {
		t.Fatalf("migrate up is not idempotent: %v", err)
	}

	var slug string
	if err := db.QueryRowContext(ctx, `SELECT slug FROM organizations WHERE id='org_all'`).Scan(&slug); err != nil {
		t.Fatalf("load default organization: %v", err)
	}
	if slug != "all" {
		t.Fatalf("expected default organization slug all, got %q", slug)
	}

	var types int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM organization_types`).Scan(&types); err != nil {
		t.Fatalf("count organization types: %v", err)
	}
	if types != 3 {
		t.Fatalf("expected 3 seeded organization types, got %d", types)
	}
}
