package db_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/BrandonDHaskell/Janus/server/internal/db"
)

func openDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	conn, err := db.OpenInMemory(context.Background(), name)
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func countEmployees(t *testing.T, conn *sql.DB) int {
	t.Helper()
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM employees`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// ── Worker ───────────────────────────────────────────────────────────────────

func TestWorker_RollsBackOnError(t *testing.T) {
	conn := openDB(t, "worker_rollback")
	w := db.NewWorker(conn)
	defer w.Close()

	boom := errors.New("boom")
	err := w.Do(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO employees(external_id, name, active, created_at_ms, updated_at_ms)
VALUES ('1', 'Bob', 1, 0, 0)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if n := countEmployees(t, conn); n != 0 {
		t.Errorf("expected rollback, found %d rows", n)
	}
}

func TestWorker_DoAfterClose(t *testing.T) {
	conn := openDB(t, "worker_closed")
	w := db.NewWorker(conn)
	w.Close()
	w.Close()

	err := w.Do(context.Background(), func(context.Context, *sql.Tx) error { return nil })
	if !errors.Is(err, db.ErrWorkerClosed) {
		t.Fatalf("expected ErrWorkerClosed, got %v", err)
	}
}

// ── Migrations and seeding ───────────────────────────────────────────────────

func TestMigrate_Idempotent(t *testing.T) {
	conn := openDB(t, "migrate_twice")
	if err := db.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestSeedDev_Upserts(t *testing.T) {
	conn := openDB(t, "seed_dev")
	ctx := context.Background()

	if err := db.SeedDev(ctx, conn, db.SeedDevOptions{Employees: map[string]string{"1001": "Bob", " ": "blank"}}); err != nil {
		t.Fatalf("SeedDev: %v", err)
	}
	if err := db.SeedDev(ctx, conn, db.SeedDevOptions{Employees: map[string]string{"1001": "Robert"}}); err != nil {
		t.Fatalf("SeedDev again: %v", err)
	}

	if n := countEmployees(t, conn); n != 1 {
		t.Fatalf("expected 1 employee, got %d", n)
	}
	var name string
	if err := conn.QueryRow(`SELECT name FROM employees WHERE external_id = '1001'`).Scan(&name); err != nil {
		t.Fatalf("select: %v", err)
	}
	if name != "Robert" {
		t.Errorf("expected updated name, got %q", name)
	}
}
