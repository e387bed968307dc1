package sqlite_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Janus/server/internal/db"
)

// openTestDB returns a fresh in-memory database with the production schema.
// The connection is closed automatically when the test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	name := "test_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := db.OpenInMemory(context.Background(), name)
	if err != nil {
		t.Fatalf("openTestDB: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestWriter returns a db.Worker backed by conn.  The worker is closed
// automatically when the test finishes.
func newTestWriter(t *testing.T, conn *sql.DB) *db.Worker {
	t.Helper()

	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return w
}

// seedEmployee inserts an active employee and returns its id.
func seedEmployee(t *testing.T, conn *sql.DB, externalID, name string) int64 {
	t.Helper()

	now := time.Now().UTC().UnixMilli()
	res, err := conn.ExecContext(context.Background(), `
INSERT INTO employees(external_id, name, active, created_at_ms, updated_at_ms)
VALUES (?, ?, 1, ?, ?);`, externalID, name, now, now)
	if err != nil {
		t.Fatalf("seedEmployee %s: %v", externalID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("seedEmployee last id: %v", err)
	}
	return id
}
