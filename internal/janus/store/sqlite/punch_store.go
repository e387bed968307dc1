package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/Janus/server/internal/db"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
)

type PunchStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewPunchStore(db *sql.DB, writer *dbpkg.Worker) *PunchStore {
	return &PunchStore{db: db, writer: writer}
}

// InsertPunch appends a punch.  Devices re-send unacknowledged logs, so a
// punch with the same (device, employee, time) is silently dropped.
func (s *PunchStore) InsertPunch(ctx context.Context, rec store.PunchRecord) error {
	serial := strings.TrimSpace(rec.DeviceSerial)
	if serial == "" {
		return fmt.Errorf("InsertPunch: empty device serial")
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	method := rec.Method
	if method == "" {
		method = store.VerifyOther
	}

	receivedMs := rec.ReceivedAt.UTC().UnixMilli()
	punchedMs := rec.PunchedAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureDevice(ctx, tx, serial, receivedMs); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO punches(
  device_serial, employee_id, verify_method, punched_at_ms, received_at_ms
) VALUES (?, ?, ?, ?, ?);
`, serial, rec.Employee.ID, string(method), punchedMs, receivedMs); err != nil {
			return fmt.Errorf("InsertPunch: %w", err)
		}
		return nil
	})
}
