package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// ensureDevice guarantees a devices row exists for serial so the punches
// foreign key is satisfied, and bumps its last-seen time.
//
// Must be called inside an existing transaction.
func ensureDevice(ctx context.Context, tx *sql.Tx, serial string, nowMs int64) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO devices(serial, first_seen_at_ms, last_seen_at_ms)
VALUES (?, ?, ?)
ON CONFLICT(serial) DO UPDATE SET
  last_seen_at_ms = MAX(devices.last_seen_at_ms, excluded.last_seen_at_ms);
`, serial, nowMs, nowMs); err != nil {
		return fmt.Errorf("ensureDevice %s: %w", serial, err)
	}
	return nil
}
