package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type SeedDevOptions struct {
	// Employees maps terminal PIN (external id) to display name.
	Employees map[string]string
}

// SeedDev upserts the configured dev employees so pushed punches and
// templates resolve without an external HR system.
func SeedDev(ctx context.Context, conn *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	for ext, name := range opt.Employees {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}

		if _, err := conn.ExecContext(ctx, `
INSERT INTO employees(external_id, name, active, created_at_ms, updated_at_ms)
VALUES (?, ?, 1, ?, ?)
ON CONFLICT(external_id) DO UPDATE SET
  name = excluded.name,
  active = 1,
  updated_at_ms = excluded.updated_at_ms;
`, ext, strings.TrimSpace(name), now, now); err != nil {
			return fmt.Errorf("seed employee %s: %w", ext, err)
		}
	}

	return nil
}
