package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
)

type EmployeeDirectory struct {
	db *sql.DB
}

func NewEmployeeDirectory(db *sql.DB) *EmployeeDirectory {
	return &EmployeeDirectory{db: db}
}

// ResolveByExternalID only matches active employees.
func (d *EmployeeDirectory) ResolveByExternalID(ctx context.Context, externalID string) (store.EmployeeRef, bool, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return store.EmployeeRef{}, false, nil
	}

	ref := store.EmployeeRef{ExternalID: externalID}
	err := d.db.QueryRowContext(ctx, `
SELECT employee_id, name
FROM employees
WHERE external_id = ? AND active = 1;
`, externalID).Scan(&ref.ID, &ref.Name)

	if errors.Is(err, sql.ErrNoRows) {
		return store.EmployeeRef{}, false, nil
	}
	if err != nil {
		return store.EmployeeRef{}, false, fmt.Errorf("ResolveByExternalID query: %w", err)
	}
	return ref, true, nil
}
