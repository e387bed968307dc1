package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Janus/server/internal/db"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
)

type BiometricStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewBiometricStore(db *sql.DB, writer *dbpkg.Worker) *BiometricStore {
	return &BiometricStore{db: db, writer: writer}
}

func (s *BiometricStore) FindTemplate(ctx context.Context, employeeID int64, kind store.BiometricKind, finger int) (store.TemplateRecord, bool, error) {
	rec := store.TemplateRecord{EmployeeID: employeeID, Kind: kind, FingerIndex: finger}
	var updatedMs int64

	err := s.db.QueryRowContext(ctx, `
SELECT template_id, payload, content_hash, source_serial, updated_at_ms
FROM biometric_templates
WHERE employee_id = ? AND kind = ? AND finger_index = ?;
`, employeeID, string(kind), finger).Scan(&rec.ID, &rec.Payload, &rec.ContentHash, &rec.SourceSerial, &updatedMs)

	if errors.Is(err, sql.ErrNoRows) {
		return store.TemplateRecord{}, false, nil
	}
	if err != nil {
		return store.TemplateRecord{}, false, fmt.Errorf("FindTemplate query: %w", err)
	}
	rec.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return rec, true, nil
}

// InsertTemplate fails on the (employee, kind, finger) unique constraint if
// a template already exists; callers decide insert vs update.
func (s *BiometricStore) InsertTemplate(ctx context.Context, rec store.TemplateRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	ms := rec.UpdatedAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO biometric_templates(
  employee_id, kind, finger_index, payload, content_hash, source_serial,
  created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`, rec.EmployeeID, string(rec.Kind), rec.FingerIndex, rec.Payload, rec.ContentHash,
			rec.SourceSerial, ms, ms); err != nil {
			return fmt.Errorf("InsertTemplate: %w", err)
		}
		return nil
	})
}

func (s *BiometricStore) UpdateTemplate(ctx context.Context, rec store.TemplateRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	ms := rec.UpdatedAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE biometric_templates
SET payload = ?,
    content_hash = ?,
    source_serial = ?,
    updated_at_ms = ?
WHERE employee_id = ? AND kind = ? AND finger_index = ?;
`, rec.Payload, rec.ContentHash, rec.SourceSerial, ms,
			rec.EmployeeID, string(rec.Kind), rec.FingerIndex)
		if err != nil {
			return fmt.Errorf("UpdateTemplate: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("UpdateTemplate: no template %d/%s/%d", rec.EmployeeID, rec.Kind, rec.FingerIndex)
		}
		return nil
	})
}
