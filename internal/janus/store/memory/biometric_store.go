package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
)

type templateKey struct {
	employeeID int64
	kind       store.BiometricKind
	finger     int
}

type BiometricStore struct {
	mu     sync.RWMutex
	data   map[templateKey]store.TemplateRecord
	nextID int64
}

func NewBiometricStore() *BiometricStore {
	return &BiometricStore{
		data: make(map[templateKey]store.TemplateRecord),
	}
}

func (s *BiometricStore) FindTemplate(_ context.Context, employeeID int64, kind store.BiometricKind, finger int) (store.TemplateRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[templateKey{employeeID, kind, finger}]
	return rec, ok, nil
}

func (s *BiometricStore) InsertTemplate(_ context.Context, rec store.TemplateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := templateKey{rec.EmployeeID, rec.Kind, rec.FingerIndex}
	if _, exists := s.data[k]; exists {
		return fmt.Errorf("template %d/%s/%d already exists", rec.EmployeeID, rec.Kind, rec.FingerIndex)
	}
	s.nextID++
	rec.ID = s.nextID
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	s.data[k] = rec
	return nil
}

func (s *BiometricStore) UpdateTemplate(_ context.Context, rec store.TemplateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := templateKey{rec.EmployeeID, rec.Kind, rec.FingerIndex}
	cur, exists := s.data[k]
	if !exists {
		return fmt.Errorf("template %d/%s/%d not found", rec.EmployeeID, rec.Kind, rec.FingerIndex)
	}
	rec.ID = cur.ID
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	s.data[k] = rec
	return nil
}

// Templates returns every stored template.  Test-only helper.
func (s *BiometricStore) Templates() []store.TemplateRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.TemplateRecord, 0, len(s.data))
	for _, rec := range s.data {
		out = append(out, rec)
	}
	return out
}
