package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
)

// PunchStore is an in-memory append-only punch log.
// It is intended for use in tests and dev environments.
type PunchStore struct {
	mu      sync.Mutex
	punches []store.PunchRecord
	err     error
}

func NewPunchStore() *PunchStore {
	return &PunchStore{}
}

func (s *PunchStore) InsertPunch(_ context.Context, rec store.PunchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.punches = append(s.punches, rec)
	return nil
}

// FailWith makes every following insert return err.  Test-only helper.
func (s *PunchStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Punches returns a copy of all recorded punches.  Test-only helper.
func (s *PunchStore) Punches() []store.PunchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.PunchRecord, len(s.punches))
	copy(out, s.punches)
	return out
}
