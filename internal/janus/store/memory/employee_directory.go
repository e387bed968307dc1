package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
)

type EmployeeDirectory struct {
	mu        sync.RWMutex
	employees map[string]store.EmployeeRef
	nextID    int64
}

// NewEmployeeDirectory seeds the directory from external id -> name.
func NewEmployeeDirectory(seed map[string]string) *EmployeeDirectory {
	d := &EmployeeDirectory{employees: make(map[string]store.EmployeeRef, len(seed))}
	for ext, name := range seed {
		d.Add(ext, name)
	}
	return d
}

// Add registers an employee and returns its reference.  Adding an
// existing external id returns the existing reference.
func (d *EmployeeDirectory) Add(externalID, name string) store.EmployeeRef {
	externalID = strings.TrimSpace(externalID)
	d.mu.Lock()
	defer d.mu.Unlock()
	if ref, ok := d.employees[externalID]; ok {
		return ref
	}
	d.nextID++
	ref := store.EmployeeRef{ID: d.nextID, ExternalID: externalID, Name: name}
	d.employees[externalID] = ref
	return ref
}

func (d *EmployeeDirectory) ResolveByExternalID(_ context.Context, externalID string) (store.EmployeeRef, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ref, ok := d.employees[strings.TrimSpace(externalID)]
	return ref, ok, nil
}
