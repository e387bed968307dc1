package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
)

type deviceSlot struct {
	mu    sync.Mutex
	state store.DeviceState
}

// DeviceStore is the in-memory DeviceStateStore.  Each serial has its own
// slot lock; the map lock is held only long enough to find or create a slot.
type DeviceStore struct {
	mu      sync.RWMutex
	devices map[string]*deviceSlot
	nextID  atomic.Int64
}

func NewDeviceStore() *DeviceStore {
	return &DeviceStore{
		devices: make(map[string]*deviceSlot),
	}
}

func (s *DeviceStore) slot(serial string, create bool) *deviceSlot {
	s.mu.RLock()
	sl, ok := s.devices[serial]
	s.mu.RUnlock()
	if ok || !create {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok = s.devices[serial]; ok {
		return sl
	}
	sl = &deviceSlot{state: store.DeviceState{
		Device: store.DeviceRecord{Serial: serial},
		Users:  make(map[string]store.UserEntry),
	}}
	s.devices[serial] = sl
	return sl
}

func (s *DeviceStore) Update(ctx context.Context, serial string, fn func(*store.DeviceState) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sl := s.slot(serial, true)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return fn(&sl.state)
}

func (s *DeviceStore) UpdateIfExists(ctx context.Context, serial string, fn func(*store.DeviceState) error) (bool, error) {
	return s.View(ctx, serial, fn)
}

func (s *DeviceStore) View(ctx context.Context, serial string, fn func(*store.DeviceState) error) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	sl := s.slot(serial, false)
	if sl == nil {
		return false, nil
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return true, fn(&sl.state)
}

func (s *DeviceStore) Serials(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.devices))
	for sn := range s.devices {
		out = append(out, sn)
	}
	sort.Strings(out)
	return out, nil
}

func (s *DeviceStore) NextCommandID(_ context.Context) (int64, error) {
	return s.nextID.Add(1), nil
}

// Export returns a deep copy of every device's state and the last issued
// command id, for snapshotting.
func (s *DeviceStore) Export() ([]store.DeviceState, int64) {
	s.mu.RLock()
	slots := make([]*deviceSlot, 0, len(s.devices))
	for _, sl := range s.devices {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	out := make([]store.DeviceState, 0, len(slots))
	for _, sl := range slots {
		sl.mu.Lock()
		out = append(out, cloneState(sl.state))
		sl.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device.Serial < out[j].Device.Serial })
	return out, s.nextID.Load()
}

// Import replaces the store contents.  Command ids continue from lastID.
func (s *DeviceStore) Import(states []store.DeviceState, lastID int64) {
	devices := make(map[string]*deviceSlot, len(states))
	for _, st := range states {
		if st.Device.Serial == "" {
			continue
		}
		st = cloneState(st)
		for _, c := range st.Ledger {
			if c.ID > lastID {
				lastID = c.ID
			}
		}
		devices[st.Device.Serial] = &deviceSlot{state: st}
	}

	s.mu.Lock()
	s.devices = devices
	s.mu.Unlock()
	s.nextID.Store(lastID)
}

func cloneState(in store.DeviceState) store.DeviceState {
	out := in
	if in.Device.Status != nil {
		out.Device.Status = make(map[string]string, len(in.Device.Status))
		for k, v := range in.Device.Status {
			out.Device.Status[k] = v
		}
	}
	out.Queue = append([]store.QueuedCommand(nil), in.Queue...)
	out.Ledger = append([]store.SentCommand(nil), in.Ledger...)
	out.Users = make(map[string]store.UserEntry, len(in.Users))
	for k, v := range in.Users {
		out.Users[k] = v
	}
	return out
}
