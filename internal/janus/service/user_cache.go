package service

import (
	"context"
	"sort"
	"strconv"

	"github.com/benbjohnson/clock"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
)

// UserCache is the gateway's per-device view of device-resident users,
// keyed by PIN.
type UserCache struct {
	store store.DeviceStateStore
	clock clock.Clock
}

func NewUserCache(st store.DeviceStateStore, clk clock.Clock) *UserCache {
	return &UserCache{store: st, clock: clk}
}

func (c *UserCache) Get(ctx context.Context, sn, pin string) (store.UserEntry, bool, error) {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return store.UserEntry{}, false, err
	}
	var (
		e  store.UserEntry
		ok bool
	)
	_, err = c.store.View(ctx, sn, func(st *store.DeviceState) error {
		e, ok = st.Users[pin]
		return nil
	})
	return e, ok, err
}

// List returns the device's cached users ordered by PIN.
func (c *UserCache) List(ctx context.Context, sn string) ([]store.UserEntry, error) {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return nil, err
	}
	var out []store.UserEntry
	_, err = c.store.View(ctx, sn, func(st *store.DeviceState) error {
		out = make([]store.UserEntry, 0, len(st.Users))
		for _, e := range st.Users {
			out = append(out, e)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return pinLess(out[i].PIN, out[j].PIN) })
	return out, err
}

// Put writes an unconfirmed entry, as done when provisioning ahead of the
// device's own USER push.
func (c *UserCache) Put(ctx context.Context, sn string, e store.UserEntry) error {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return err
	}
	e.UpdatedAt = c.clock.Now().UTC()
	return c.store.Update(ctx, sn, func(st *store.DeviceState) error {
		if st.Users == nil {
			st.Users = make(map[string]store.UserEntry)
		}
		st.Users[e.PIN] = e
		return nil
	})
}

// ApplyBatch stores the USER records of one push.  Within the batch the
// first record for a PIN wins and later ones are only counted.  A stored
// record replaces any earlier cache entry and marks it confirmed.
func (c *UserCache) ApplyBatch(ctx context.Context, sn string, batch []store.UserEntry) (applied, duplicates int, err error) {
	sn, err = normalizeSerial(sn)
	if err != nil || len(batch) == 0 {
		return 0, 0, err
	}
	now := c.clock.Now().UTC()
	err = c.store.Update(ctx, sn, func(st *store.DeviceState) error {
		if st.Users == nil {
			st.Users = make(map[string]store.UserEntry)
		}
		seen := make(map[string]struct{}, len(batch))
		for _, e := range batch {
			if e.PIN == "" {
				continue
			}
			if _, dup := seen[e.PIN]; dup {
				duplicates++
				continue
			}
			seen[e.PIN] = struct{}{}
			e.Confirmed = true
			e.UpdatedAt = now
			st.Users[e.PIN] = e
			applied++
		}
		return nil
	})
	return applied, duplicates, err
}

func (c *UserCache) Remove(ctx context.Context, sn, pin string) (bool, error) {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return false, err
	}
	removed := false
	_, err = c.store.UpdateIfExists(ctx, sn, func(st *store.DeviceState) error {
		if _, ok := st.Users[pin]; ok {
			delete(st.Users, pin)
			removed = true
		}
		return nil
	})
	return removed, err
}

// UsedPINs collects every cached PIN across the given devices.
func (c *UserCache) UsedPINs(ctx context.Context, serials []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for _, sn := range serials {
		sn, err := normalizeSerial(sn)
		if err != nil {
			return nil, err
		}
		_, err = c.store.View(ctx, sn, func(st *store.DeviceState) error {
			for pin := range st.Users {
				out[pin] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func pinLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil && ai != bi {
		return ai < bi
	}
	return a < b
}
