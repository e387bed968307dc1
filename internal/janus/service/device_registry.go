package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/types"
)

// DefaultPinFields is the priority order used to find the PIN in a
// device's USER records.  Firmware variants disagree on the name.
var DefaultPinFields = []string{"PIN", "Pin", "PIN2", "UserID", "BadgeNumber"}

type DeviceRegistry struct {
	store     store.DeviceStateStore
	clock     clock.Clock
	pinFields []string
}

func NewDeviceRegistry(st store.DeviceStateStore, clk clock.Clock) *DeviceRegistry {
	return &DeviceRegistry{store: st, clock: clk, pinFields: DefaultPinFields}
}

// Touch records a heartbeat.  There is no registration step: the first
// touch creates the device.
func (r *DeviceRegistry) Touch(ctx context.Context, sn, remote string) error {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return err
	}
	now := r.clock.Now().UTC()
	return r.store.Update(ctx, sn, func(st *store.DeviceState) error {
		if st.Device.FirstSeen.IsZero() {
			st.Device.FirstSeen = now
		}
		st.Device.LastSeen = now
		if remote != "" {
			st.Device.LastRemote = remote
		}
		return nil
	})
}

func (r *DeviceRegistry) RecordConnectivityTest(ctx context.Context, sn string) error {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return err
	}
	now := r.clock.Now().UTC()
	return r.store.Update(ctx, sn, func(st *store.DeviceState) error {
		st.Device.LastConnectivityTest = now
		return nil
	})
}

// RecordCursor advances the incremental-fetch watermark.  Older
// timestamps are ignored so out-of-order uploads never move it back.
func (r *DeviceRegistry) RecordCursor(ctx context.Context, sn string, ts time.Time) error {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return err
	}
	return r.store.Update(ctx, sn, func(st *store.DeviceState) error {
		if ts.After(st.Device.LastCursor) {
			st.Device.LastCursor = ts.UTC()
		}
		return nil
	})
}

// RecordStatus stores the INFO string a device sends with its poll,
// e.g. "Ver 6.60,12,3,1042,192.168.1.201,10,7,12,11,111".
func (r *DeviceRegistry) RecordStatus(ctx context.Context, sn, raw string) error {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	now := r.clock.Now().UTC()
	parsed := ParseStatusInfo(raw)
	return r.store.Update(ctx, sn, func(st *store.DeviceState) error {
		st.Device.StatusRaw = raw
		st.Device.Status = parsed
		st.Device.StatusAt = now
		return nil
	})
}

func (r *DeviceRegistry) GetState(ctx context.Context, sn string) (store.DeviceRecord, bool, error) {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return store.DeviceRecord{}, false, err
	}
	var rec store.DeviceRecord
	ok, err := r.store.View(ctx, sn, func(st *store.DeviceState) error {
		rec = st.Device
		return nil
	})
	return rec, ok, err
}

func (r *DeviceRegistry) ListStates(ctx context.Context) ([]store.DeviceRecord, error) {
	serials, err := r.store.Serials(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]store.DeviceRecord, 0, len(serials))
	for _, sn := range serials {
		rec, ok, err := r.GetState(ctx, sn)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ResolvePin returns the PIN carried by rec.  The first candidate field
// name found for a device is cached and used for all its later records.
func (r *DeviceRegistry) ResolvePin(ctx context.Context, sn string, rec types.Record) (string, error) {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return "", err
	}

	var pin string
	err = r.store.Update(ctx, sn, func(st *store.DeviceState) error {
		if f := st.Device.PinField; f != "" {
			if v := strings.TrimSpace(rec.Fields[f]); v != "" {
				pin = v
				return nil
			}
		}
		for _, f := range r.pinFields {
			if v := strings.TrimSpace(rec.Fields[f]); v != "" {
				if st.Device.PinField == "" {
					st.Device.PinField = f
				}
				pin = v
				return nil
			}
		}
		return nil
	})
	return pin, err
}

var statusInfoFields = []string{
	"firmware", "users", "fingerprints", "attlogs", "ip",
	"fp_version", "face_version", "face_templates", "faces", "functions",
}

// ParseStatusInfo splits a comma separated INFO string into named fields.
// Extra positions are kept as "fieldN".
func ParseStatusInfo(raw string) map[string]string {
	out := make(map[string]string)
	for i, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name := "field" + strconv.Itoa(i)
		if i < len(statusInfoFields) {
			name = statusInfoFields[i]
		}
		out[name] = part
	}
	return out
}
