package store

import (
	"context"
	"time"
)

// DeviceRecord is the registry view of one terminal.
type DeviceRecord struct {
	Serial               string
	FirstSeen            time.Time
	LastSeen             time.Time
	LastCursor           time.Time // incremental-fetch watermark
	LastConnectivityTest time.Time
	LastRemote           string
	PinField             string // detected PIN field name for USER records
	Status               map[string]string
	StatusRaw            string
	StatusAt             time.Time
}

// QueuedCommand is a command string waiting for the device's next poll.
type QueuedCommand struct {
	Command  string
	QueuedAt time.Time
}

// SentCommand tracks one dispatched command through
// queued -> delivered -> executed | stale.
type SentCommand struct {
	ID          int64
	Command     string
	QueuedAt    time.Time
	DeliveredAt *time.Time
	Bytes       int
	ExecutedAt  *time.Time
	StaleAt     *time.Time
	ReturnCode  *int
	Remote      string
}

// UserEntry is the gateway's last-known view of a device-resident user.
type UserEntry struct {
	PIN       string
	Name      string
	Privilege string
	Card      string
	Confirmed bool // seen in a USER record pushed by the device
	UpdatedAt time.Time
}

// DeviceState is everything the gateway holds for a single serial.
type DeviceState struct {
	Device DeviceRecord
	Queue  []QueuedCommand
	Ledger []SentCommand
	Users  map[string]UserEntry
}

// DeviceStateStore holds per-device state.  Update runs fn while holding
// that device's lock, so a single device's mutations are serialized while
// different devices proceed in parallel.  Unknown serials are created on
// Update; UpdateIfExists and View report them as absent instead.
type DeviceStateStore interface {
	Update(ctx context.Context, serial string, fn func(*DeviceState) error) error
	UpdateIfExists(ctx context.Context, serial string, fn func(*DeviceState) error) (bool, error)
	View(ctx context.Context, serial string, fn func(*DeviceState) error) (bool, error)
	Serials(ctx context.Context) ([]string, error)
	NextCommandID(ctx context.Context) (int64, error)
}
