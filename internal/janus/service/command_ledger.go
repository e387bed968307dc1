package service

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/types"
)

// DefaultStaleAfter is how long a delivered command may go unconfirmed
// before a sweep flags it stale.
const DefaultStaleAfter = 90 * time.Second

// CommandResult is one line of a device's completion report.
type CommandResult struct {
	ID     int64
	Return *int
}

// CommandLedger tracks dispatched commands through
// queued -> delivered -> executed | stale.  Unknown devices and ids are
// ignored everywhere: devices do not report consistent state.
type CommandLedger struct {
	store      store.DeviceStateStore
	clock      clock.Clock
	staleAfter time.Duration
}

func NewCommandLedger(st store.DeviceStateStore, clk clock.Clock, staleAfter time.Duration) *CommandLedger {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &CommandLedger{store: st, clock: clk, staleAfter: staleAfter}
}

func (l *CommandLedger) StaleAfter() time.Duration { return l.staleAfter }

// RecordSent registers a command handed to a device outside the queue.
func (l *CommandLedger) RecordSent(ctx context.Context, sn, text, remote string) (int64, error) {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return 0, err
	}
	id, err := l.store.NextCommandID(ctx)
	if err != nil {
		return 0, err
	}
	now := l.clock.Now().UTC()
	err = l.store.Update(ctx, sn, func(st *store.DeviceState) error {
		st.Ledger = append(st.Ledger, store.SentCommand{
			ID:       id,
			Command:  text,
			QueuedAt: now,
			Remote:   remote,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// MarkDelivered stamps ids as delivered with the size of the response
// that carried them.
func (l *CommandLedger) MarkDelivered(ctx context.Context, sn string, ids []int64, byteCount int) error {
	sn, err := normalizeSerial(sn)
	if err != nil || len(ids) == 0 {
		return err
	}
	now := l.clock.Now().UTC()
	want := idSet(ids)
	_, err = l.store.UpdateIfExists(ctx, sn, func(st *store.DeviceState) error {
		for i := range st.Ledger {
			c := &st.Ledger[i]
			if _, ok := want[c.ID]; !ok || c.DeliveredAt != nil {
				continue
			}
			t := now
			c.DeliveredAt = &t
			c.Bytes = byteCount
		}
		return nil
	})
	return err
}

// MarkExecuted is RecordResults without return codes.
func (l *CommandLedger) MarkExecuted(ctx context.Context, sn string, ids []int64) (int, error) {
	results := make([]CommandResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, CommandResult{ID: id})
	}
	return l.RecordResults(ctx, sn, results)
}

// RecordResults marks the reported ids executed and clears any stale
// flag.  Repeat reports for an id are ignored.  It returns the number of
// entries that changed state.
func (l *CommandLedger) RecordResults(ctx context.Context, sn string, results []CommandResult) (int, error) {
	sn, err := normalizeSerial(sn)
	if err != nil || len(results) == 0 {
		return 0, err
	}
	now := l.clock.Now().UTC()
	byID := make(map[int64]CommandResult, len(results))
	for _, r := range results {
		if _, dup := byID[r.ID]; !dup {
			byID[r.ID] = r
		}
	}

	marked := 0
	_, err = l.store.UpdateIfExists(ctx, sn, func(st *store.DeviceState) error {
		for i := range st.Ledger {
			c := &st.Ledger[i]
			r, ok := byID[c.ID]
			if !ok || c.ExecutedAt != nil {
				continue
			}
			t := now
			c.ExecutedAt = &t
			c.StaleAt = nil
			if r.Return != nil {
				code := *r.Return
				c.ReturnCode = &code
			}
			marked++
		}
		return nil
	})
	return marked, err
}

// SweepStale flags delivered, unexecuted entries older than the threshold.
// It runs whenever the device contacts the gateway, so staleness is only
// as fresh as the device's last request.
func (l *CommandLedger) SweepStale(ctx context.Context, sn string) (int, error) {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return 0, err
	}
	now := l.clock.Now().UTC()
	cutoff := now.Add(-l.staleAfter)

	flagged := 0
	_, err = l.store.UpdateIfExists(ctx, sn, func(st *store.DeviceState) error {
		for i := range st.Ledger {
			c := &st.Ledger[i]
			if c.DeliveredAt == nil || c.ExecutedAt != nil || c.StaleAt != nil {
				continue
			}
			if c.DeliveredAt.After(cutoff) {
				continue
			}
			t := now
			c.StaleAt = &t
			flagged++
		}
		return nil
	})
	return flagged, err
}

// List returns a copy of the device's ledger, oldest first.
func (l *CommandLedger) List(ctx context.Context, sn string) ([]store.SentCommand, error) {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return nil, err
	}
	var out []store.SentCommand
	_, err = l.store.View(ctx, sn, func(st *store.DeviceState) error {
		out = append([]store.SentCommand(nil), st.Ledger...)
		return nil
	})
	return out, err
}

func Summarize(entries []store.SentCommand) types.LedgerSummary {
	s := types.LedgerSummary{Total: len(entries)}
	for _, c := range entries {
		if c.DeliveredAt != nil {
			s.Delivered++
		}
		switch {
		case c.ExecutedAt != nil:
			s.Executed++
		case c.StaleAt != nil:
			s.Stale++
		case c.DeliveredAt != nil:
			s.Pending++
		}
	}
	return s
}

// Clear drops the device's queue and ledger.  It is the only way a stale
// flag goes away without an execution report.
func (l *CommandLedger) Clear(ctx context.Context, sn string) (queued, ledger int, err error) {
	sn, err = normalizeSerial(sn)
	if err != nil {
		return 0, 0, err
	}
	_, err = l.store.UpdateIfExists(ctx, sn, func(st *store.DeviceState) error {
		queued, ledger = len(st.Queue), len(st.Ledger)
		st.Queue = nil
		st.Ledger = nil
		return nil
	})
	return queued, ledger, err
}

// Prune drops executed and stale entries whose last transition is older
// than before, across all devices.
func (l *CommandLedger) Prune(ctx context.Context, before time.Time) (int, error) {
	serials, err := l.store.Serials(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, sn := range serials {
		_, err := l.store.UpdateIfExists(ctx, sn, func(st *store.DeviceState) error {
			kept := st.Ledger[:0]
			for _, c := range st.Ledger {
				if settledBefore(c, before) {
					total++
					continue
				}
				kept = append(kept, c)
			}
			st.Ledger = kept
			return nil
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func settledBefore(c store.SentCommand, before time.Time) bool {
	switch {
	case c.ExecutedAt != nil:
		return c.ExecutedAt.Before(before)
	case c.StaleAt != nil:
		return c.StaleAt.Before(before)
	}
	return false
}

func idSet(ids []int64) map[int64]struct{} {
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
