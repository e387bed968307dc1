package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
)

// CommandQueue is the per-device FIFO of outbound command strings.  The
// queue itself does not deduplicate; callers that need that use
// EnqueueUnique.
type CommandQueue struct {
	store store.DeviceStateStore
	clock clock.Clock
}

func NewCommandQueue(st store.DeviceStateStore, clk clock.Clock) *CommandQueue {
	return &CommandQueue{store: st, clock: clk}
}

func validateCommand(cmd string) (string, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return "", ErrEmptyCommand
	}
	if strings.ContainsAny(cmd, "\r\n") {
		return "", ErrInvalidCommand
	}
	return cmd, nil
}

// Enqueue appends cmd to the tail of the device's queue.
func (q *CommandQueue) Enqueue(ctx context.Context, sn, cmd string) error {
	_, err := q.enqueue(ctx, sn, cmd, false)
	return err
}

// EnqueueUnique appends cmd unless an identical command is already
// pending.  It reports whether cmd was added.
func (q *CommandQueue) EnqueueUnique(ctx context.Context, sn, cmd string) (bool, error) {
	return q.enqueue(ctx, sn, cmd, true)
}

// EnqueueAll appends cmds in order under a single lock so a concurrent
// drain sees all of them or none.
func (q *CommandQueue) EnqueueAll(ctx context.Context, sn string, cmds []string) error {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return err
	}
	clean := make([]string, 0, len(cmds))
	for _, c := range cmds {
		c, err := validateCommand(c)
		if err != nil {
			return err
		}
		clean = append(clean, c)
	}
	now := q.clock.Now().UTC()
	return q.store.Update(ctx, sn, func(st *store.DeviceState) error {
		for _, c := range clean {
			st.Queue = append(st.Queue, store.QueuedCommand{Command: c, QueuedAt: now})
		}
		return nil
	})
}

func (q *CommandQueue) enqueue(ctx context.Context, sn, cmd string, unique bool) (bool, error) {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return false, err
	}
	cmd, err = validateCommand(cmd)
	if err != nil {
		return false, err
	}

	now := q.clock.Now().UTC()
	added := false
	err = q.store.Update(ctx, sn, func(st *store.DeviceState) error {
		if unique && hasPending(st, cmd) {
			return nil
		}
		st.Queue = append(st.Queue, store.QueuedCommand{Command: cmd, QueuedAt: now})
		added = true
		return nil
	})
	return added, err
}

func hasPending(st *store.DeviceState, cmd string) bool {
	for _, c := range st.Queue {
		if c.Command == cmd {
			return true
		}
	}
	return false
}

// DrainAll removes every queued command and registers each one in the
// ledger, all under the device lock.  A concurrent Enqueue lands either
// before the snapshot or after it, never both.
func (q *CommandQueue) DrainAll(ctx context.Context, sn, remote string) ([]store.SentCommand, error) {
	sent, _, err := q.drain(ctx, sn, remote, nil)
	return sent, err
}

// Dispatch is DrainAll for a poll: the drained commands are framed with
// sep and stamped delivered in the same locked step, so a drain that
// succeeds always leaves its commands in the ledger as delivered.
func (q *CommandQueue) Dispatch(ctx context.Context, sn, remote, sep string) ([]store.SentCommand, string, error) {
	return q.drain(ctx, sn, remote, func(sent []store.SentCommand) string {
		return FrameCommands(sent, sep)
	})
}

// FrameCommands renders sent as C:<id>:<command> lines joined by sep.
func FrameCommands(sent []store.SentCommand, sep string) string {
	framed := make([]string, len(sent))
	for i, c := range sent {
		framed[i] = "C:" + strconv.FormatInt(c.ID, 10) + ":" + c.Command
	}
	return strings.Join(framed, sep)
}

func (q *CommandQueue) drain(
	ctx context.Context,
	sn, remote string,
	frame func([]store.SentCommand) string,
) ([]store.SentCommand, string, error) {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return nil, "", err
	}

	var (
		out  []store.SentCommand
		body string
	)
	err = q.store.Update(ctx, sn, func(st *store.DeviceState) error {
		if len(st.Queue) == 0 {
			return nil
		}
		// Past this point the drain commits; a caller hanging up must not
		// strand commands between the queue and the ledger.
		ictx := context.WithoutCancel(ctx)
		batch := make([]store.SentCommand, 0, len(st.Queue))
		for _, c := range st.Queue {
			id, err := q.store.NextCommandID(ictx)
			if err != nil {
				return err
			}
			batch = append(batch, store.SentCommand{
				ID:       id,
				Command:  c.Command,
				QueuedAt: c.QueuedAt,
				Remote:   remote,
			})
		}
		if frame != nil {
			body = frame(batch)
			now := q.clock.Now().UTC()
			for i := range batch {
				t := now
				batch[i].DeliveredAt = &t
				batch[i].Bytes = len(body)
			}
		}
		st.Ledger = append(st.Ledger, batch...)
		st.Queue = nil
		out = batch
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return out, body, nil
}

// Pending returns a copy of the device's queue.  Unknown devices have an
// empty queue.
func (q *CommandQueue) Pending(ctx context.Context, sn string) ([]store.QueuedCommand, error) {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return nil, err
	}
	var out []store.QueuedCommand
	_, err = q.store.View(ctx, sn, func(st *store.DeviceState) error {
		out = append([]store.QueuedCommand(nil), st.Queue...)
		return nil
	})
	return out, err
}
