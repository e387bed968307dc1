package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/types"
)

// recentLedgerEntries is how many ledger rows a device status shows.
const recentLedgerEntries = 20

// AdminService backs the operator endpoints.  Like every other producer it
// only enqueues; nothing here talks to a device.
type AdminService struct {
	registry  *DeviceRegistry
	queue     *CommandQueue
	ledger    *CommandLedger
	users     *UserCache
	scheduler *ProvisioningScheduler
	backup    *BackupOrchestrator
	runner    *TaskRunner
	clock     clock.Clock
	logger    *zap.Logger
}

type AdminDeps struct {
	Registry  *DeviceRegistry
	Queue     *CommandQueue
	Ledger    *CommandLedger
	Users     *UserCache
	Scheduler *ProvisioningScheduler
	Backup    *BackupOrchestrator
	Runner    *TaskRunner
	Clock     clock.Clock
	Logger    *zap.Logger
}

func NewAdminService(d AdminDeps) *AdminService {
	return &AdminService{
		registry:  d.Registry,
		queue:     d.Queue,
		ledger:    d.Ledger,
		users:     d.Users,
		scheduler: d.Scheduler,
		backup:    d.Backup,
		runner:    d.Runner,
		clock:     d.Clock,
		logger:    d.Logger,
	}
}

func (s *AdminService) Scheduler() *ProvisioningScheduler { return s.scheduler }

// EnqueueCustom queues an operator-written command verbatim.
func (s *AdminService) EnqueueCustom(ctx context.Context, sn, cmd string) (types.EnqueueResponse, error) {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return types.EnqueueResponse{}, err
	}
	if err := s.queue.Enqueue(ctx, sn, cmd); err != nil {
		return types.EnqueueResponse{}, err
	}
	return s.enqueueResponse(ctx, sn, true)
}

// Clear drops the device's queue and ledger.
func (s *AdminService) Clear(ctx context.Context, sn string) (types.ClearResponse, error) {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return types.ClearResponse{}, err
	}
	q, l, err := s.ledger.Clear(ctx, sn)
	if err != nil {
		return types.ClearResponse{}, err
	}
	s.logger.Info("device queue cleared", zap.String("sn", sn), zap.Int("queued", q), zap.Int("ledger", l))
	return types.ClearResponse{OK: true, Serial: sn, DroppedQueued: q, DroppedLedger: l}, nil
}

// RefreshUsers asks the device to push its full user list.
func (s *AdminService) RefreshUsers(ctx context.Context, sn string) (types.EnqueueResponse, error) {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return types.EnqueueResponse{}, err
	}
	added, err := s.queue.EnqueueUnique(ctx, sn, CmdQueryUsers())
	if err != nil {
		return types.EnqueueResponse{}, err
	}
	return s.enqueueResponse(ctx, sn, added)
}

// DeleteUser removes pin from the device.  An active grant for the pin is
// cancelled instead so its timer cannot issue a second delete.
func (s *AdminService) DeleteUser(ctx context.Context, sn, pin string) (types.EnqueueResponse, error) {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return types.EnqueueResponse{}, err
	}
	pin = strings.TrimSpace(pin)
	if !pinPattern.MatchString(pin) {
		return types.EnqueueResponse{}, ErrInvalidPIN
	}

	err = s.scheduler.Cancel(ctx, pin, sn)
	if err == nil {
		return s.enqueueResponse(ctx, sn, true)
	}
	if !errors.Is(err, ErrNoActiveGrant) {
		return types.EnqueueResponse{}, err
	}

	added, err := s.queue.EnqueueUnique(ctx, sn, CmdDeleteUser(pin))
	if err != nil {
		return types.EnqueueResponse{}, err
	}
	if _, err := s.users.Remove(ctx, sn, pin); err != nil {
		return types.EnqueueResponse{}, err
	}
	return s.enqueueResponse(ctx, sn, added)
}

// FetchSince queues an attendance query from just after the device's
// cursor up to now.  A device with no cursor gets a full query.
func (s *AdminService) FetchSince(ctx context.Context, sn string) (types.EnqueueResponse, error) {
	rec, _, err := s.registry.GetState(ctx, sn)
	if err != nil {
		return types.EnqueueResponse{}, err
	}
	sn = strings.TrimSpace(sn)

	cmd := CmdQueryAttLog(time.Time{}, time.Time{})
	if !rec.LastCursor.IsZero() {
		loc := s.scheduler.location
		from := rec.LastCursor.Add(time.Second).In(loc)
		cmd = CmdQueryAttLog(from, s.clock.Now().In(loc))
	}
	added, err := s.queue.EnqueueUnique(ctx, sn, cmd)
	if err != nil {
		return types.EnqueueResponse{}, err
	}
	resp, err := s.enqueueResponse(ctx, sn, added)
	resp.Command = cmd
	return resp, err
}

func (s *AdminService) PlanBackup(ctx context.Context, sn string, opts BackupOptions) (types.BackupResponse, error) {
	plan, err := s.backup.PlanBackup(ctx, sn, opts)
	if err != nil {
		return types.BackupResponse{}, err
	}
	now := s.clock.Now()
	return types.BackupResponse{
		OK:               true,
		Serial:           plan.Serial,
		Commands:         plan.Commands,
		EstimatedSeconds: int64(plan.Estimate / time.Second),
		Estimate:         "about " + strings.TrimSpace(humanize.RelTime(now, now.Add(plan.Estimate), "", "")),
	}, nil
}

// DeviceStatus reports one device's queue and ledger.
func (s *AdminService) DeviceStatus(ctx context.Context, sn string) (types.DeviceStatus, bool, error) {
	rec, ok, err := s.registry.GetState(ctx, sn)
	if err != nil || !ok {
		return types.DeviceStatus{}, ok, err
	}
	pending, err := s.queue.Pending(ctx, rec.Serial)
	if err != nil {
		return types.DeviceStatus{}, true, err
	}
	ledger, err := s.ledger.List(ctx, rec.Serial)
	if err != nil {
		return types.DeviceStatus{}, true, err
	}

	st := types.DeviceStatus{
		Serial: rec.Serial,
		Queued: make([]string, 0, len(pending)),
		Ledger: Summarize(ledger),
	}
	if !rec.LastSeen.IsZero() {
		st.LastSeen = formatTime(rec.LastSeen)
		st.SeenAgo = s.ago(rec.LastSeen)
	}
	for _, c := range pending {
		st.Queued = append(st.Queued, c.Command)
	}
	if n := len(ledger); n > recentLedgerEntries {
		ledger = ledger[n-recentLedgerEntries:]
	}
	for i := len(ledger) - 1; i >= 0; i-- {
		st.Recent = append(st.Recent, commandView(ledger[i]))
	}
	return st, true, nil
}

// Status reports every known device plus follow-up task counters.
func (s *AdminService) Status(ctx context.Context) (types.StatusResponse, error) {
	serials, err := s.registry.store.Serials(ctx)
	if err != nil {
		return types.StatusResponse{}, err
	}
	out := types.StatusResponse{OK: true, Devices: make([]types.DeviceStatus, 0, len(serials))}
	for _, sn := range serials {
		st, ok, err := s.DeviceStatus(ctx, sn)
		if err != nil {
			return types.StatusResponse{}, err
		}
		if ok {
			out.Devices = append(out.Devices, st)
		}
	}
	if s.runner != nil {
		out.FollowUp = s.runner.Stats()
	}
	return out, nil
}

// Devices lists the registry.
func (s *AdminService) Devices(ctx context.Context) (types.DeviceListResponse, error) {
	recs, err := s.registry.ListStates(ctx)
	if err != nil {
		return types.DeviceListResponse{}, err
	}
	out := types.DeviceListResponse{OK: true, Devices: make([]types.DeviceView, 0, len(recs))}
	for _, rec := range recs {
		users, err := s.users.List(ctx, rec.Serial)
		if err != nil {
			return types.DeviceListResponse{}, err
		}
		v := types.DeviceView{
			Serial:     rec.Serial,
			LastRemote: rec.LastRemote,
			PinField:   rec.PinField,
			Status:     rec.Status,
			Users:      len(users),
		}
		if !rec.FirstSeen.IsZero() {
			v.FirstSeen = formatTime(rec.FirstSeen)
		}
		if !rec.LastSeen.IsZero() {
			v.LastSeen = formatTime(rec.LastSeen)
			v.SeenAgo = s.ago(rec.LastSeen)
		}
		if !rec.LastCursor.IsZero() {
			v.LastCursor = formatTime(rec.LastCursor)
		}
		if !rec.LastConnectivityTest.IsZero() {
			v.LastConnectivityTest = formatTime(rec.LastConnectivityTest)
		}
		out.Devices = append(out.Devices, v)
	}
	return out, nil
}

func (s *AdminService) enqueueResponse(ctx context.Context, sn string, queued bool) (types.EnqueueResponse, error) {
	pending, err := s.queue.Pending(ctx, sn)
	if err != nil {
		return types.EnqueueResponse{}, err
	}
	return types.EnqueueResponse{OK: true, Serial: sn, Queued: queued, Pending: len(pending)}, nil
}

func (s *AdminService) ago(t time.Time) string {
	return humanize.RelTime(t, s.clock.Now(), "ago", "from now")
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func commandView(c store.SentCommand) types.CommandView {
	v := types.CommandView{
		ID:       c.ID,
		Command:  c.Command,
		QueuedAt: formatTime(c.QueuedAt),
		Bytes:    c.Bytes,
		Remote:   c.Remote,
	}
	if c.DeliveredAt != nil {
		v.DeliveredAt = formatTime(*c.DeliveredAt)
	}
	if c.ExecutedAt != nil {
		v.ExecutedAt = formatTime(*c.ExecutedAt)
	}
	if c.StaleAt != nil {
		v.StaleAt = formatTime(*c.StaleAt)
	}
	if c.ReturnCode != nil {
		code := *c.ReturnCode
		v.ReturnCode = &code
	}
	return v
}
