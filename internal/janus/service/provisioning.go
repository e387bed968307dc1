package service

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
)

var pinPattern = regexp.MustCompile(`^[0-9]{1,9}$`)

// Time zone slots 0 and 1 are device defaults; grants cycle through the rest.
const (
	firstGrantTZ = 2
	lastGrantTZ  = 50
)

// GrantRequest asks for a time-boxed user on one or more devices.  An
// empty PIN is allocated.
type GrantRequest struct {
	PIN     string
	Name    string
	Start   time.Time
	End     time.Time
	Devices []string
}

type GrantDeviceOutcome struct {
	Serial    string
	NoOp      bool
	Scheduled bool
}

type GrantOutcome struct {
	PIN     string
	Name    string
	Start   time.Time
	End     time.Time
	Devices []GrantDeviceOutcome
}

// Grant is an active temporary grant with its remaining time.
type Grant struct {
	PIN       string
	Serial    string
	Name      string
	Start     time.Time
	End       time.Time
	Remaining time.Duration
}

type grantKey struct {
	pin    string
	serial string
}

type grantEntry struct {
	name  string
	start time.Time
	end   time.Time
	timer *clock.Timer
}

// ProvisioningScheduler issues temporary grants and revokes them when
// they end.  The grants map is the single source of truth for whether a
// revocation is still owed: the timer callback and Cancel both remove the
// entry under mu, and only the one that removes it issues the delete.
type ProvisioningScheduler struct {
	queue    *CommandQueue
	users    *UserCache
	clock    clock.Clock
	location *time.Location
	logger   *zap.Logger

	mu     sync.Mutex
	grants map[grantKey]*grantEntry
	nextTZ map[string]int
}

func NewProvisioningScheduler(
	q *CommandQueue,
	users *UserCache,
	clk clock.Clock,
	loc *time.Location,
	logger *zap.Logger,
) *ProvisioningScheduler {
	if loc == nil {
		loc = time.Local
	}
	return &ProvisioningScheduler{
		queue:    q,
		users:    users,
		clock:    clk,
		location: loc,
		logger:   logger,
		grants:   make(map[grantKey]*grantEntry),
		nextTZ:   make(map[string]int),
	}
}

// Grant validates the whole request before touching any state.  Once
// validation passes every device is provisioned even if ctx is cancelled.
func (s *ProvisioningScheduler) Grant(ctx context.Context, req GrantRequest) (GrantOutcome, error) {
	name := sanitizeField(req.Name)
	if name == "" {
		return GrantOutcome{}, ErrInvalidName
	}
	devices, err := normalizeSerials(req.Devices)
	if err != nil {
		return GrantOutcome{}, err
	}
	if !req.End.After(req.Start) {
		return GrantOutcome{}, ErrInvalidWindow
	}
	pin := strings.TrimSpace(req.PIN)
	if pin != "" && !pinPattern.MatchString(pin) {
		return GrantOutcome{}, ErrInvalidPIN
	}
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if pin == "" {
		pin, err = s.allocatePIN(ctx, devices)
		if err != nil {
			return GrantOutcome{}, err
		}
	} else if err := s.checkPINFree(ctx, pin, name, devices); err != nil {
		return GrantOutcome{}, err
	}

	out := GrantOutcome{PIN: pin, Name: name, Start: req.Start, End: req.End}
	now := s.clock.Now()
	for _, sn := range devices {
		res := GrantDeviceOutcome{Serial: sn}

		cached, ok, err := s.users.Get(ctx, sn, pin)
		if err != nil {
			return out, err
		}
		if ok && cached.Name == name {
			res.NoOp = true
			_, res.Scheduled = s.grants[grantKey{pin: pin, serial: sn}]
			out.Devices = append(out.Devices, res)
			continue
		}

		tz := s.takeTZ(sn)
		cmds := []string{
			CmdTimeZone(tz, req.Start.In(s.location), req.End.In(s.location)),
			CmdUpsertUser(pin, name, tz),
		}
		if err := s.queue.EnqueueAll(ctx, sn, cmds); err != nil {
			return out, err
		}
		if err := s.users.Put(ctx, sn, store.UserEntry{PIN: pin, Name: name}); err != nil {
			return out, err
		}

		key := grantKey{pin: pin, serial: sn}
		if old, ok := s.grants[key]; ok {
			old.timer.Stop()
			delete(s.grants, key)
		}
		if req.End.After(now) {
			s.schedule(key, name, req.Start, req.End, req.End.Sub(now))
			res.Scheduled = true
		}
		out.Devices = append(out.Devices, res)
	}

	s.logger.Info("temporary grant issued",
		zap.String("pin", pin),
		zap.Strings("devices", devices),
		zap.Time("end", req.End))
	return out, nil
}

// schedule must be called with mu held.
func (s *ProvisioningScheduler) schedule(key grantKey, name string, start, end time.Time, d time.Duration) {
	e := &grantEntry{name: name, start: start, end: end}
	e.timer = s.clock.AfterFunc(d, func() { s.expire(key, e) })
	s.grants[key] = e
}

func (s *ProvisioningScheduler) expire(key grantKey, e *grantEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[key] != e {
		return
	}
	delete(s.grants, key)
	s.revoke(context.Background(), key)
	s.logger.Info("temporary grant expired",
		zap.String("pin", key.pin), zap.String("sn", key.serial))
}

// Cancel revokes an active grant now.  Without one it reports
// ErrNoActiveGrant and changes nothing.
func (s *ProvisioningScheduler) Cancel(ctx context.Context, pin, sn string) error {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return err
	}
	key := grantKey{pin: strings.TrimSpace(pin), serial: sn}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.grants[key]
	if !ok {
		return ErrNoActiveGrant
	}
	delete(s.grants, key)
	e.timer.Stop()
	s.revoke(ctx, key)
	s.logger.Info("temporary grant cancelled",
		zap.String("pin", key.pin), zap.String("sn", key.serial))
	return nil
}

func (s *ProvisioningScheduler) revoke(ctx context.Context, key grantKey) {
	if _, err := s.queue.EnqueueUnique(ctx, key.serial, CmdDeleteUser(key.pin)); err != nil {
		s.logger.Error("enqueue revocation failed",
			zap.String("pin", key.pin), zap.String("sn", key.serial), zap.Error(err))
	}
	if _, err := s.users.Remove(ctx, key.serial, key.pin); err != nil {
		s.logger.Warn("drop cached user failed",
			zap.String("pin", key.pin), zap.String("sn", key.serial), zap.Error(err))
	}
}

// List returns the grants that have not ended, ordered by device then PIN.
func (s *ProvisioningScheduler) List() []Grant {
	now := s.clock.Now()

	s.mu.Lock()
	out := make([]Grant, 0, len(s.grants))
	for k, e := range s.grants {
		if !e.end.After(now) {
			continue
		}
		out = append(out, Grant{
			PIN:       k.pin,
			Serial:    k.serial,
			Name:      e.name,
			Start:     e.start,
			End:       e.end,
			Remaining: e.end.Sub(now),
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Serial != out[j].Serial {
			return out[i].Serial < out[j].Serial
		}
		return pinLess(out[i].PIN, out[j].PIN)
	})
	return out
}

// Stop cancels every pending timer without revoking.  Grants are held in
// memory only, so a restarted gateway forgets them.
func (s *ProvisioningScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.grants {
		e.timer.Stop()
		delete(s.grants, k)
	}
}

// allocatePIN returns max(used)+1 over the target devices' caches and
// active grants, skipping anything already taken.  Called with mu held.
func (s *ProvisioningScheduler) allocatePIN(ctx context.Context, devices []string) (string, error) {
	used, err := s.users.UsedPINs(ctx, devices)
	if err != nil {
		return "", err
	}
	for k := range s.grants {
		used[k.pin] = struct{}{}
	}

	highest := 0
	for pin := range used {
		if n, err := strconv.Atoi(pin); err == nil && n > highest {
			highest = n
		}
	}
	for n := highest + 1; ; n++ {
		pin := strconv.Itoa(n)
		if _, taken := used[pin]; !taken {
			return pin, nil
		}
	}
}

// checkPINFree rejects an explicit PIN held by a different user on any
// target device.
func (s *ProvisioningScheduler) checkPINFree(ctx context.Context, pin, name string, devices []string) error {
	for _, sn := range devices {
		e, ok, err := s.users.Get(ctx, sn, pin)
		if err != nil {
			return err
		}
		if ok && e.Name != name {
			return ErrPINInUse
		}
	}
	return nil
}

// takeTZ hands out the next time zone slot for sn.  Called with mu held.
func (s *ProvisioningScheduler) takeTZ(sn string) int {
	tz := s.nextTZ[sn]
	if tz < firstGrantTZ || tz > lastGrantTZ {
		tz = firstGrantTZ
	}
	s.nextTZ[sn] = tz + 1
	return tz
}

func normalizeSerials(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, sn := range in {
		sn, err := normalizeSerial(sn)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[sn]; dup {
			continue
		}
		seen[sn] = struct{}{}
		out = append(out, sn)
	}
	if len(out) == 0 {
		return nil, ErrNoDevices
	}
	return out, nil
}
