package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/service"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/store/memory"
)

func countDeletes(cmds []string, pin string) int {
	n := 0
	for _, c := range cmds {
		if c == service.CmdDeleteUser(pin) {
			n++
		}
	}
	return n
}

// ── Validation ───────────────────────────────────────────────────────────────

func TestGrant_EmptyWindowRejectedWithoutSideEffects(t *testing.T) {
	g := newGateway(t)
	now := g.clock.Now()

	_, err := g.scheduler.Grant(context.Background(), service.GrantRequest{
		PIN: "5", Name: "Alice", Start: now, End: now, Devices: []string{"SN001"},
	})
	if !errors.Is(err, service.ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
	if got := g.pending(t, "SN001"); len(got) != 0 {
		t.Errorf("expected no queued commands, got %v", got)
	}
	if len(g.scheduler.List()) != 0 {
		t.Error("expected no scheduled grant")
	}
	if _, ok, _ := g.users.Get(context.Background(), "SN001", "5"); ok {
		t.Error("expected no cached user")
	}
}

func TestGrant_RejectsMalformedRequests(t *testing.T) {
	g := newGateway(t)
	now := g.clock.Now()
	end := now.Add(time.Hour)

	cases := []struct {
		name string
		req  service.GrantRequest
		want error
	}{
		{"no name", service.GrantRequest{Name: "  ", Start: now, End: end, Devices: []string{"SN001"}}, service.ErrInvalidName},
		{"no devices", service.GrantRequest{Name: "A", Start: now, End: end}, service.ErrNoDevices},
		{"blank device", service.GrantRequest{Name: "A", Start: now, End: end, Devices: []string{" "}}, service.ErrInvalidSerial},
		{"bad pin", service.GrantRequest{PIN: "12a", Name: "A", Start: now, End: end, Devices: []string{"SN001"}}, service.ErrInvalidPIN},
		{"reversed", service.GrantRequest{Name: "A", Start: end, End: now, Devices: []string{"SN001"}}, service.ErrInvalidWindow},
	}
	for _, c := range cases {
		if _, err := g.scheduler.Grant(context.Background(), c.req); !errors.Is(err, c.want) {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, err)
		}
	}
}

func TestGrant_PINHeldByAnotherUserRejected(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	now := g.clock.Now()

	if err := g.users.Put(ctx, "SN001", store.UserEntry{PIN: "5", Name: "Bob"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_, err := g.scheduler.Grant(ctx, service.GrantRequest{
		PIN: "5", Name: "Alice", Start: now, End: now.Add(time.Hour), Devices: []string{"SN001"},
	})
	if !errors.Is(err, service.ErrPINInUse) {
		t.Fatalf("expected ErrPINInUse, got %v", err)
	}
}

// ── Allocation and idempotence ───────────────────────────────────────────────

func TestGrant_AllocatesNextPINAcrossDevices(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	now := g.clock.Now()

	_ = g.users.Put(ctx, "SN001", store.UserEntry{PIN: "3", Name: "A"})
	_ = g.users.Put(ctx, "SN002", store.UserEntry{PIN: "41", Name: "B"})
	_ = g.users.Put(ctx, "SN002", store.UserEntry{PIN: "badge-x", Name: "C"})

	out, err := g.scheduler.Grant(ctx, service.GrantRequest{
		Name: "Alice", Start: now, End: now.Add(time.Hour), Devices: []string{"SN001", "SN002"},
	})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if out.PIN != "42" {
		t.Errorf("expected PIN 42, got %q", out.PIN)
	}
	if len(out.Devices) != 2 || !out.Devices[0].Scheduled || !out.Devices[1].Scheduled {
		t.Errorf("unexpected device outcomes %+v", out.Devices)
	}
}

func TestGrant_SameNameAndPINIsNoOp(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	now := g.clock.Now()
	req := service.GrantRequest{
		PIN: "9", Name: "Alice", Start: now, End: now.Add(time.Hour), Devices: []string{"SN001"},
	}

	if _, err := g.scheduler.Grant(ctx, req); err != nil {
		t.Fatalf("first Grant: %v", err)
	}
	out, err := g.scheduler.Grant(ctx, req)
	if err != nil {
		t.Fatalf("second Grant: %v", err)
	}
	if !out.Devices[0].NoOp {
		t.Error("expected second grant to be a no-op")
	}
	if got := g.pending(t, "SN001"); len(got) != 2 {
		t.Errorf("expected 2 queued commands, got %d", len(got))
	}
}

// cancelAfterWrite cancels the caller's context once a write to serial lands.
type cancelAfterWrite struct {
	*memory.DeviceStore
	serial string
	cancel context.CancelFunc
}

func (c cancelAfterWrite) Update(ctx context.Context, sn string, fn func(*store.DeviceState) error) error {
	err := c.DeviceStore.Update(ctx, sn, fn)
	if sn == c.serial {
		c.cancel()
	}
	return err
}

func TestGrant_CancelledMidwayStillCoversEveryDevice(t *testing.T) {
	g := newGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	now := g.clock.Now()

	st := cancelAfterWrite{DeviceStore: memory.NewDeviceStore(), serial: "SN001", cancel: cancel}
	queue := service.NewCommandQueue(st, g.clock)
	users := service.NewUserCache(st, g.clock)
	sched := service.NewProvisioningScheduler(queue, users, g.clock, time.UTC, zapNop())
	defer sched.Stop()

	out, err := sched.Grant(ctx, service.GrantRequest{
		PIN: "12", Name: "Alice", Start: now, End: now.Add(time.Hour), Devices: []string{"SN001", "SN002"},
	})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if len(out.Devices) != 2 {
		t.Fatalf("expected outcomes for both devices, got %+v", out.Devices)
	}
	for _, sn := range []string{"SN001", "SN002"} {
		q, err := queue.Pending(context.Background(), sn)
		if err != nil {
			t.Fatalf("Pending %s: %v", sn, err)
		}
		if len(q) != 2 {
			t.Errorf("%s: expected 2 queued commands, got %d", sn, len(q))
		}
		if _, ok, _ := users.Get(context.Background(), sn, "12"); !ok {
			t.Errorf("%s: grant user not cached", sn)
		}
	}
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

func TestGrant_ExpiresIntoExactlyOneDelete(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	now := g.clock.Now()

	out, err := g.scheduler.Grant(ctx, service.GrantRequest{
		Name: "Alice", Start: now, End: now.Add(time.Minute), Devices: []string{"SN001"},
	})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if len(g.scheduler.List()) != 1 {
		t.Fatal("expected the grant to be listed")
	}

	g.clock.Add(59 * time.Second)
	if n := countDeletes(g.pending(t, "SN001"), out.PIN); n != 0 {
		t.Fatalf("revoked early: %d deletes", n)
	}

	g.clock.Add(time.Second)
	eventually(t, "revocation", func() bool {
		return countDeletes(g.pending(t, "SN001"), out.PIN) == 1
	})
	if len(g.scheduler.List()) != 0 {
		t.Error("expected grant gone from List")
	}
	if _, ok, _ := g.users.Get(ctx, "SN001", out.PIN); ok {
		t.Error("expected cached user removed")
	}

	g.clock.Add(time.Hour)
	if n := countDeletes(g.pending(t, "SN001"), out.PIN); n != 1 {
		t.Errorf("expected exactly one delete, got %d", n)
	}
}

func TestGrant_EndInPastIssuesCommandsWithoutTimer(t *testing.T) {
	g := newGateway(t)
	now := g.clock.Now()

	out, err := g.scheduler.Grant(context.Background(), service.GrantRequest{
		PIN: "8", Name: "Late", Start: now.Add(-2 * time.Hour), End: now.Add(-time.Hour), Devices: []string{"SN001"},
	})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if out.Devices[0].Scheduled {
		t.Error("expected no timer for a past window")
	}
	if got := g.pending(t, "SN001"); len(got) != 2 {
		t.Errorf("expected both commands issued, got %v", got)
	}
	if len(g.scheduler.List()) != 0 {
		t.Error("expected nothing listed")
	}
}

// ── Cancellation ─────────────────────────────────────────────────────────────

func TestCancel_BeforeFireRevokesOnce(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	now := g.clock.Now()

	_, err := g.scheduler.Grant(ctx, service.GrantRequest{
		PIN: "5", Name: "Alice", Start: now, End: now.Add(time.Minute), Devices: []string{"SN001"},
	})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := g.scheduler.Cancel(ctx, "5", "SN001"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	g.clock.Add(2 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	if n := countDeletes(g.pending(t, "SN001"), "5"); n != 1 {
		t.Errorf("expected exactly one delete, got %d", n)
	}
}

func TestCancel_AfterFireReportsNoActiveGrant(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	now := g.clock.Now()

	_, err := g.scheduler.Grant(ctx, service.GrantRequest{
		PIN: "5", Name: "Alice", Start: now, End: now.Add(time.Minute), Devices: []string{"SN001"},
	})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	g.clock.Add(time.Minute)
	eventually(t, "revocation", func() bool {
		return countDeletes(g.pending(t, "SN001"), "5") == 1
	})

	if err := g.scheduler.Cancel(ctx, "5", "SN001"); !errors.Is(err, service.ErrNoActiveGrant) {
		t.Fatalf("expected ErrNoActiveGrant, got %v", err)
	}
	if n := countDeletes(g.pending(t, "SN001"), "5"); n != 1 {
		t.Errorf("expected exactly one delete, got %d", n)
	}
}

func TestCancel_RacingTimerIssuesOneDelete(t *testing.T) {
	for i := 0; i < 20; i++ {
		g := newGateway(t)
		ctx := context.Background()
		now := g.clock.Now()

		_, err := g.scheduler.Grant(ctx, service.GrantRequest{
			PIN: "5", Name: "Alice", Start: now, End: now.Add(time.Minute), Devices: []string{"SN001"},
		})
		if err != nil {
			t.Fatalf("Grant: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			g.clock.Add(time.Minute)
		}()
		go func() {
			defer wg.Done()
			err := g.scheduler.Cancel(ctx, "5", "SN001")
			if err != nil && !errors.Is(err, service.ErrNoActiveGrant) {
				t.Errorf("Cancel: %v", err)
			}
		}()
		wg.Wait()

		eventually(t, "revocation", func() bool {
			return countDeletes(g.pending(t, "SN001"), "5") >= 1
		})
		time.Sleep(10 * time.Millisecond)
		if n := countDeletes(g.pending(t, "SN001"), "5"); n != 1 {
			t.Fatalf("round %d: expected one delete, got %d", i, n)
		}
	}
}

func TestCancel_UnknownGrant(t *testing.T) {
	g := newGateway(t)
	err := g.scheduler.Cancel(context.Background(), "77", "SN001")
	if !errors.Is(err, service.ErrNoActiveGrant) {
		t.Fatalf("expected ErrNoActiveGrant, got %v", err)
	}
	if got := g.pending(t, "SN001"); len(got) != 0 {
		t.Errorf("expected no side effects, got %v", got)
	}
}

func TestGrant_CommandText(t *testing.T) {
	g := newGateway(t)
	now := g.clock.Now()

	_, err := g.scheduler.Grant(context.Background(), service.GrantRequest{
		PIN: "5", Name: "Alice\tSmith", Start: now, End: now.Add(time.Hour), Devices: []string{"SN001"},
	})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	got := g.pending(t, "SN001")
	if !strings.HasPrefix(got[0], "DATA UPDATE TIMEZONE TZID=2\tStartTime=2026-03-02 09:00\tEndTime=2026-03-02 10:00") {
		t.Errorf("unexpected timezone command %q", got[0])
	}
	if !strings.HasPrefix(got[1], "DATA UPDATE USERINFO PIN=5\tName=Alice Smith\t") || !strings.Contains(got[1], "\tTZ=2\t") {
		t.Errorf("unexpected user command %q", got[1])
	}
}
