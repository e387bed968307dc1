package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/parser"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/service"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/types"
)

// ── Punches ──────────────────────────────────────────────────────────────────

func TestPush_PunchesGoToSinkAndAdvanceCursor(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	body := "1001\t2026-03-02 08:59:12\t0\t1\t0\t0\t0\r\n" +
		"\r\n" +
		"1001\t2026-03-02 12:01:00\t1\t15\t0\t0\t0\r\n" +
		"555\t2026-03-02 12:05:00\t0\t2\t0\t0\t0\n"

	sum, err := g.protocol.Push(ctx, "SN001", "ATTLOG", body, "10.0.0.5")
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if sum.Lines != 3 || sum.Punches != 3 {
		t.Errorf("unexpected summary %+v", sum)
	}

	// Stop drains the follow-up queue.
	g.runner.Stop()

	punches := g.punches.Punches()
	if len(punches) != 2 {
		t.Fatalf("expected 2 stored punches (unknown employee dropped), got %d", len(punches))
	}
	if punches[0].Method != store.VerifyFingerprint || punches[1].Method != store.VerifyFace {
		t.Errorf("unexpected methods %s, %s", punches[0].Method, punches[1].Method)
	}
	if punches[0].Employee.ExternalID != "1001" || punches[0].DeviceSerial != "SN001" {
		t.Errorf("unexpected punch %+v", punches[0])
	}

	rec, _, _ := g.registry.GetState(ctx, "SN001")
	want := time.Date(2026, 3, 2, 12, 1, 0, 0, time.UTC)
	if !rec.LastCursor.Equal(want) {
		t.Errorf("expected cursor %v, got %v", want, rec.LastCursor)
	}

	stats := g.runner.Stats()
	if stats.Submitted != 1 || stats.Completed != 1 || stats.Failed != 0 {
		t.Errorf("unexpected runner stats %+v", stats)
	}
}

func TestPush_SinkFailureStillAcknowledged(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	g.punches.FailWith(errors.New("disk full"))

	_, err := g.protocol.Push(ctx, "SN001", "ATTLOG", "1001\t2026-03-02 08:59:12\t0\t1\t0\t0\t0\n", "")
	if err != nil {
		t.Fatalf("Push must not surface sink failures: %v", err)
	}
	g.runner.Stop()

	if stats := g.runner.Stats(); stats.Failed != 1 {
		t.Errorf("expected the follow-up to be counted failed, got %+v", stats)
	}
}

func TestPush_RealTimeLog(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	_, err := g.protocol.Push(ctx, "SN001", "rtlog", "time=2026-03-02 09:00:00\tpin=7\tverifytype=4\tevent=0\n", "")
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	g.runner.Stop()

	punches := g.punches.Punches()
	if len(punches) != 1 || punches[0].Method != store.VerifyRFID {
		t.Fatalf("unexpected punches %+v", punches)
	}
}

// ── Users ────────────────────────────────────────────────────────────────────

func TestPush_UserDuplicatesWithinBatchFirstWins(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	body := "USER PIN=7\tName=Alice\tPri=0\n" +
		"USER PIN=7\tName=Alicia\tPri=14\n" +
		"USER PIN=8\tName=Carol\tPri=0\n"
	sum, err := g.protocol.Push(ctx, "SN001", "OPERLOG", body, "")
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if sum.Users != 2 || sum.UserDuplicates != 1 {
		t.Errorf("unexpected summary %+v", sum)
	}
	e, _, _ := g.users.Get(ctx, "SN001", "7")
	if e.Name != "Alice" || !e.Confirmed {
		t.Errorf("expected first record kept, got %+v", e)
	}
}

// A later push replaces the cached entry; only duplicates inside one push
// are discarded.
func TestPush_UserAcrossBatchesOverwrites(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	_, _ = g.protocol.Push(ctx, "SN001", "OPERLOG", "USER PIN=7\tName=Alice\n", "")
	_, _ = g.protocol.Push(ctx, "SN001", "OPERLOG", "USER PIN=7\tName=Alice B\n", "")

	e, _, _ := g.users.Get(ctx, "SN001", "7")
	if e.Name != "Alice B" {
		t.Errorf("expected renamed user, got %+v", e)
	}
}

func TestPush_PinFieldDetectedOncePerDevice(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	_, err := g.protocol.Push(ctx, "SN001", "OPERLOG", "USER UserID=31\tName=Dan\n", "")
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	rec, _, _ := g.registry.GetState(ctx, "SN001")
	if rec.PinField != "UserID" {
		t.Errorf("expected UserID detected, got %q", rec.PinField)
	}
	if _, ok, _ := g.users.Get(ctx, "SN001", "31"); !ok {
		t.Error("expected user 31 cached")
	}
}

// ── Biometrics and others ────────────────────────────────────────────────────

func TestPush_BiometricsReconciledAsOneBatch(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	body := "BIODATA Pin=7\tNo=6\tIndex=0\tValid=1\tType=1\tTmp=AAAA\n" +
		"BIODATA Pin=7\tNo=6\tIndex=0\tValid=1\tType=1\tTmp=AAAA\n" +
		"OPLOG OP=4\tAdmin=0\n"
	sum, err := g.protocol.Push(ctx, "SN001", "OPERLOG", body, "")
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if sum.Biometrics != 2 || sum.Other != 1 {
		t.Errorf("unexpected summary %+v", sum)
	}
	g.runner.Stop()

	if n := len(g.templates.Templates()); n != 1 {
		t.Errorf("expected 1 template, got %d", n)
	}
}

func TestSplitLines(t *testing.T) {
	got := service.SplitLines("a\r\nb\rc\n\n  \nd")
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

// ── Dropped push connection ──────────────────────────────────────────────────

// hangupParser cancels the request context once the first line is parsed.
type hangupParser struct {
	inner  *parser.Parser
	cancel context.CancelFunc
}

func (h hangupParser) Parse(table, line string) (types.Record, bool) {
	h.cancel()
	return h.inner.Parse(table, line)
}

func TestIngest_CancelledPushStillStoresPunchesAndUsers(t *testing.T) {
	g := newGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ing := service.NewPushIngestor(service.PushIngestorDeps{
		Parser:     hangupParser{inner: parser.New(), cancel: cancel},
		Registry:   g.registry,
		Users:      g.users,
		Directory:  g.directory,
		Punches:    g.punches,
		Reconciler: g.reconciler,
		Runner:     g.runner,
		Clock:      g.clock,
		Location:   time.UTC,
		Logger:     zapNop(),
	})

	body := "1001\t2026-03-02 08:59:12\t0\t1\t0\t0\t0\n" +
		"USER PIN=7\tName=Alice\tPri=0\n"
	sum, err := ing.Ingest(ctx, "SN001", "ATTLOG", body)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if sum.Punches != 1 || sum.Users != 1 {
		t.Errorf("unexpected summary %+v", sum)
	}

	eventually(t, "punch stored", func() bool { return len(g.punches.Punches()) == 1 })

	users, err := g.users.List(context.Background(), "SN001")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(users) != 1 || users[0].PIN != "7" || users[0].Name != "Alice" {
		t.Errorf("unexpected cached users %+v", users)
	}
}
