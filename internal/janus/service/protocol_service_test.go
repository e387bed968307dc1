package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/service"
)

func TestProtocol_SN001Scenario(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	// Empty queue: no-op acknowledgement.
	body, err := g.protocol.Poll(ctx, "SN001", "", "10.0.0.5")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if body != service.Ack {
		t.Fatalf("expected %q, got %q", service.Ack, body)
	}

	// Operator grants Alice a minute on SN001.
	now := g.clock.Now()
	out, err := g.scheduler.Grant(ctx, service.GrantRequest{
		Name: "Alice", Start: now, End: now.Add(60 * time.Second), Devices: []string{"SN001"},
	})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	queued := g.pending(t, "SN001")
	if len(queued) != 2 {
		t.Fatalf("expected 2 queued commands, got %v", queued)
	}
	if !strings.HasPrefix(queued[0], "DATA UPDATE TIMEZONE") || !strings.HasPrefix(queued[1], "DATA UPDATE USERINFO PIN="+out.PIN) {
		t.Errorf("unexpected commands %v", queued)
	}
	entry, ok, _ := g.users.Get(ctx, "SN001", out.PIN)
	if !ok || entry.Confirmed || entry.Name != "Alice" {
		t.Fatalf("expected optimistic cache entry, got %+v ok=%v", entry, ok)
	}

	// Next poll delivers both.
	body, err = g.protocol.Poll(ctx, "SN001", "", "10.0.0.5")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	lines := strings.Split(body, "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "C:") || !strings.HasPrefix(lines[1], "C:") {
		t.Fatalf("unexpected framed body %q", body)
	}
	if got := g.pending(t, "SN001"); len(got) != 0 {
		t.Errorf("expected empty queue, got %v", got)
	}
	ledger, _ := g.ledger.List(ctx, "SN001")
	sum := service.Summarize(ledger)
	if sum.Total != 2 || sum.Delivered != 2 {
		t.Errorf("expected 2 delivered, got %+v", sum)
	}
	if ledger[0].Bytes != len(body) {
		t.Errorf("expected bytes=%d, got %d", len(body), ledger[0].Bytes)
	}

	// The device confirms the user.
	push := "USER PIN=" + out.PIN + "\tName=Alice\tPri=0\tPasswd=\tCard=\tGrp=1\n"
	is, err := g.protocol.Push(ctx, "SN001", "OPERLOG", push, "10.0.0.5")
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if is.Users != 1 || is.UserDuplicates != 0 {
		t.Errorf("unexpected ingest summary %+v", is)
	}
	entry, _, _ = g.users.Get(ctx, "SN001", out.PIN)
	if !entry.Confirmed {
		t.Error("expected cache entry confirmed")
	}

	// A minute later the grant revokes itself.
	g.clock.Add(60 * time.Second)
	eventually(t, "revocation", func() bool {
		return countDeletes(g.pending(t, "SN001"), out.PIN) == 1
	})
	if got := g.pending(t, "SN001"); len(got) != 1 {
		t.Errorf("expected only the delete queued, got %v", got)
	}
	if len(g.scheduler.List()) != 0 {
		t.Error("expected grant gone from List")
	}
}

func TestProtocol_HandshakeAndPing(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	opts, err := g.protocol.Handshake(ctx, "SN001", "10.0.0.5")
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if !strings.HasPrefix(opts, "GET OPTION FROM: SN001\n") || !strings.Contains(opts, "\nDelay=10\n") {
		t.Errorf("unexpected options block %q", opts)
	}

	g.clock.Add(time.Minute)
	if err := g.protocol.Ping(ctx, "SN001", "10.0.0.6"); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	rec, ok, err := g.registry.GetState(ctx, "SN001")
	if err != nil || !ok {
		t.Fatalf("GetState: ok=%v err=%v", ok, err)
	}
	if !rec.FirstSeen.Equal(testEpoch) {
		t.Errorf("first seen moved: %v", rec.FirstSeen)
	}
	if !rec.LastConnectivityTest.Equal(testEpoch.Add(time.Minute)) || rec.LastRemote != "10.0.0.6" {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestProtocol_PollRecordsStatusInfo(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	if _, err := g.protocol.Poll(ctx, "SN001", "Ver 6.60,12,3,1042,192.168.1.201,10,7,12,11,111", ""); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	rec, _, _ := g.registry.GetState(ctx, "SN001")
	if rec.Status["firmware"] != "Ver 6.60" || rec.Status["users"] != "12" || rec.Status["ip"] != "192.168.1.201" {
		t.Errorf("unexpected status %v", rec.Status)
	}
}

func TestProtocol_CustomSeparator(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	p := service.NewProtocolService(g.registry, g.queue, g.ledger, nil,
		service.ProtocolConfig{Separator: "\r\n"}, zapNop())

	_ = g.queue.Enqueue(ctx, "SN001", "INFO")
	_ = g.queue.Enqueue(ctx, "SN001", "DATA QUERY USERINFO")
	body, err := p.Poll(ctx, "SN001", "", "")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if strings.Count(body, "\r\n") != 1 {
		t.Errorf("expected CRLF framing, got %q", body)
	}
}
