package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/parser"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/service"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/store/memory"
)

// gateway wires every service over in-memory stores and a mock clock.
type gateway struct {
	clock      *clock.Mock
	devices    *memory.DeviceStore
	directory  *memory.EmployeeDirectory
	punches    *memory.PunchStore
	templates  *memory.BiometricStore
	registry   *service.DeviceRegistry
	queue      *service.CommandQueue
	ledger     *service.CommandLedger
	users      *service.UserCache
	runner     *service.TaskRunner
	reconciler *service.BiometricReconciler
	scheduler  *service.ProvisioningScheduler
	protocol   *service.ProtocolService
	admin      *service.AdminService
}

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newGateway(t *testing.T) *gateway {
	t.Helper()

	clk := clock.NewMock()
	clk.Set(testEpoch)
	logger := zap.NewNop()

	g := &gateway{
		clock:     clk,
		devices:   memory.NewDeviceStore(),
		directory: memory.NewEmployeeDirectory(map[string]string{"1001": "Bob", "7": "Alice"}),
		punches:   memory.NewPunchStore(),
		templates: memory.NewBiometricStore(),
	}
	g.registry = service.NewDeviceRegistry(g.devices, clk)
	g.queue = service.NewCommandQueue(g.devices, clk)
	g.ledger = service.NewCommandLedger(g.devices, clk, 0)
	g.users = service.NewUserCache(g.devices, clk)
	g.runner = service.NewTaskRunner(service.TaskRunnerConfig{Workers: 2}, logger)
	g.reconciler = service.NewBiometricReconciler(g.directory, g.templates, g.registry, clk, 4, logger)
	g.scheduler = service.NewProvisioningScheduler(g.queue, g.users, clk, time.UTC, logger)

	ingestor := service.NewPushIngestor(service.PushIngestorDeps{
		Parser:     parser.New(),
		Registry:   g.registry,
		Users:      g.users,
		Directory:  g.directory,
		Punches:    g.punches,
		Reconciler: g.reconciler,
		Runner:     g.runner,
		Clock:      clk,
		Location:   time.UTC,
		Logger:     logger,
	})
	g.protocol = service.NewProtocolService(g.registry, g.queue, g.ledger, ingestor,
		service.ProtocolConfig{}, logger)
	g.admin = service.NewAdminService(service.AdminDeps{
		Registry:  g.registry,
		Queue:     g.queue,
		Ledger:    g.ledger,
		Users:     g.users,
		Scheduler: g.scheduler,
		Backup:    service.NewBackupOrchestrator(g.queue, 0),
		Runner:    g.runner,
		Clock:     clk,
		Logger:    logger,
	})

	t.Cleanup(func() {
		g.scheduler.Stop()
		g.runner.Stop()
	})
	return g
}

func (g *gateway) pending(t *testing.T, sn string) []string {
	t.Helper()
	q, err := g.queue.Pending(context.Background(), sn)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	out := make([]string, len(q))
	for i, c := range q {
		out[i] = c.Command
	}
	return out
}

// eventually polls cond until it holds or a second passes.  Mock clock
// timers run their callbacks on a separate goroutine.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func zapNop() *zap.Logger { return zap.NewNop() }
