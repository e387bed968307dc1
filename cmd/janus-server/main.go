package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Janus/server/internal/config"
	"github.com/BrandonDHaskell/Janus/server/internal/db"
	"github.com/BrandonDHaskell/Janus/server/internal/httpapi"
	"github.com/BrandonDHaskell/Janus/server/internal/logging"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/parser"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/service"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/snapshot"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/store/memory"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/store/sqlite"
)

// backends are the collaborators that differ between memory and sqlite.
type backends struct {
	directory store.EmployeeDirectory
	punches   store.PunchSink
	templates store.BiometricStore
	close     func()
}

func main() {
	configPath := pflag.String("config", "", "YAML config file overlaid on the environment")
	addr := pflag.String("addr", "", "listen address (overrides JANUS_HTTP_ADDR)")
	pflag.Parse()

	cfg := config.FromEnv()
	if *configPath != "" {
		if err := cfg.ApplyFile(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("janus-server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	clk := clock.New()

	be, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	// Device state always lives in memory; the snapshot carries it across
	// restarts.
	deviceStore := memory.NewDeviceStore()
	if cfg.SnapshotPath != "" {
		restoreSnapshot(cfg.SnapshotPath, deviceStore, logger)
	}

	// Services
	registry := service.NewDeviceRegistry(deviceStore, clk)
	queue := service.NewCommandQueue(deviceStore, clk)
	ledger := service.NewCommandLedger(deviceStore, clk, cfg.StaleAfter)
	users := service.NewUserCache(deviceStore, clk)

	runner := service.NewTaskRunner(service.TaskRunnerConfig{
		Workers:   cfg.FollowUpWorkers,
		QueueSize: cfg.FollowUpQueue,
		Timeout:   cfg.FollowUpTimeout,
	}, logger.Named("followup"))
	defer runner.Stop()

	scheduler := service.NewProvisioningScheduler(queue, users, clk, loc, logger.Named("grants"))
	defer scheduler.Stop()

	reconciler := service.NewBiometricReconciler(be.directory, be.templates, registry, clk, cfg.ReconcileWorkers, logger.Named("biometric"))
	ingestor := service.NewPushIngestor(service.PushIngestorDeps{
		Parser:     parser.New(),
		Registry:   registry,
		Users:      users,
		Directory:  be.directory,
		Punches:    be.punches,
		Reconciler: reconciler,
		Runner:     runner,
		Clock:      clk,
		Location:   loc,
		Logger:     logger.Named("ingest"),
	})

	opts := service.DefaultHandshakeOptions()
	opts.Delay = cfg.PollDelaySeconds
	_, offset := clk.Now().In(loc).Zone()
	opts.TimeZone = offset / 3600

	protocol := service.NewProtocolService(registry, queue, ledger, ingestor, service.ProtocolConfig{
		Separator: cfg.CommandSeparator,
		Options:   opts,
	}, logger.Named("iclock"))
	admin := service.NewAdminService(service.AdminDeps{
		Registry:  registry,
		Queue:     queue,
		Ledger:    ledger,
		Users:     users,
		Scheduler: scheduler,
		Backup:    service.NewBackupOrchestrator(queue, cfg.BackupStep),
		Runner:    runner,
		Clock:     clk,
		Logger:    logger.Named("admin"),
	})

	pruner := service.NewLedgerPruner(ledger, clk, service.PrunerConfig{
		Retention: cfg.LedgerRetention,
		Interval:  cfg.PruneInterval,
	}, logger.Named("pruner"))
	pruner.Start(ctx)
	defer pruner.Stop()

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:   logger.Named("http"),
		Addr:     cfg.HTTPAddr,
		Protocol: protocol,
		Admin:    admin,
	})

	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("store", cfg.Store),
			zap.String("device_tz", loc.String()))
		if err := srv.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	// Let in-flight follow-ups land their cursor updates before the
	// snapshot is taken.
	runner.Stop()

	if cfg.SnapshotPath != "" {
		states, lastID := deviceStore.Export()
		err := snapshot.Save(cfg.SnapshotPath, snapshot.File{
			SavedAt:       clk.Now(),
			LastCommandID: lastID,
			Devices:       states,
		})
		if err != nil {
			logger.Error("snapshot save failed", zap.String("path", cfg.SnapshotPath), zap.Error(err))
		} else {
			logger.Info("snapshot saved", zap.String("path", cfg.SnapshotPath), zap.Int("devices", len(states)))
		}
	}
	return nil
}

func openBackends(ctx context.Context, cfg config.Config, logger *zap.Logger) (backends, error) {
	if cfg.Store != "sqlite" {
		return backends{
			directory: memory.NewEmployeeDirectory(cfg.DevEmployees),
			punches:   memory.NewPunchStore(),
			templates: memory.NewBiometricStore(),
			close:     func() {},
		}, nil
	}

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return backends{}, fmt.Errorf("open db: %w", err)
	}
	if cfg.Env == "dev" && len(cfg.DevEmployees) > 0 {
		if err := db.SeedDev(ctx, conn, db.SeedDevOptions{Employees: cfg.DevEmployees}); err != nil {
			_ = conn.Close()
			return backends{}, fmt.Errorf("seed dev employees: %w", err)
		}
		logger.Info("dev employees seeded", zap.Int("count", len(cfg.DevEmployees)))
	}

	writer := db.NewWorker(conn)
	return backends{
		directory: sqlite.NewEmployeeDirectory(conn),
		punches:   sqlite.NewPunchStore(conn, writer),
		templates: sqlite.NewBiometricStore(conn, writer),
		close:     closer(writer, conn),
	}, nil
}

func closer(writer *db.Worker, conn *sql.DB) func() {
	return func() {
		writer.Close()
		_ = conn.Close()
	}
}

func restoreSnapshot(path string, ds *memory.DeviceStore, logger *zap.Logger) {
	f, ok, err := snapshot.Load(path)
	switch {
	case err != nil:
		// A bad snapshot must not keep the gateway down.
		logger.Error("snapshot ignored", zap.String("path", path), zap.Error(err))
	case !ok:
		logger.Info("no snapshot to restore", zap.String("path", path))
	default:
		ds.Import(f.Devices, f.LastCommandID)
		logger.Info("snapshot restored",
			zap.String("path", path),
			zap.Int("devices", len(f.Devices)),
			zap.Time("saved_at", f.SavedAt))
	}
}
