package service

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// LedgerPruner periodically drops executed and stale ledger entries older
// than a retention period.  It runs as a background goroutine and is safe
// to stop via its context or the Stop method.
//
// A retention of 0 disables pruning entirely.
type LedgerPruner struct {
	ledger    *CommandLedger
	clock     clock.Clock
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// PrunerConfig holds the parameters for NewLedgerPruner.
type PrunerConfig struct {
	// Retention is how long settled commands stay visible.  0 keeps
	// everything (pruner will not start).
	Retention time.Duration

	// Interval is how often the pruner runs.  Defaults to 10 minutes.
	Interval time.Duration
}

// NewLedgerPruner creates a pruner but does not start it.
func NewLedgerPruner(l *CommandLedger, clk clock.Clock, cfg PrunerConfig, logger *zap.Logger) *LedgerPruner {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &LedgerPruner{
		ledger:    l,
		clock:     clk,
		retention: cfg.Retention,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start runs an immediate prune, then repeats on the interval until ctx
// is cancelled or Stop is called.
func (p *LedgerPruner) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		if p.retention <= 0 {
			p.logger.Info("ledger pruner disabled (retention=0)")
			close(p.done)
			return
		}

		ctx, p.cancel = context.WithCancel(ctx)
		ticker := p.clock.Ticker(p.interval)
		go p.loop(ctx, ticker)

		p.logger.Info("ledger pruner started",
			zap.Duration("retention", p.retention),
			zap.Duration("interval", p.interval))
	})
}

// Stop signals the pruner to exit and waits for it.  It must follow Start.
func (p *LedgerPruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *LedgerPruner) loop(ctx context.Context, ticker *clock.Ticker) {
	defer close(p.done)
	defer ticker.Stop()

	p.PruneNow(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneNow(ctx)
		}
	}
}

// PruneNow runs one pass and returns how many entries it dropped.
func (p *LedgerPruner) PruneNow(ctx context.Context) int {
	cutoff := p.clock.Now().UTC().Add(-p.retention)
	n, err := p.ledger.Prune(ctx, cutoff)
	if err != nil {
		p.logger.Error("ledger prune failed", zap.Error(err))
		return n
	}
	if n > 0 {
		p.logger.Info("ledger pruned",
			zap.Int("deleted", n), zap.Time("cutoff", cutoff))
	}
	return n
}
