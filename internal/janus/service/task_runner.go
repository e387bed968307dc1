package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/types"
)

// Task is one unit of follow-up work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// TaskRunner executes follow-up work after the device has been answered.
// Submit never blocks: when the queue is full the task gets its own
// goroutine.  Every submitted task runs exactly once, and the outcome is
// visible only through logs and Stats.
type TaskRunner struct {
	logger  *zap.Logger
	timeout time.Duration
	tasks   chan Task
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// TaskRunnerConfig holds the parameters for NewTaskRunner.
type TaskRunnerConfig struct {
	Workers   int           // defaults to 4
	QueueSize int           // defaults to 256
	Timeout   time.Duration // per task; 0 means no limit
}

func NewTaskRunner(cfg TaskRunnerConfig, logger *zap.Logger) *TaskRunner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	r := &TaskRunner{
		logger:  logger,
		timeout: cfg.Timeout,
		tasks:   make(chan Task, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Submit schedules t.  After Stop it runs t inline so no payload is
// dropped during shutdown.
func (r *TaskRunner) Submit(t Task) {
	r.submitted.Add(1)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		r.execute(t)
		return
	}
	select {
	case r.tasks <- t:
	default:
		r.logger.Warn("follow-up queue full, running task on its own goroutine",
			zap.String("task", t.Name))
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.execute(t)
		}()
	}
}

// Stop drains the queue and waits for running tasks.  It is safe to call
// more than once.
func (r *TaskRunner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.tasks)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *TaskRunner) Stats() types.FollowUpStats {
	return types.FollowUpStats{
		Submitted: r.submitted.Load(),
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
	}
}

func (r *TaskRunner) worker() {
	defer r.wg.Done()
	for t := range r.tasks {
		r.execute(t)
	}
}

func (r *TaskRunner) execute(t Task) {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	err := runRecovered(ctx, t.Run)
	if err != nil {
		r.failed.Add(1)
		r.logger.Error("follow-up task failed",
			zap.String("task", t.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}
	r.completed.Add(1)
	r.logger.Debug("follow-up task done",
		zap.String("task", t.Name),
		zap.Duration("elapsed", time.Since(start)))
}

func runRecovered(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}
