package service

import (
	"context"
	"time"
)

// DefaultBackupStep is the rough time a device needs per backup command.
const DefaultBackupStep = 30 * time.Second

type BackupOptions struct {
	Users      bool
	AttLogs    bool
	Biometrics bool
	Faces      bool
	Config     bool
	From, To   time.Time // attendance range; both zero means everything
}

type BackupPlan struct {
	Serial   string
	Commands []string
	Estimate time.Duration
}

// BackupOrchestrator turns backup options into an ordered command list.
// It only enqueues; completion shows up later as ordinary pushes.
type BackupOrchestrator struct {
	queue *CommandQueue
	step  time.Duration
}

func NewBackupOrchestrator(q *CommandQueue, step time.Duration) *BackupOrchestrator {
	if step <= 0 {
		step = DefaultBackupStep
	}
	return &BackupOrchestrator{queue: q, step: step}
}

// BuildBackup returns the commands for opts without enqueuing them.
// Device info always comes first.
func BuildBackup(opts BackupOptions) []string {
	cmds := []string{CmdInfo()}
	if opts.Users {
		cmds = append(cmds, CmdQueryUsers())
	}
	if opts.AttLogs {
		cmds = append(cmds, CmdQueryAttLog(opts.From, opts.To))
	}
	if opts.Biometrics {
		cmds = append(cmds, CmdQueryFingerprints())
	}
	if opts.Faces {
		cmds = append(cmds, CmdQueryFaces())
	}
	if opts.Config {
		cmds = append(cmds, CmdQueryOptions())
	}
	return cmds
}

func (b *BackupOrchestrator) PlanBackup(ctx context.Context, sn string, opts BackupOptions) (BackupPlan, error) {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return BackupPlan{}, err
	}
	// The attendance range is all or nothing.
	if opts.From.IsZero() != opts.To.IsZero() {
		return BackupPlan{}, ErrInvalidWindow
	}
	if !opts.From.IsZero() && !opts.To.After(opts.From) {
		return BackupPlan{}, ErrInvalidWindow
	}

	cmds := BuildBackup(opts)
	if err := b.queue.EnqueueAll(ctx, sn, cmds); err != nil {
		return BackupPlan{}, err
	}
	return BackupPlan{
		Serial:   sn,
		Commands: cmds,
		Estimate: time.Duration(len(cmds)) * b.step,
	}, nil
}
