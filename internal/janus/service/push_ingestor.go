package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/types"
)

// LineParser turns one physical line of a push body into a record.
type LineParser interface {
	Parse(table, line string) (types.Record, bool)
}

// IngestSummary counts what one push contained.  Punch and biometric
// outcomes are not known yet when it is returned.
type IngestSummary struct {
	Lines          int
	Unparsed       int
	Punches        int
	Users          int
	UserDuplicates int
	Biometrics     int
	Other          int
}

var punchPinFields = []string{"PIN", "pin", "Pin", "UserID"}

const punchTimeLayout = "2006-01-02 15:04:05"

// PushIngestor parses device pushes and routes each record.  User records
// update the cache inline; punches and biometrics go to a follow-up task
// so the device is answered without waiting on the sinks.
type PushIngestor struct {
	parser     LineParser
	registry   *DeviceRegistry
	users      *UserCache
	directory  store.EmployeeDirectory
	punches    store.PunchSink
	reconciler *BiometricReconciler
	runner     *TaskRunner
	clock      clock.Clock
	location   *time.Location
	logger     *zap.Logger
}

// PushIngestorDeps groups the collaborators of NewPushIngestor.
type PushIngestorDeps struct {
	Parser     LineParser
	Registry   *DeviceRegistry
	Users      *UserCache
	Directory  store.EmployeeDirectory
	Punches    store.PunchSink
	Reconciler *BiometricReconciler
	Runner     *TaskRunner
	Clock      clock.Clock
	Location   *time.Location // device wall clock zone
	Logger     *zap.Logger
}

func NewPushIngestor(d PushIngestorDeps) *PushIngestor {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	return &PushIngestor{
		parser:     d.Parser,
		registry:   d.Registry,
		users:      d.Users,
		directory:  d.Directory,
		punches:    d.Punches,
		reconciler: d.Reconciler,
		runner:     d.Runner,
		clock:      d.Clock,
		location:   loc,
		logger:     d.Logger,
	}
}

type pendingPunch struct {
	pin    string
	at     time.Time
	method store.VerifyMethod
}

// SplitLines normalizes line endings and drops blank lines.
func SplitLines(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// Ingest routes every record in body.  Its error covers only the inline
// user cache update; follow-up failures are logged by the task runner.
// Punches and biometrics reach the runner even when that update fails.
func (p *PushIngestor) Ingest(ctx context.Context, sn, table, body string) (IngestSummary, error) {
	sn, err := normalizeSerial(sn)
	if err != nil {
		return IngestSummary{}, err
	}
	// Cache writes outlive the request.
	ictx := context.WithoutCancel(ctx)

	var (
		sum     IngestSummary
		users   []store.UserEntry
		punches []pendingPunch
		bio     []types.Record
		userErr error
	)
	for _, line := range SplitLines(body) {
		sum.Lines++
		rec, ok := p.parser.Parse(table, line)
		if !ok {
			sum.Unparsed++
			continue
		}

		switch {
		case rec.Kind == types.KindAttLog || rec.Kind == types.KindRealTimeLog:
			pp, ok := p.toPunch(rec)
			if !ok {
				sum.Unparsed++
				p.logger.Warn("punch without pin or time", zap.String("sn", sn), zap.String("line", rec.Raw))
				continue
			}
			punches = append(punches, pp)
			sum.Punches++

		case rec.Kind == types.KindUser:
			pin, err := p.registry.ResolvePin(ictx, sn, rec)
			if err != nil {
				sum.Unparsed++
				if userErr == nil {
					userErr = err
				}
				continue
			}
			if pin == "" {
				sum.Unparsed++
				continue
			}
			users = append(users, store.UserEntry{
				PIN:       pin,
				Name:      rec.Field("Name"),
				Privilege: rec.Field("Pri", "Privilege"),
				Card:      rec.Field("Card"),
			})

		case rec.IsBiometric():
			bio = append(bio, rec)
			sum.Biometrics++

		default:
			sum.Other++
			p.logger.Info("record ignored",
				zap.String("sn", sn), zap.String("kind", rec.Kind), zap.String("line", rec.Raw))
		}
	}

	if len(punches) > 0 || len(bio) > 0 {
		p.runner.Submit(Task{
			Name: "push:" + sn,
			Run: func(ctx context.Context) error {
				return p.followUp(ctx, sn, punches, bio)
			},
		})
	}

	if len(users) > 0 {
		n, dup, err := p.users.ApplyBatch(ictx, sn, users)
		if err != nil && userErr == nil {
			userErr = err
		}
		sum.Users, sum.UserDuplicates = n, dup
	}
	return sum, userErr
}

func (p *PushIngestor) toPunch(rec types.Record) (pendingPunch, bool) {
	pin := strings.TrimSpace(rec.Field(punchPinFields...))
	ts := strings.TrimSpace(rec.Field("Time", "time"))
	if pin == "" || ts == "" {
		return pendingPunch{}, false
	}
	at, err := time.ParseInLocation(punchTimeLayout, ts, p.location)
	if err != nil {
		return pendingPunch{}, false
	}
	return pendingPunch{
		pin:    pin,
		at:     at.UTC(),
		method: NormalizeVerify(rec.Field("Verify", "verifytype", "VerifyType")),
	}, true
}

// followUp runs once per push that carried punches or biometrics.
func (p *PushIngestor) followUp(ctx context.Context, sn string, punches []pendingPunch, bio []types.Record) error {
	var errs []error
	if len(punches) > 0 {
		if err := p.storePunches(ctx, sn, punches); err != nil {
			errs = append(errs, err)
		}
	}
	if len(bio) > 0 {
		sum := p.reconciler.Reconcile(ctx, sn, bio)
		if sum.Reasons[ReasonStoreError] > 0 || sum.Reasons[ReasonLookupFailed] > 0 {
			errs = append(errs, fmt.Errorf("biometric batch: %d of %d items failed", sum.Errors, sum.Total))
		}
	}
	return errors.Join(errs...)
}

func (p *PushIngestor) storePunches(ctx context.Context, sn string, punches []pendingPunch) error {
	received := p.clock.Now().UTC()
	var (
		cursor           time.Time
		stored, notFound int
		failed           int
		firstErr         error
	)
	for _, pp := range punches {
		emp, ok, err := p.directory.ResolveByExternalID(ctx, pp.pin)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("resolve pin %s: %w", pp.pin, err)
			}
			continue
		}
		if !ok {
			notFound++
			p.logger.Warn("punch for unknown employee", zap.String("sn", sn), zap.String("pin", pp.pin))
			continue
		}
		err = p.punches.InsertPunch(ctx, store.PunchRecord{
			DeviceSerial: sn,
			Employee:     emp,
			Method:       pp.method,
			PunchedAt:    pp.at,
			ReceivedAt:   received,
		})
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("insert punch: %w", err)
			}
			continue
		}
		stored++
		if pp.at.After(cursor) {
			cursor = pp.at
		}
	}

	if !cursor.IsZero() {
		if err := p.registry.RecordCursor(ctx, sn, cursor); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	p.logger.Info("punches stored",
		zap.String("sn", sn),
		zap.Int("stored", stored),
		zap.Int("unknown_employee", notFound),
		zap.Int("failed", failed))
	return firstErr
}
