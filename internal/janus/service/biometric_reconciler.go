package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
	"github.com/BrandonDHaskell/Janus/server/internal/janus/types"
)

// Reconcile actions and skip reasons.
const (
	ActionInserted = "inserted"
	ActionUpdated  = "updated"
	ActionSkipped  = "skipped"

	ReasonEmployeeNotFound   = "employee_not_found"
	ReasonEmptyTemplate      = "empty_template"
	ReasonUnsupportedType    = "unsupported_type"
	ReasonInvalidFingerIndex = "invalid_finger_index"
	ReasonLookupFailed       = "lookup_failed"
	ReasonStoreError         = "store_error"
)

// ReconcileSummary aggregates the outcome of one biometric batch.
type ReconcileSummary struct {
	Inserted int
	Updated  int
	Skipped  int
	Errors   int
	Total    int
	Reasons  map[string]int // error counts by reason
}

// templateDomainKey separates template digests from any other BLAKE3 use.
var templateDomainKey = [32]byte{
	'j', 'a', 'n', 'u', 's', '.', 'b', 'i', 'o', 'm', 'e', 't', 'r', 'i', 'c', '.',
	't', 'e', 'm', 'p', 'l', 'a', 't', 'e', 0, 0, 0, 0, 0, 0, 0, 0,
}

// TemplateHash is the hex keyed BLAKE3 digest of a template payload.
func TemplateHash(payload string) string {
	h, err := blake3.NewKeyed(templateDomainKey[:])
	if err != nil {
		panic("service: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// PinResolver picks the user id out of a record using the field the device
// is known to send.
type PinResolver interface {
	ResolvePin(ctx context.Context, sn string, rec types.Record) (string, error)
}

// BiometricReconciler dedupes and persists templates pushed by devices.
type BiometricReconciler struct {
	directory store.EmployeeDirectory
	templates store.BiometricStore
	pins      PinResolver
	clock     clock.Clock
	logger    *zap.Logger
	workers   int
	keys      *keyedMutex
}

func NewBiometricReconciler(
	dir store.EmployeeDirectory,
	bs store.BiometricStore,
	pins PinResolver,
	clk clock.Clock,
	workers int,
	logger *zap.Logger,
) *BiometricReconciler {
	if workers <= 0 {
		workers = 4
	}
	return &BiometricReconciler{
		directory: dir,
		templates: bs,
		pins:      pins,
		clock:     clk,
		logger:    logger,
		workers:   workers,
		keys:      newKeyedMutex(),
	}
}

type itemOutcome struct {
	action string
	reason string
}

// Reconcile processes the batch concurrently.  One item's failure never
// aborts the others; the per-(employee, kind, finger) lock keeps two items
// for the same slot from both inserting.
func (r *BiometricReconciler) Reconcile(ctx context.Context, sn string, batch []types.Record) ReconcileSummary {
	sum := ReconcileSummary{Total: len(batch), Reasons: make(map[string]int)}
	if len(batch) == 0 {
		return sum
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, rec := range batch {
		g.Go(func() error {
			out := r.reconcileOne(gctx, sn, rec)

			mu.Lock()
			defer mu.Unlock()
			switch out.action {
			case ActionInserted:
				sum.Inserted++
			case ActionUpdated:
				sum.Updated++
			case ActionSkipped:
				sum.Skipped++
			default:
				sum.Errors++
				sum.Reasons[out.reason]++
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("biometric batch reconciled",
		zap.String("sn", sn),
		zap.Int("total", sum.Total),
		zap.Int("inserted", sum.Inserted),
		zap.Int("updated", sum.Updated),
		zap.Int("skipped", sum.Skipped),
		zap.Int("errors", sum.Errors))
	return sum
}

func (r *BiometricReconciler) reconcileOne(ctx context.Context, sn string, rec types.Record) itemOutcome {
	pin, err := r.resolvePin(ctx, sn, rec)
	if err != nil {
		r.logger.Warn("pin lookup failed", zap.String("sn", sn), zap.Error(err))
		return itemOutcome{reason: ReasonLookupFailed}
	}
	emp, ok, err := r.directory.ResolveByExternalID(ctx, pin)
	if err != nil {
		r.logger.Warn("employee lookup failed", zap.String("sn", sn), zap.String("pin", pin), zap.Error(err))
		return itemOutcome{reason: ReasonLookupFailed}
	}
	if !ok {
		return itemOutcome{reason: ReasonEmployeeNotFound}
	}

	kind, finger, reason := ClassifyBiometric(rec)
	if reason != "" {
		return itemOutcome{reason: reason}
	}

	payload := templatePayload(rec)
	if payload == "" {
		return itemOutcome{reason: ReasonEmptyTemplate}
	}
	hash := TemplateHash(payload)

	unlock := r.keys.Lock(fmt.Sprintf("%d/%s/%d", emp.ID, kind, finger))
	defer unlock()

	existing, found, err := r.templates.FindTemplate(ctx, emp.ID, kind, finger)
	if err != nil {
		r.logger.Warn("template lookup failed", zap.String("sn", sn), zap.Error(err))
		return itemOutcome{reason: ReasonStoreError}
	}

	tpl := store.TemplateRecord{
		EmployeeID:   emp.ID,
		Kind:         kind,
		FingerIndex:  finger,
		Payload:      payload,
		ContentHash:  hash,
		SourceSerial: sn,
		UpdatedAt:    r.clock.Now().UTC(),
	}
	switch {
	case !found:
		if err := r.templates.InsertTemplate(ctx, tpl); err != nil {
			r.logger.Warn("template insert failed", zap.String("sn", sn), zap.Error(err))
			return itemOutcome{reason: ReasonStoreError}
		}
		return itemOutcome{action: ActionInserted}
	case existing.ContentHash == hash:
		return itemOutcome{action: ActionSkipped}
	default:
		tpl.ID = existing.ID
		if err := r.templates.UpdateTemplate(ctx, tpl); err != nil {
			r.logger.Warn("template update failed", zap.String("sn", sn), zap.Error(err))
			return itemOutcome{reason: ReasonStoreError}
		}
		return itemOutcome{action: ActionUpdated}
	}
}

func (r *BiometricReconciler) resolvePin(ctx context.Context, sn string, rec types.Record) (string, error) {
	if r.pins == nil {
		return strings.TrimSpace(rec.Field(DefaultPinFields...)), nil
	}
	return r.pins.ResolvePin(ctx, sn, rec)
}

// ClassifyBiometric derives the template kind and finger index from the
// device's type codes.  A non-empty reason means the record is unusable.
func ClassifyBiometric(rec types.Record) (store.BiometricKind, int, string) {
	switch rec.Kind {
	case types.KindBioPhoto, types.KindUserPic:
		return store.BiometricFace, store.NoFinger, ""
	case types.KindBioData:
	default:
		return "", store.NoFinger, ReasonUnsupportedType
	}

	switch strings.TrimSpace(rec.Fields["Type"]) {
	case "1":
		n, err := strconv.Atoi(strings.TrimSpace(rec.Field("No", "FID")))
		if err != nil || n < 0 || n > 9 {
			return "", store.NoFinger, ReasonInvalidFingerIndex
		}
		return store.BiometricFingerprint, n, ""
	case "2", "9":
		return store.BiometricFace, store.NoFinger, ""
	case "10":
		return store.BiometricRFID, store.NoFinger, ""
	}
	return "", store.NoFinger, ReasonUnsupportedType
}

func templatePayload(rec types.Record) string {
	if rec.Kind == types.KindBioData {
		return strings.TrimSpace(rec.Field("Tmp", "TMP"))
	}
	return strings.TrimSpace(rec.Field("Content"))
}
