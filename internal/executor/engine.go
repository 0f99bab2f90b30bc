package executor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/audit"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/errclass"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/models"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/store"
)

// Retry budget for transient failures: up to 3 retries with a fixed delay
// schedule. System errors get exactly one retry; everything else none.
var retryDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

const (
	maxTransientRetries = 3
	maxSystemRetries    = 1
)

// defaultPaymentMarkers tag action types that are never auto-retried no
// matter how their failure classifies; money moves only on a human's say-so.
var defaultPaymentMarkers = []string{"payment", "transfer", "invoice", "payout"}

// CompletionPublisher is the eventbus slice the engine needs.
type CompletionPublisher interface {
	PublishActionStatus(rec *models.ActionRecord) error
	PublishActionCompleted(rec *models.ActionRecord) error
}

// Engine sweeps the approved set and drives each record to a terminal
// status. Within one sweep a record is read, attempted and written back
// before the next record is considered.
type Engine struct {
	records   *store.RecordStore
	registry  *Registry
	dlq       *store.DeadLetterQueue
	snapshots *store.SnapshotStore
	auditor   *audit.Logger
	publisher CompletionPublisher

	paymentMarkers []string

	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(records *store.RecordStore, registry *Registry, dlq *store.DeadLetterQueue, snapshots *store.SnapshotStore) *Engine {
	return &Engine{
		records:        records,
		registry:       registry,
		dlq:            dlq,
		snapshots:      snapshots,
		paymentMarkers: defaultPaymentMarkers,
		clock:          time.Now,
		sleep:          sleepCtx,
	}
}

// WithAuditor attaches the audit logger. Optional.
func (e *Engine) WithAuditor(a *audit.Logger) *Engine {
	e.auditor = a
	return e
}

// WithPublisher attaches the eventbus publisher. Optional.
func (e *Engine) WithPublisher(p CompletionPublisher) *Engine {
	e.publisher = p
	return e
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithSleep overrides the backoff sleep for deterministic testing.
func (e *Engine) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Engine {
	e.sleep = sleep
	return e
}

// WithPaymentMarkers replaces the payment action markers.
func (e *Engine) WithPaymentMarkers(markers []string) *Engine {
	e.paymentMarkers = markers
	return e
}

// Run sweeps on the given interval until the context is cancelled. The
// record in flight is finished before returning.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	log.Printf("Execution engine running: interval=%s handlers=%v", interval, e.registry.Types())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Execution engine stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := e.Sweep(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Sweep error: %v", err)
			}
		}
	}
}

// Sweep processes every approved record once, sequentially, in listing
// order.
func (e *Engine) Sweep(ctx context.Context) error {
	approved, err := e.records.ListByStatus(ctx, models.StatusApproved)
	if err != nil {
		return fmt.Errorf("list approved: %w", err)
	}

	for _, rec := range approved {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		e.Execute(ctx, rec)
	}
	return nil
}

// Execute drives one approved record to a terminal status.
func (e *Engine) Execute(ctx context.Context, rec *models.ActionRecord) {
	if err := e.records.Transition(ctx, rec, models.StatusInProgress, store.Update{}); err != nil {
		// Another sweep claimed it first.
		log.Printf("Skipping %s: %v", rec.ID, err)
		return
	}

	handler, ok := e.registry.Resolve(rec.ActionType)
	if !ok {
		e.finishFailed(ctx, rec, 0, fmt.Sprintf("%v: %s", ErrNoHandler, rec.ActionType), false)
		return
	}

	isPayment := e.isPaymentAction(rec.ActionType)
	retries := 0
	var lastErr error

	for attempt := 0; ; attempt++ {
		e.snapshotAttempt(ctx, rec, attempt)

		started := e.clock()
		result, err := handler.Execute(ctx, rec.Payload)
		duration := e.clock().Sub(started)

		if err == nil {
			e.auditAttempt(rec, attempt, duration, "attempt_succeeded", "")
			e.finishCompleted(ctx, rec, retries, result)
			return
		}
		lastErr = err

		class := errclass.Classify(err)
		e.auditAttempt(rec, attempt, duration, "attempt_failed", fmt.Sprintf("[%s] %v", class, err))

		if isPayment {
			// Hard rule: payment operations always surface for a human.
			e.finishFailed(ctx, rec, retries, fmt.Sprintf("payment action not auto-retried: %v", err), true)
			return
		}
		if class == errclass.Data {
			e.finishQuarantined(ctx, rec, retries, err)
			return
		}

		budget := 0
		switch class {
		case errclass.Transient:
			budget = maxTransientRetries
		case errclass.System:
			budget = maxSystemRetries
		}
		if retries >= budget {
			e.finishFailed(ctx, rec, retries, lastErr.Error(), true)
			return
		}

		delay := retryDelays[len(retryDelays)-1]
		if retries < len(retryDelays) {
			delay = retryDelays[retries]
		}
		retries++
		log.Printf("Retrying %s (attempt %d) in %s: %v", rec.ID, retries, delay, err)
		if err := e.sleep(ctx, delay); err != nil {
			e.finishFailed(ctx, rec, retries, fmt.Sprintf("cancelled during backoff: %v", lastErr), true)
			return
		}
	}
}

// RecoverInFlight reports work orphaned by a crash: records stuck
// in_progress are failed onto the dead-letter queue, and their snapshots
// tell the operator how far each one got.
func (e *Engine) RecoverInFlight(ctx context.Context) error {
	snaps, err := e.snapshots.List(ctx)
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		log.Printf("Found crash snapshot: %s (%s), last progress at %s", snap.OperationID, snap.OperationType, snap.UpdatedAt.Format(time.RFC3339))
	}

	orphans, err := e.records.ListByStatus(ctx, models.StatusInProgress)
	if err != nil {
		return err
	}
	for _, rec := range orphans {
		log.Printf("Recovering orphaned record %s (%s)", rec.ID, rec.ActionType)
		e.finishFailed(ctx, rec, rec.RetryCount, "interrupted: executor crashed mid-attempt", true)
	}
	return nil
}

func (e *Engine) finishCompleted(ctx context.Context, rec *models.ActionRecord, retries int, result map[string]interface{}) {
	up := store.Update{Result: result, RetryCount: &retries}
	if err := e.records.Transition(ctx, rec, models.StatusCompleted, up); err != nil {
		log.Printf("Failed to complete %s: %v", rec.ID, err)
		return
	}
	e.clearSnapshot(ctx, rec.ID)
	e.auditTerminal(rec, "completed", "")
	e.publishTerminal(rec)
	log.Printf("Action completed: %s (%s) after %d retries", rec.ID, rec.ActionType, retries)
}

func (e *Engine) finishFailed(ctx context.Context, rec *models.ActionRecord, retries int, errMsg string, deadLetter bool) {
	up := store.Update{Error: errMsg, RetryCount: &retries}
	if err := e.records.Transition(ctx, rec, models.StatusFailed, up); err != nil {
		log.Printf("Failed to fail %s: %v", rec.ID, err)
		return
	}
	e.clearSnapshot(ctx, rec.ID)

	if deadLetter && e.dlq != nil {
		item := store.DeadLetterItem{
			OperationID:   rec.ID,
			OperationType: rec.ActionType,
			Payload:       rec.Payload,
			Error:         errMsg,
			RetryCount:    retries,
		}
		if err := e.dlq.Add(ctx, item); err != nil {
			log.Printf("Failed to dead-letter %s: %v", rec.ID, err)
		}
	}

	e.auditTerminal(rec, "failed", errMsg)
	e.publishTerminal(rec)
	log.Printf("Action failed: %s (%s): %s", rec.ID, rec.ActionType, errMsg)
}

func (e *Engine) finishQuarantined(ctx context.Context, rec *models.ActionRecord, retries int, cause error) {
	errMsg := fmt.Sprintf("quarantined: %v", cause)
	up := store.Update{Error: errMsg, RetryCount: &retries}
	if err := e.records.Transition(ctx, rec, models.StatusQuarantined, up); err != nil {
		log.Printf("Failed to quarantine %s: %v", rec.ID, err)
		return
	}
	e.clearSnapshot(ctx, rec.ID)
	e.auditTerminal(rec, "quarantined", errMsg)
	e.publishTerminal(rec)
	log.Printf("Action quarantined: %s (%s): %v", rec.ID, rec.ActionType, cause)
}

func (e *Engine) snapshotAttempt(ctx context.Context, rec *models.ActionRecord, attempt int) {
	if e.snapshots == nil {
		return
	}
	snap := store.Snapshot{
		OperationID:   rec.ID,
		OperationType: rec.ActionType,
		Progress: map[string]interface{}{
			"attempt": attempt,
			"status":  models.StatusInProgress,
		},
	}
	if err := e.snapshots.Save(ctx, snap); err != nil {
		log.Printf("Failed to snapshot %s: %v", rec.ID, err)
	}
}

func (e *Engine) clearSnapshot(ctx context.Context, id string) {
	if e.snapshots == nil {
		return
	}
	if err := e.snapshots.Clear(ctx, id); err != nil {
		log.Printf("Failed to clear snapshot %s: %v", id, err)
	}
}

func (e *Engine) auditAttempt(rec *models.ActionRecord, attempt int, duration time.Duration, status, errMsg string) {
	if e.auditor == nil {
		return
	}
	_ = e.auditor.Append(audit.Event{
		ActionID:   rec.ID,
		ActionType: rec.ActionType,
		Domain:     "executor",
		Status:     status,
		DurationMs: duration.Milliseconds(),
		Error:      errMsg,
		Metadata:   map[string]interface{}{"attempt": attempt},
	})
}

func (e *Engine) auditTerminal(rec *models.ActionRecord, status, errMsg string) {
	if e.auditor == nil {
		return
	}
	_ = e.auditor.Append(audit.Event{
		ActionID:   rec.ID,
		ActionType: rec.ActionType,
		Domain:     "executor",
		Status:     status,
		Error:      errMsg,
		Metadata:   map[string]interface{}{"retry_count": rec.RetryCount},
	})
}

func (e *Engine) publishTerminal(rec *models.ActionRecord) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishActionStatus(rec); err != nil {
		log.Printf("Failed to publish status for %s: %v", rec.ID, err)
	}
	if err := e.publisher.PublishActionCompleted(rec); err != nil {
		log.Printf("Failed to publish completion for %s: %v", rec.ID, err)
	}
}

func (e *Engine) isPaymentAction(actionType string) bool {
	lower := strings.ToLower(actionType)
	for _, marker := range e.paymentMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
