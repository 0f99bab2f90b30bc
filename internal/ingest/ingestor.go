package ingest

import (
	"context"
	"log"
	"time"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/audit"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/eventbus"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/models"
)

// RecordCreator is the approval-machine slice the ingestor needs: turning a
// normalized signal into a pending, risk-scored record.
type RecordCreator interface {
	CreateRequest(ctx context.Context, actionType string, payload map[string]interface{}, factors models.RiskFactors) (*models.ActionRecord, error)
}

// AlertPublisher announces the ingestor entering cooldown.
type AlertPublisher interface {
	PublishIngestAlert(alert eventbus.IngestAlert) error
}

// Options tune the ingestor loop.
type Options struct {
	PollInterval     time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

// Ingestor polls one source, suppresses repeats by fingerprint and creates
// pending records for the rest.
type Ingestor struct {
	source    Source
	deduper   Deduper
	creator   RecordCreator
	publisher AlertPublisher
	auditor   *audit.Logger
	opts      Options

	consecutiveFailures int
	cooldownUntil       time.Time

	clock func() time.Time
}

func NewIngestor(source Source, deduper Deduper, creator RecordCreator, opts Options) *Ingestor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 5 * time.Minute
	}
	return &Ingestor{
		source:  source,
		deduper: deduper,
		creator: creator,
		opts:    opts,
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (i *Ingestor) WithClock(clock func() time.Time) *Ingestor {
	i.clock = clock
	return i
}

// WithPublisher attaches the cooldown alert publisher. Optional.
func (i *Ingestor) WithPublisher(p AlertPublisher) *Ingestor {
	i.publisher = p
	return i
}

// WithAuditor attaches the audit logger. Optional.
func (i *Ingestor) WithAuditor(a *audit.Logger) *Ingestor {
	i.auditor = a
	return i
}

// Run polls the source on the configured interval until the context is
// cancelled. The in-flight batch is finished before returning.
func (i *Ingestor) Run(ctx context.Context) error {
	log.Printf("Ingestor running: source=%s interval=%s", i.source.Name(), i.opts.PollInterval)

	ticker := time.NewTicker(i.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Ingestor stopping")
			return ctx.Err()
		case <-ticker.C:
			i.PollOnce(ctx)
		}
	}
}

// PollOnce runs a single poll cycle: skip while cooling down, otherwise pull
// a batch, dedup and create records. Returns how many records were created.
func (i *Ingestor) PollOnce(ctx context.Context) int {
	now := i.clock()
	if now.Before(i.cooldownUntil) {
		return 0
	}

	signals, err := i.source.Poll(ctx)
	if err != nil {
		i.recordFailure(err)
		return 0
	}
	i.consecutiveFailures = 0

	created := 0
	for _, sig := range signals {
		if i.ingestSignal(ctx, sig) {
			created++
		}
	}
	if len(signals) > 0 {
		log.Printf("Poll cycle: %d signal(s), %d new record(s)", len(signals), created)
	}
	return created
}

func (i *Ingestor) ingestSignal(ctx context.Context, sig models.Signal) bool {
	fp := Fingerprint(sig)

	seen, err := i.deduper.Seen(ctx, fp)
	if err != nil {
		log.Printf("Dedup check failed for %s/%s: %v", sig.Origin, sig.Topic, err)
		// Fail open: a broken dedup store must not drop real signals.
		seen = false
	}
	if seen {
		log.Printf("Duplicate signal suppressed: %s/%s", sig.Origin, sig.Topic)
		return false
	}

	rec, err := i.creator.CreateRequest(ctx, sig.ActionType, sig.Payload, models.RiskFactorsFromPayload(sig.Payload))
	if err != nil {
		log.Printf("Failed to create record for %s/%s: %v", sig.Origin, sig.Topic, err)
		return false
	}

	if i.auditor != nil {
		_ = i.auditor.Append(audit.Event{
			ActionID:   rec.ID,
			ActionType: rec.ActionType,
			Domain:     "ingest",
			Status:     "signal_ingested",
			Target:     sig.Origin + "/" + sig.Topic,
			Metadata:   map[string]interface{}{"fingerprint": fp},
		})
	}
	return true
}

func (i *Ingestor) recordFailure(err error) {
	i.consecutiveFailures++
	log.Printf("Source poll failed (%d consecutive): %v", i.consecutiveFailures, err)

	if i.consecutiveFailures < i.opts.FailureThreshold {
		return
	}

	i.cooldownUntil = i.clock().Add(i.opts.Cooldown)
	log.Printf("Failure threshold reached; cooling down until %s", i.cooldownUntil.Format(time.RFC3339))

	if i.publisher != nil {
		alert := eventbus.IngestAlert{
			Source:       i.source.Name(),
			Failures:     i.consecutiveFailures,
			CooldownSecs: int(i.opts.Cooldown.Seconds()),
			LastError:    err.Error(),
		}
		if pubErr := i.publisher.PublishIngestAlert(alert); pubErr != nil {
			log.Printf("Failed to publish ingest alert: %v", pubErr)
		}
	}
	i.consecutiveFailures = 0
}

// ConsecutiveFailures exposes the failure counter for tests and health
// reporting.
func (i *Ingestor) ConsecutiveFailures() int { return i.consecutiveFailures }

// CoolingDown reports whether the ingestor is inside a cooldown window.
func (i *Ingestor) CoolingDown() bool { return i.clock().Before(i.cooldownUntil) }
