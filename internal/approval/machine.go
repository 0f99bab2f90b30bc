// Package approval owns the pending phase of a record's life: risk scoring
// at creation, staged operator decisions, and the poll that turns decisions
// and timeouts into real transitions.
package approval

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/audit"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/models"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/store"
)

// Risk factor weights. The sum is clamped to 100.
const (
	weightExternalRecipient  = 40
	weightIrreversible       = 30
	weightDataLossPotential  = 25
	weightContainsPII        = 25
	weightHasCost            = 20
	weightPublicVisibility   = 15
	weightReputationalImpact = 15
)

// Level thresholds.
const (
	lowMax    = 20
	mediumMax = 50
)

// DefaultTimeout is applied when no per-action-type timeout is configured.
const DefaultTimeout = 24 * time.Hour

// Score computes the weighted risk score for the given factors, clamped to
// [0, 100].
func Score(f models.RiskFactors) int {
	score := 0
	if f.ExternalRecipient {
		score += weightExternalRecipient
	}
	if f.Irreversible {
		score += weightIrreversible
	}
	if f.DataLossPotential {
		score += weightDataLossPotential
	}
	if f.ContainsPII {
		score += weightContainsPII
	}
	if f.HasCost {
		score += weightHasCost
	}
	if f.PublicVisibility {
		score += weightPublicVisibility
	}
	if f.ReputationalImpact {
		score += weightReputationalImpact
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Level maps a score to its risk level.
func Level(score int) string {
	switch {
	case score <= lowMax:
		return models.RiskLow
	case score <= mediumMax:
		return models.RiskMedium
	default:
		return models.RiskHigh
	}
}

// StatusPublisher is the eventbus slice the machine needs.
type StatusPublisher interface {
	PublishActionStatus(rec *models.ActionRecord) error
}

// Machine is the approval state machine over the record store.
type Machine struct {
	records *store.RecordStore
	auditor *audit.Logger

	// Per-action-type approval timeouts; everything else gets defaultTimeout.
	timeouts       map[string]time.Duration
	defaultTimeout time.Duration

	// When true, low-risk requests skip the human and are staged approved
	// immediately.
	autoApproveLow bool

	publisher StatusPublisher
	clock     func() time.Time
}

func NewMachine(records *store.RecordStore, auditor *audit.Logger) *Machine {
	return &Machine{
		records:        records,
		auditor:        auditor,
		timeouts:       make(map[string]time.Duration),
		defaultTimeout: DefaultTimeout,
		clock:          time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Machine) WithClock(clock func() time.Time) *Machine {
	m.clock = clock
	return m
}

// WithTimeout sets a per-action-type approval timeout.
func (m *Machine) WithTimeout(actionType string, timeout time.Duration) *Machine {
	m.timeouts[actionType] = timeout
	return m
}

// WithDefaultTimeout overrides the fallback timeout for action types with no
// explicit entry.
func (m *Machine) WithDefaultTimeout(timeout time.Duration) *Machine {
	if timeout > 0 {
		m.defaultTimeout = timeout
	}
	return m
}

// WithAutoApproveLow lets low-risk requests through without a human.
func (m *Machine) WithAutoApproveLow(enabled bool) *Machine {
	m.autoApproveLow = enabled
	return m
}

// WithPublisher attaches a status publisher. Optional; transitions still
// happen without one.
func (m *Machine) WithPublisher(p StatusPublisher) *Machine {
	m.publisher = p
	return m
}

// CreateRequest scores the factors, stamps the approval deadline and
// persists a pending record.
func (m *Machine) CreateRequest(ctx context.Context, actionType string, payload map[string]interface{}, factors models.RiskFactors) (*models.ActionRecord, error) {
	now := m.clock().UTC()
	timeout, ok := m.timeouts[actionType]
	if !ok {
		timeout = m.defaultTimeout
	}

	score := Score(factors)
	rec := &models.ActionRecord{
		ID:         uuid.New().String(),
		ActionType: actionType,
		Status:     models.StatusPending,
		CreatedAt:  now,
		TimeoutAt:  now.Add(timeout),
		RiskScore:  score,
		RiskLevel:  Level(score),
		Payload:    payload,
	}

	if err := m.records.Create(ctx, rec); err != nil {
		return nil, err
	}

	if m.autoApproveLow && rec.RiskLevel == models.RiskLow {
		if err := m.records.StageDecision(ctx, rec.ID, models.DecisionApprove, "auto-approver", ""); err != nil {
			log.Printf("Failed to auto-approve %s: %v", rec.ID, err)
		} else {
			rec.Decision = models.DecisionApprove
			rec.DecidedBy = "auto-approver"
		}
	}

	m.auditEvent(audit.Event{
		ActionID:   rec.ID,
		ActionType: actionType,
		Domain:     "approval",
		Status:     "request_created",
		Metadata: map[string]interface{}{
			"risk_score": rec.RiskScore,
			"risk_level": rec.RiskLevel,
			"timeout_at": rec.TimeoutAt,
		},
	})

	log.Printf("Approval request created: %s type=%s risk=%d (%s)", rec.ID, actionType, rec.RiskScore, rec.RiskLevel)
	return rec, nil
}

// ApproveAction stages an operator approval on a pending record. Part of the
// eventbus DecisionProcessor surface.
func (m *Machine) ApproveAction(actionID, operator string) error {
	return m.records.StageDecision(context.Background(), actionID, models.DecisionApprove, operator, "")
}

// RejectAction stages an operator rejection on a pending record.
func (m *Machine) RejectAction(actionID, operator, reason string) error {
	return m.records.StageDecision(context.Background(), actionID, models.DecisionReject, operator, reason)
}

// Poll sweeps the pending set once: staged decisions become approved or
// rejected transitions, and anything past its deadline is force-rejected
// with a timeout reason. Re-running Poll over records another sweep already
// moved is a no-op because they no longer match the pending listing.
func (m *Machine) Poll(ctx context.Context) error {
	pending, err := m.records.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	now := m.clock().UTC()
	for _, rec := range pending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch {
		case rec.Decision == models.DecisionApprove:
			m.applyTransition(ctx, rec, models.StatusApproved, store.Update{}, "approved")
		case rec.Decision == models.DecisionReject:
			reason := rec.Reason
			if reason == "" {
				reason = "rejected by " + rec.DecidedBy
			}
			m.applyTransition(ctx, rec, models.StatusRejected, store.Update{Reason: reason}, "rejected")
		case now.After(rec.TimeoutAt):
			m.applyTransition(ctx, rec, models.StatusRejected, store.Update{Reason: "timeout: no decision before deadline"}, "timeout")
		}
	}
	return nil
}

func (m *Machine) applyTransition(ctx context.Context, rec *models.ActionRecord, to string, up store.Update, outcome string) {
	if err := m.records.Transition(ctx, rec, to, up); err != nil {
		// A lost race means another sweep got here first; the record will not
		// match the pending listing again.
		log.Printf("Approval transition skipped for %s: %v", rec.ID, err)
		return
	}

	m.auditEvent(audit.Event{
		ActionID:   rec.ID,
		ActionType: rec.ActionType,
		Domain:     "approval",
		Status:     outcome,
		Approval:   rec.DecidedBy,
		Error:      rec.Reason,
	})

	if m.publisher != nil {
		if err := m.publisher.PublishActionStatus(rec); err != nil {
			log.Printf("Failed to publish status for %s: %v", rec.ID, err)
		}
	}

	log.Printf("Approval %s: %s (%s)", outcome, rec.ID, rec.ActionType)
}

func (m *Machine) auditEvent(e audit.Event) {
	if m.auditor == nil {
		return
	}
	if err := m.auditor.Append(e); err != nil {
		log.Printf("Failed to append audit event: %v", err)
	}
}
