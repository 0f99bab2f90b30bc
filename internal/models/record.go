package models

import (
	"fmt"
	"time"
)

// Status values an ActionRecord moves through. The store enforces the legal
// edges; everything else is rejected.
const (
	StatusPending     = "pending"
	StatusApproved    = "approved"
	StatusRejected    = "rejected"
	StatusTimeout     = "timeout"
	StatusInProgress  = "in_progress"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusQuarantined = "quarantined"
)

// Risk levels derived from the weighted risk score.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Decision values an operator can attach to a pending record. The approval
// poller turns them into real transitions on its next pass.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// ActionRecord is the persisted unit of work moving through the
// approval/execution pipeline. Status is authoritative in the store; the
// struct is a point-in-time read.
type ActionRecord struct {
	ID         string `json:"id"`
	ActionType string `json:"action_type"`
	Status     string `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TimeoutAt time.Time `json:"timeout_at"`

	RiskScore int    `json:"risk_score"`
	RiskLevel string `json:"risk_level"`

	RetryCount int                    `json:"retry_count"`
	Payload    map[string]interface{} `json:"payload,omitempty"`

	// Operator decision, staged on a pending record until the approval
	// poller applies it.
	Decision  string `json:"decision,omitempty"`
	DecidedBy string `json:"decided_by,omitempty"`

	// Stamped when the corresponding transition happens.
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`

	// Terminal only.
	Result map[string]interface{} `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
	Reason string                 `json:"reason,omitempty"`

	// Optimistic concurrency version, bumped by every store write.
	Version int64 `json:"version"`
}

// legalTransitions enumerates the allowed status edges. in_progress is an
// executor-internal stop on the approved→{completed,failed,quarantined} path.
var legalTransitions = map[string][]string{
	StatusPending:    {StatusApproved, StatusRejected, StatusTimeout},
	StatusApproved:   {StatusInProgress},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusQuarantined},
}

// TransitionAllowed reports whether from→to is a legal status edge.
func TransitionAllowed(from, to string) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TerminalStatuses are never left once entered; records there are archived,
// not deleted.
func IsTerminal(status string) bool {
	switch status {
	case StatusRejected, StatusTimeout, StatusCompleted, StatusFailed, StatusQuarantined:
		return true
	}
	return false
}

// Validate checks the structural invariants a record must hold before it is
// persisted.
func (r *ActionRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record: missing id")
	}
	if r.ActionType == "" {
		return fmt.Errorf("record: missing action_type")
	}
	if r.RiskScore < 0 || r.RiskScore > 100 {
		return fmt.Errorf("record: risk_score %d out of range", r.RiskScore)
	}
	if !r.TimeoutAt.IsZero() && !r.TimeoutAt.After(r.CreatedAt) {
		return fmt.Errorf("record: timeout_at must be after created_at")
	}
	return nil
}
