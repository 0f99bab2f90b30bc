package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransitionAllowed_LegalEdges(t *testing.T) {
	legal := []struct{ from, to string }{
		{StatusPending, StatusApproved},
		{StatusPending, StatusRejected},
		{StatusPending, StatusTimeout},
		{StatusApproved, StatusInProgress},
		{StatusInProgress, StatusCompleted},
		{StatusInProgress, StatusFailed},
		{StatusInProgress, StatusQuarantined},
	}
	for _, edge := range legal {
		assert.True(t, TransitionAllowed(edge.from, edge.to), "%s -> %s should be legal", edge.from, edge.to)
	}
}

func TestTransitionAllowed_IllegalEdges(t *testing.T) {
	illegal := []struct{ from, to string }{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusInProgress},
		{StatusApproved, StatusPending},
		{StatusApproved, StatusCompleted},
		{StatusRejected, StatusApproved},
		{StatusCompleted, StatusPending},
		{StatusFailed, StatusInProgress},
		{StatusQuarantined, StatusApproved},
		{StatusTimeout, StatusApproved},
	}
	for _, edge := range illegal {
		assert.False(t, TransitionAllowed(edge.from, edge.to), "%s -> %s should be illegal", edge.from, edge.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(StatusPending))
	assert.False(t, IsTerminal(StatusApproved))
	assert.False(t, IsTerminal(StatusInProgress))

	assert.True(t, IsTerminal(StatusRejected))
	assert.True(t, IsTerminal(StatusTimeout))
	assert.True(t, IsTerminal(StatusCompleted))
	assert.True(t, IsTerminal(StatusFailed))
	assert.True(t, IsTerminal(StatusQuarantined))
}

func TestValidate(t *testing.T) {
	now := time.Now()
	rec := &ActionRecord{
		ID:         "r1",
		ActionType: "send_email",
		CreatedAt:  now,
		TimeoutAt:  now.Add(time.Hour),
	}
	assert.NoError(t, rec.Validate())

	missing := *rec
	missing.ID = ""
	assert.Error(t, missing.Validate())

	noType := *rec
	noType.ActionType = ""
	assert.Error(t, noType.Validate())

	badScore := *rec
	badScore.RiskScore = 101
	assert.Error(t, badScore.Validate())

	badTimeout := *rec
	badTimeout.TimeoutAt = now.Add(-time.Hour)
	assert.Error(t, badTimeout.Validate())
}

func TestRiskFactorsFromPayload(t *testing.T) {
	factors := RiskFactorsFromPayload(map[string]interface{}{
		"external_recipient": true,
		"contains_pii":       true,
		"has_cost":           false,
	})
	assert.True(t, factors.ExternalRecipient)
	assert.True(t, factors.ContainsPII)
	assert.False(t, factors.HasCost)
	assert.False(t, factors.Irreversible)
}

func TestRiskFactorsFromPayload_ReversibleFalseMeansIrreversible(t *testing.T) {
	factors := RiskFactorsFromPayload(map[string]interface{}{"reversible": false})
	assert.True(t, factors.Irreversible)

	factors = RiskFactorsFromPayload(map[string]interface{}{"reversible": true})
	assert.False(t, factors.Irreversible)
}
