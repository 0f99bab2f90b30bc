package approval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/models"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/store"
)

func newTestStore(t *testing.T) *store.RecordStore {
	t.Helper()
	db, err := store.OpenPath(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewRecordStore(db)
}

func TestScore(t *testing.T) {
	assert.Equal(t, 0, Score(models.RiskFactors{}))
	assert.Equal(t, 40, Score(models.RiskFactors{ExternalRecipient: true}))
	assert.Equal(t, 70, Score(models.RiskFactors{ExternalRecipient: true, Irreversible: true}))
	assert.Equal(t, 100, Score(models.RiskFactors{
		ExternalRecipient:  true,
		Irreversible:       true,
		DataLossPotential:  true,
		ContainsPII:        true,
		HasCost:            true,
		PublicVisibility:   true,
		ReputationalImpact: true,
	}), "score is clamped to 100")
}

func TestLevel(t *testing.T) {
	assert.Equal(t, models.RiskLow, Level(0))
	assert.Equal(t, models.RiskLow, Level(20))
	assert.Equal(t, models.RiskMedium, Level(21))
	assert.Equal(t, models.RiskMedium, Level(50))
	assert.Equal(t, models.RiskHigh, Level(51))
	assert.Equal(t, models.RiskHigh, Level(100))
}

func TestCreateRequest_ScoresAndStampsDeadline(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m := NewMachine(newTestStore(t), nil).WithClock(func() time.Time { return now })

	rec, err := m.CreateRequest(ctx, "send_external_email", map[string]interface{}{"to": "x@example.com"},
		models.RiskFactors{ExternalRecipient: true, Irreversible: true})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, 70, rec.RiskScore)
	assert.Equal(t, models.RiskHigh, rec.RiskLevel)
	assert.True(t, rec.TimeoutAt.Equal(now.Add(DefaultTimeout)))
}

func TestCreateRequest_PerTypeTimeout(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m := NewMachine(newTestStore(t), nil).
		WithClock(func() time.Time { return now }).
		WithTimeout("urgent_page", time.Hour)

	rec, err := m.CreateRequest(ctx, "urgent_page", nil, models.RiskFactors{})
	require.NoError(t, err)
	assert.True(t, rec.TimeoutAt.Equal(now.Add(time.Hour)))
}

func TestApproveThenPollTransitions(t *testing.T) {
	ctx := context.Background()
	records := newTestStore(t)
	m := NewMachine(records, nil)

	rec, err := m.CreateRequest(ctx, "send_email", nil, models.RiskFactors{ExternalRecipient: true})
	require.NoError(t, err)

	require.NoError(t, m.ApproveAction(rec.ID, "alice"))

	// Staging alone does not move the record.
	got, err := records.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	require.NoError(t, m.Poll(ctx))

	got, err = records.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.Equal(t, "alice", got.DecidedBy)
	assert.NotNil(t, got.ApprovedAt)
}

func TestRejectThenPollTransitions(t *testing.T) {
	ctx := context.Background()
	records := newTestStore(t)
	m := NewMachine(records, nil)

	rec, err := m.CreateRequest(ctx, "delete_dataset", nil, models.RiskFactors{DataLossPotential: true})
	require.NoError(t, err)

	require.NoError(t, m.RejectAction(rec.ID, "bob", "wrong dataset"))
	require.NoError(t, m.Poll(ctx))

	got, err := records.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)
	assert.Equal(t, "wrong dataset", got.Reason)
	assert.NotNil(t, got.RejectedAt)
}

func TestPoll_TimeoutRejectsExpiredPending(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	records := newTestStore(t)
	m := NewMachine(records, nil).WithClock(func() time.Time { return now })

	rec, err := m.CreateRequest(ctx, "send_email", nil, models.RiskFactors{ExternalRecipient: true})
	require.NoError(t, err)

	// One second short of the deadline: still pending.
	now = now.Add(DefaultTimeout - time.Second)
	require.NoError(t, m.Poll(ctx))
	got, err := records.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, got.Status)

	now = now.Add(2 * time.Second)
	require.NoError(t, m.Poll(ctx))

	got, err = records.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)
	assert.Equal(t, "timeout: no decision before deadline", got.Reason)
}

func TestPoll_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	records := newTestStore(t)
	m := NewMachine(records, nil)

	rec, err := m.CreateRequest(ctx, "send_email", nil, models.RiskFactors{ExternalRecipient: true})
	require.NoError(t, err)
	require.NoError(t, m.ApproveAction(rec.ID, "alice"))

	require.NoError(t, m.Poll(ctx))
	require.NoError(t, m.Poll(ctx))

	got, err := records.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	approved, err := records.ListByStatus(ctx, models.StatusApproved)
	require.NoError(t, err)
	assert.Len(t, approved, 1)
}

func TestAutoApproveLow(t *testing.T) {
	ctx := context.Background()
	records := newTestStore(t)
	m := NewMachine(records, nil).WithAutoApproveLow(true)

	low, err := m.CreateRequest(ctx, "archive_note", nil, models.RiskFactors{})
	require.NoError(t, err)
	high, err := m.CreateRequest(ctx, "wire_funds", nil, models.RiskFactors{HasCost: true, Irreversible: true})
	require.NoError(t, err)

	require.NoError(t, m.Poll(ctx))

	got, err := records.Get(ctx, low.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.Equal(t, "auto-approver", got.DecidedBy)

	got, err = records.Get(ctx, high.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status, "only low risk skips the human")
}

func TestDecisionOnAlreadyDecidedRecord(t *testing.T) {
	ctx := context.Background()
	records := newTestStore(t)
	m := NewMachine(records, nil)

	rec, err := m.CreateRequest(ctx, "send_email", nil, models.RiskFactors{ExternalRecipient: true})
	require.NoError(t, err)
	require.NoError(t, m.ApproveAction(rec.ID, "alice"))
	require.NoError(t, m.Poll(ctx))

	err = m.RejectAction(rec.ID, "bob", "too late")
	assert.ErrorIs(t, err, store.ErrConflict, "decisions only land on pending records")
}
