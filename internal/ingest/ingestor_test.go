package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/eventbus"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/models"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/resilience"
)

type fakeSource struct {
	signals []models.Signal
	err     error
	polls   int
}

func (f *fakeSource) Connect(ctx context.Context) error     { return nil }
func (f *fakeSource) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeSource) Close() error                          { return nil }
func (f *fakeSource) Name() string                          { return "fake" }

func (f *fakeSource) Poll(ctx context.Context) ([]models.Signal, error) {
	f.polls++
	if f.err != nil {
		return nil, f.err
	}
	return f.signals, nil
}

type fakeCreator struct {
	created []string
}

func (f *fakeCreator) CreateRequest(ctx context.Context, actionType string, payload map[string]interface{}, factors models.RiskFactors) (*models.ActionRecord, error) {
	f.created = append(f.created, actionType)
	return &models.ActionRecord{ID: "rec", ActionType: actionType, Payload: payload}, nil
}

type fakePublisher struct {
	alerts []eventbus.IngestAlert
}

func (f *fakePublisher) PublishIngestAlert(alert eventbus.IngestAlert) error {
	f.alerts = append(f.alerts, alert)
	return nil
}

func signalAt(ts time.Time, content string) models.Signal {
	return models.Signal{
		Origin:     "inbox",
		Topic:      "billing",
		Timestamp:  ts,
		Content:    content,
		ActionType: "send_email",
	}
}

func TestFingerprint_StableWithinMinute(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 5, 0, time.UTC)

	a := Fingerprint(signalAt(base, "invoice overdue"))
	b := Fingerprint(signalAt(base.Add(30*time.Second), "invoice overdue"))
	assert.Equal(t, a, b, "delivery jitter within the minute must not change the fingerprint")

	c := Fingerprint(signalAt(base.Add(2*time.Minute), "invoice overdue"))
	assert.NotEqual(t, a, c)
}

func TestFingerprint_IgnoresTrailingNoise(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}

	a := Fingerprint(signalAt(base, string(long)+"footer-one"))
	b := Fingerprint(signalAt(base, string(long)+"footer-two"))
	assert.Equal(t, a, b, "only the content prefix participates")
}

func TestFingerprint_DistinguishesOriginAndTopic(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := signalAt(base, "hello")
	b := signalAt(base, "hello")
	b.Topic = "support"
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestPollOnce_SuppressesDuplicates(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	source := &fakeSource{signals: []models.Signal{
		signalAt(ts, "invoice overdue"),
		signalAt(ts.Add(10*time.Second), "invoice overdue"),
		signalAt(ts, "completely different"),
	}}
	creator := &fakeCreator{}
	ing := NewIngestor(source, NewMemoryDeduper(16, time.Hour), creator, Options{})

	created := ing.PollOnce(ctx)
	assert.Equal(t, 2, created, "the second delivery of the same signal is suppressed")
	assert.Len(t, creator.created, 2)
}

func TestPollOnce_DedupExpiresWithTTL(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	now := ts

	cache := resilience.NewCache(16, time.Hour).WithClock(func() time.Time { return now })
	source := &fakeSource{signals: []models.Signal{signalAt(ts, "invoice overdue")}}
	creator := &fakeCreator{}
	ing := NewIngestor(source, NewMemoryDeduperWithCache(cache), creator, Options{})

	assert.Equal(t, 1, ing.PollOnce(ctx))
	assert.Equal(t, 0, ing.PollOnce(ctx), "inside the TTL window the repeat is suppressed")

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, ing.PollOnce(ctx), "past the TTL the same fingerprint is new again")
	assert.Len(t, creator.created, 2)
}

func TestPollOnce_FailureThresholdTriggersCooldown(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	source := &fakeSource{err: errors.New("connection refused")}
	publisher := &fakePublisher{}
	ing := NewIngestor(source, NewMemoryDeduper(16, time.Hour), &fakeCreator{}, Options{
		FailureThreshold: 3,
		Cooldown:         5 * time.Minute,
	}).WithClock(func() time.Time { return now }).WithPublisher(publisher)

	ing.PollOnce(ctx)
	ing.PollOnce(ctx)
	assert.False(t, ing.CoolingDown())
	assert.Equal(t, 2, ing.ConsecutiveFailures())

	ing.PollOnce(ctx)
	assert.True(t, ing.CoolingDown())
	require.Len(t, publisher.alerts, 1)
	assert.Equal(t, "fake", publisher.alerts[0].Source)
	assert.Equal(t, 3, publisher.alerts[0].Failures)
	assert.Equal(t, 300, publisher.alerts[0].CooldownSecs)

	// Polls during cooldown do not touch the source.
	polls := source.polls
	ing.PollOnce(ctx)
	assert.Equal(t, polls, source.polls)

	// Cooldown elapses, polling resumes.
	now = now.Add(6 * time.Minute)
	source.err = nil
	ing.PollOnce(ctx)
	assert.Greater(t, source.polls, polls)
	assert.False(t, ing.CoolingDown())
}

func TestPollOnce_SuccessResetsFailureCounter(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{err: errors.New("connection refused")}
	ing := NewIngestor(source, NewMemoryDeduper(16, time.Hour), &fakeCreator{}, Options{FailureThreshold: 5})

	ing.PollOnce(ctx)
	ing.PollOnce(ctx)
	require.Equal(t, 2, ing.ConsecutiveFailures())

	source.err = nil
	ing.PollOnce(ctx)
	assert.Equal(t, 0, ing.ConsecutiveFailures())
}

func TestPollOnce_RiskFactorsLiftedFromPayload(t *testing.T) {
	ctx := context.Background()
	sig := signalAt(time.Now(), "wire request")
	sig.Payload = map[string]interface{}{"external_recipient": true, "has_cost": true}

	var gotFactors models.RiskFactors
	creator := creatorFunc(func(ctx context.Context, actionType string, payload map[string]interface{}, factors models.RiskFactors) (*models.ActionRecord, error) {
		gotFactors = factors
		return &models.ActionRecord{ID: "rec", ActionType: actionType}, nil
	})
	ing := NewIngestor(&fakeSource{signals: []models.Signal{sig}}, NewMemoryDeduper(16, time.Hour), creator, Options{})

	require.Equal(t, 1, ing.PollOnce(ctx))
	assert.True(t, gotFactors.ExternalRecipient)
	assert.True(t, gotFactors.HasCost)
	assert.False(t, gotFactors.ContainsPII)
}

type creatorFunc func(ctx context.Context, actionType string, payload map[string]interface{}, factors models.RiskFactors) (*models.ActionRecord, error)

func (f creatorFunc) CreateRequest(ctx context.Context, actionType string, payload map[string]interface{}, factors models.RiskFactors) (*models.ActionRecord, error) {
	return f(ctx, actionType, payload, factors)
}
