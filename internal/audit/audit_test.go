package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, now time.Time) *Logger {
	t.Helper()
	l, err := NewLogger(t.TempDir())
	require.NoError(t, err)
	return l.WithClock(func() time.Time { return now })
}

func TestAppendAndSearch(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := newTestLogger(t, now)

	require.NoError(t, l.Append(Event{
		ActionID:   "a1",
		ActionType: "send_email",
		Domain:     "executor",
		Status:     "completed",
		DurationMs: 42,
	}))
	require.NoError(t, l.Append(Event{
		ActionID:   "a2",
		ActionType: "send_email",
		Domain:     "executor",
		Status:     "failed",
		Error:      "connection refused",
	}))

	events, err := l.Search(Filter{Status: "failed"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "a2", events[0].ActionID)
	assert.Equal(t, "connection refused", events[0].Error)

	events, err = l.Search(Filter{ActionType: "send_email"})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestAppend_FillsDefaults(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := newTestLogger(t, now)

	require.NoError(t, l.Append(Event{Domain: "ingest", Status: "signal_ingested"}))

	events, err := l.Search(Filter{Domain: "ingest"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ActionID, "a missing action id is generated")
	assert.Equal(t, SystemActor, events[0].Actor)
	assert.True(t, events[0].Timestamp.Equal(now))
}

func TestSearch_FiltersByActor(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := newTestLogger(t, now)

	require.NoError(t, l.Append(Event{Actor: Actor{Type: "human", ID: "alice"}, Status: "approved"}))
	require.NoError(t, l.Append(Event{Actor: Actor{Type: "human", ID: "bob"}, Status: "approved"}))

	events, err := l.Search(Filter{ActorID: "alice"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].Actor.ID)
}

func TestSearch_SkipsTornLines(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := newTestLogger(t, now)

	require.NoError(t, l.Append(Event{ActionID: "before", Status: "completed"}))

	// Simulate a crash mid-write.
	path := filepath.Join(l.dir, "audit-2026-03-10.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"action_id":"torn","sta`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, l.Append(Event{ActionID: "after", Status: "completed"}))

	events, err := l.Search(Filter{Status: "completed"})
	require.NoError(t, err)
	require.Len(t, events, 2, "torn line is skipped, neighbours survive")
	assert.Equal(t, "before", events[0].ActionID)
	assert.Equal(t, "after", events[1].ActionID)
}

func TestCleanup_RemovesOnlyExpiredDays(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := newTestLogger(t, now)

	old := now.AddDate(0, 0, -100)
	require.NoError(t, l.Append(Event{ActionID: "old", Status: "completed", Timestamp: old}))
	require.NoError(t, l.Append(Event{ActionID: "recent", Status: "completed"}))

	removed, err := l.Cleanup(90 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	events, err := l.Search(Filter{From: old.AddDate(0, 0, -1), To: now})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "recent", events[0].ActionID)
}

func TestWritable(t *testing.T) {
	now := time.Now()
	l := newTestLogger(t, now)
	assert.NoError(t, l.Writable())
}
