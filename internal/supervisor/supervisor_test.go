package supervisor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/store"
)

func newTestSupervisor(t *testing.T, alive *bool, now *time.Time) (*Supervisor, *store.ProcessStore) {
	t.Helper()
	db, err := store.OpenPath(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	processes := store.NewProcessStore(db)
	s := New(processes).
		WithClock(func() time.Time { return *now }).
		WithLivenessCheck(func(pid int) bool { return *alive }).
		WithSettle(func(time.Duration) {})
	return s, processes
}

func TestAddProcess_Validation(t *testing.T) {
	s := New(nil)

	assert.Error(t, s.AddProcess(ProcessSpec{Name: "", Command: "/bin/true"}))
	assert.Error(t, s.AddProcess(ProcessSpec{Name: "x", Command: ""}))

	require.NoError(t, s.AddProcess(ProcessSpec{Name: "x", Command: "/bin/true"}))
	assert.Error(t, s.AddProcess(ProcessSpec{Name: "x", Command: "/bin/true"}), "duplicate name is refused")
}

func TestStartAll_PersistsRunningState(t *testing.T) {
	ctx := context.Background()
	alive := true
	now := time.Now()
	s, processes := newTestSupervisor(t, &alive, &now)
	defer s.StopAll(ctx)

	require.NoError(t, s.AddProcess(ProcessSpec{Name: "worker", Command: "/bin/sleep", Args: []string{"60"}}))
	require.NoError(t, s.StartAll(ctx))

	rec, err := processes.GetByName(ctx, "worker")
	require.NoError(t, err)
	assert.Equal(t, "running", rec.LastStatus)
	assert.Greater(t, rec.PID, 0)
}

func TestCheckAndRestart_RestartsDeadProcess(t *testing.T) {
	ctx := context.Background()
	alive := true
	now := time.Now()
	s, _ := newTestSupervisor(t, &alive, &now)
	defer s.StopAll(ctx)

	require.NoError(t, s.AddProcess(ProcessSpec{
		Name:             "worker",
		Command:          "/bin/sleep",
		Args:             []string{"60"},
		MaxRestarts:      3,
		RestartWindow:    5 * time.Minute,
		RestartOnFailure: true,
	}))
	require.NoError(t, s.StartAll(ctx))

	// While the process looks alive nothing happens.
	s.CheckAndRestart(ctx)
	assert.Equal(t, 0, s.RestartsInWindow("worker"))

	alive = false
	s.CheckAndRestart(ctx)
	assert.Equal(t, 1, s.RestartsInWindow("worker"))
	assert.Empty(t, s.Exhausted())
}

func TestCheckAndRestart_ExhaustsBudgetInsideWindow(t *testing.T) {
	ctx := context.Background()
	alive := true
	now := time.Now()
	s, processes := newTestSupervisor(t, &alive, &now)
	defer s.StopAll(ctx)

	require.NoError(t, s.AddProcess(ProcessSpec{
		Name:             "crashloop",
		Command:          "/bin/sleep",
		Args:             []string{"60"},
		MaxRestarts:      2,
		RestartWindow:    5 * time.Minute,
		RestartOnFailure: true,
	}))
	require.NoError(t, s.StartAll(ctx))

	alive = false
	s.CheckAndRestart(ctx)
	s.CheckAndRestart(ctx)
	require.Equal(t, 2, s.RestartsInWindow("crashloop"))

	// Third death inside the window: budget spent, no restart.
	s.CheckAndRestart(ctx)
	assert.Equal(t, []string{"crashloop"}, s.Exhausted())

	rec, err := processes.GetByName(ctx, "crashloop")
	require.NoError(t, err)
	assert.Equal(t, "exhausted", rec.LastStatus)

	// Exhausted processes stay down even on later sweeps.
	s.CheckAndRestart(ctx)
	assert.Equal(t, []string{"crashloop"}, s.Exhausted())
}

func TestCheckAndRestart_WindowSlidesRestartsOut(t *testing.T) {
	ctx := context.Background()
	alive := true
	now := time.Now()
	s, _ := newTestSupervisor(t, &alive, &now)
	defer s.StopAll(ctx)

	require.NoError(t, s.AddProcess(ProcessSpec{
		Name:             "worker",
		Command:          "/bin/sleep",
		Args:             []string{"60"},
		MaxRestarts:      2,
		RestartWindow:    5 * time.Minute,
		RestartOnFailure: true,
	}))
	require.NoError(t, s.StartAll(ctx))

	alive = false
	s.CheckAndRestart(ctx)
	s.CheckAndRestart(ctx)
	require.Equal(t, 2, s.RestartsInWindow("worker"))

	// The earlier restarts age out; the next death is restartable again.
	now = now.Add(10 * time.Minute)
	assert.Equal(t, 0, s.RestartsInWindow("worker"))

	s.CheckAndRestart(ctx)
	assert.Equal(t, 1, s.RestartsInWindow("worker"))
	assert.Empty(t, s.Exhausted())
}

func TestCheckAndRestart_RestartOnFailureDisabled(t *testing.T) {
	ctx := context.Background()
	alive := true
	now := time.Now()
	s, processes := newTestSupervisor(t, &alive, &now)
	defer s.StopAll(ctx)

	require.NoError(t, s.AddProcess(ProcessSpec{
		Name:    "oneshot",
		Command: "/bin/sleep",
		Args:    []string{"60"},
	}))
	require.NoError(t, s.StartAll(ctx))

	alive = false
	s.CheckAndRestart(ctx)
	assert.Equal(t, 0, s.RestartsInWindow("oneshot"))

	rec, err := processes.GetByName(ctx, "oneshot")
	require.NoError(t, err)
	assert.Equal(t, "down", rec.LastStatus)
}

func TestStartAll_ReattachesLivePID(t *testing.T) {
	ctx := context.Background()
	alive := true
	now := time.Now()
	s, processes := newTestSupervisor(t, &alive, &now)

	// A previous supervisor life left a PID behind and it is still running.
	require.NoError(t, processes.Record(ctx, store.ProcessRecord{Name: "worker", PID: 4242, LastStatus: "running"}))

	require.NoError(t, s.AddProcess(ProcessSpec{Name: "worker", Command: "/bin/sleep", Args: []string{"60"}}))
	require.NoError(t, s.StartAll(ctx))

	rec, err := processes.GetByName(ctx, "worker")
	require.NoError(t, err)
	assert.Equal(t, 4242, rec.PID, "a live PID is adopted, not replaced")
}
