// Package scheduler fires recurring internal tasks on fixed cadences:
// dailies at a wall-clock time, weeklies on a weekday, monthlies on a
// day-of-month, and plain intervals. Task counters persist across restarts;
// the functions are re-registered at boot.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/store"
)

// Schedule types.
const (
	TypeDaily    = "daily"
	TypeWeekly   = "weekly"
	TypeMonthly  = "monthly"
	TypeInterval = "interval"
)

// TaskFunc is one schedulable unit of work.
type TaskFunc func(ctx context.Context) error

// Config carries the type-specific schedule parameters.
type Config struct {
	// At is the wall-clock fire time ("15:04") for daily/weekly/monthly.
	At string
	// Weekday is the fire day for weekly schedules.
	Weekday time.Weekday
	// DayOfMonth is the fire day for monthly schedules. A day a short month
	// lacks (29-31) is skipped that month.
	DayOfMonth int
	// Every is the period for interval schedules.
	Every time.Duration
}

type task struct {
	id      string
	fn      TaskFunc
	stype   string
	cfg     Config
	enabled bool

	runCount   int
	errorCount int
	nextRun    time.Time
}

// Stats aggregates counters across all scheduled tasks.
type Stats struct {
	Tasks       int            `json:"tasks"`
	TotalRuns   int            `json:"total_runs"`
	TotalErrors int            `json:"total_errors"`
	PerTask     map[string]int `json:"per_task_runs"`
}

// Scheduler owns the task table and the due-check loop.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*task
	entries *store.ScheduleStore
	clock   func() time.Time
}

// New creates a scheduler. entries may be nil for a purely in-memory one.
func New(entries *store.ScheduleStore) *Scheduler {
	return &Scheduler{
		tasks:   make(map[string]*task),
		entries: entries,
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// ScheduleTask registers fn under id with the given cadence. Counters from a
// previous life of the same task id are restored from the store.
func (s *Scheduler) ScheduleTask(ctx context.Context, id string, fn TaskFunc, stype string, cfg Config) error {
	if fn == nil {
		return fmt.Errorf("scheduler: nil task func for %q", id)
	}
	switch stype {
	case TypeDaily, TypeWeekly, TypeMonthly:
		if _, err := parseAt(cfg.At); err != nil {
			return fmt.Errorf("scheduler: task %q: %w", id, err)
		}
		if stype == TypeMonthly && (cfg.DayOfMonth < 1 || cfg.DayOfMonth > 31) {
			return fmt.Errorf("scheduler: task %q: day_of_month %d out of range", id, cfg.DayOfMonth)
		}
	case TypeInterval:
		if cfg.Every <= 0 {
			return fmt.Errorf("scheduler: task %q: interval must be positive", id)
		}
	default:
		return fmt.Errorf("scheduler: unknown schedule type %q", stype)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[id]; exists {
		return fmt.Errorf("scheduler: task %q already scheduled", id)
	}

	t := &task{id: id, fn: fn, stype: stype, cfg: cfg, enabled: true}
	if s.entries != nil {
		if prev, err := s.entries.Get(ctx, id); err == nil {
			t.runCount = prev.RunCount
			t.errorCount = prev.ErrorCount
		}
	}
	t.nextRun = s.computeNext(t, s.clock())
	s.tasks[id] = t

	if err := s.persist(ctx, t); err != nil {
		delete(s.tasks, id)
		return err
	}

	log.Printf("Task scheduled: %s (%s), next run %s", id, stype, t.nextRun.Format(time.RFC3339))
	return nil
}

// UnscheduleTask cancels a task and removes its stored entry.
func (s *Scheduler) UnscheduleTask(ctx context.Context, id string) error {
	s.mu.Lock()
	_, exists := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("scheduler: task %q not scheduled", id)
	}
	if s.entries != nil {
		if err := s.entries.Delete(ctx, id); err != nil {
			return err
		}
	}
	log.Printf("Task unscheduled: %s", id)
	return nil
}

// GetStats aggregates run and error counters across all tasks.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{PerTask: make(map[string]int)}
	for id, t := range s.tasks {
		stats.Tasks++
		stats.TotalRuns += t.runCount
		stats.TotalErrors += t.errorCount
		stats.PerTask[id] = t.runCount
	}
	return stats
}

// RunCount returns the counters for one task.
func (s *Scheduler) RunCount(id string) (runs, errors int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.runCount, t.errorCount
	}
	return 0, 0
}

// Run polls for due tasks at one-second granularity until the context is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("Scheduler running: %d task(s)", len(s.tasks))

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every due task once. A failing task is counted and logged, never
// allowed to halt the loop.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock()

	s.mu.Lock()
	var due []*task
	for _, t := range s.tasks {
		if t.enabled && !t.nextRun.After(now) {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		err := s.runTask(ctx, t)

		s.mu.Lock()
		t.runCount++
		if err != nil {
			t.errorCount++
			log.Printf("Task %s failed (%d errors): %v", t.id, t.errorCount, err)
		}
		t.nextRun = s.computeNext(t, s.clock())
		s.mu.Unlock()

		if persistErr := s.persist(ctx, t); persistErr != nil {
			log.Printf("Failed to persist task %s counters: %v", t.id, persistErr)
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return t.fn(ctx)
}

func (s *Scheduler) persist(ctx context.Context, t *task) error {
	if s.entries == nil {
		return nil
	}
	cfg := map[string]interface{}{}
	switch t.stype {
	case TypeInterval:
		cfg["every"] = t.cfg.Every.String()
	case TypeDaily:
		cfg["at"] = t.cfg.At
	case TypeWeekly:
		cfg["at"] = t.cfg.At
		cfg["weekday"] = t.cfg.Weekday.String()
	case TypeMonthly:
		cfg["at"] = t.cfg.At
		cfg["day_of_month"] = t.cfg.DayOfMonth
	}
	return s.entries.Upsert(ctx, store.ScheduleEntry{
		TaskID:         t.id,
		ScheduleType:   t.stype,
		ScheduleConfig: cfg,
		Enabled:        t.enabled,
		RunCount:       t.runCount,
		ErrorCount:     t.errorCount,
		NextRun:        t.nextRun.UTC(),
	})
}

// computeNext returns the first fire time strictly after now. A monthly
// occurrence whose trigger instant passed while the process was down is
// skipped, not caught up.
func (s *Scheduler) computeNext(t *task, now time.Time) time.Time {
	switch t.stype {
	case TypeInterval:
		return now.Add(t.cfg.Every)
	case TypeDaily:
		hour, minute := mustParseAt(t.cfg.At)
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	case TypeWeekly:
		hour, minute := mustParseAt(t.cfg.At)
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		for next.Weekday() != t.cfg.Weekday || !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	case TypeMonthly:
		hour, minute := mustParseAt(t.cfg.At)
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		for next.Day() != t.cfg.DayOfMonth || !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
	return now.Add(time.Hour)
}

func parseAt(at string) (time.Time, error) {
	if at == "" {
		return time.Time{}, fmt.Errorf("missing fire time")
	}
	t, err := time.Parse("15:04", at)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid fire time %q: %w", at, err)
	}
	return t, nil
}

func mustParseAt(at string) (hour, minute int) {
	t, err := parseAt(at)
	if err != nil {
		// Validated at ScheduleTask time; a bad value here is a bug.
		return 0, 0
	}
	return t.Hour(), t.Minute()
}
