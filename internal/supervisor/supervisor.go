// Package supervisor keeps the pipeline's long-running component processes
// alive, restarting crashed ones inside a bounded sliding window so a
// crash loop cannot amplify forever.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/store"
)

// settleDelay gives a restarted process a moment before the next liveness
// verdict.
const settleDelay = 2 * time.Second

// ProcessSpec describes one supervised component.
type ProcessSpec struct {
	Name             string
	Command          string
	Args             []string
	MaxRestarts      int
	RestartWindow    time.Duration
	RestartOnFailure bool
}

type supervised struct {
	spec ProcessSpec

	cmd *exec.Cmd
	pid int

	// Restart timestamps inside the trailing window; pruned before each
	// check.
	restarts  []time.Time
	exhausted bool
}

// Supervisor owns the process table.
type Supervisor struct {
	mu    sync.Mutex
	procs map[string]*supervised
	order []string

	processes *store.ProcessStore

	clock  func() time.Time
	alive  func(pid int) bool
	settle func(time.Duration)
}

// New creates a supervisor. processes may be nil to skip PID persistence.
func New(processes *store.ProcessStore) *Supervisor {
	return &Supervisor{
		procs:     make(map[string]*supervised),
		processes: processes,
		clock:     time.Now,
		alive:     pidAlive,
		settle:    time.Sleep,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Supervisor) WithClock(clock func() time.Time) *Supervisor {
	s.clock = clock
	return s
}

// WithLivenessCheck overrides the PID liveness probe for testing.
func (s *Supervisor) WithLivenessCheck(alive func(pid int) bool) *Supervisor {
	s.alive = alive
	return s
}

// WithSettle overrides the post-restart settle sleep for testing.
func (s *Supervisor) WithSettle(settle func(time.Duration)) *Supervisor {
	s.settle = settle
	return s
}

// AddProcess registers a component to supervise. Defaults: 3 restarts per
// 5-minute window.
func (s *Supervisor) AddProcess(spec ProcessSpec) error {
	if spec.Name == "" || spec.Command == "" {
		return fmt.Errorf("supervisor: name and command are required")
	}
	if spec.MaxRestarts <= 0 {
		spec.MaxRestarts = 3
	}
	if spec.RestartWindow <= 0 {
		spec.RestartWindow = 5 * time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.procs[spec.Name]; exists {
		return fmt.Errorf("supervisor: process %q already tracked", spec.Name)
	}
	s.procs[spec.Name] = &supervised{spec: spec}
	s.order = append(s.order, spec.Name)
	return nil
}

// StartAll brings every tracked process up. A process whose persisted PID is
// still alive is re-attached instead of started again.
func (s *Supervisor) StartAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range s.order {
		p := s.procs[name]

		if s.processes != nil {
			if rec, err := s.processes.GetByName(ctx, name); err == nil && rec.PID > 0 && s.alive(rec.PID) {
				log.Printf("Re-attached to %s (pid %d)", name, rec.PID)
				p.pid = rec.PID
				continue
			}
		}

		if err := s.startLocked(ctx, p); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
	}
	return nil
}

// CheckAndRestart sweeps the process table once: dead processes inside their
// restart budget are stop-then-started with a settle delay; ones past it are
// left down and flagged exhausted for the operator.
func (s *Supervisor) CheckAndRestart(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	for _, name := range s.order {
		p := s.procs[name]
		if p.exhausted || p.pid == 0 {
			continue
		}
		if s.alive(p.pid) {
			continue
		}

		log.Printf("Process down: %s (pid %d)", name, p.pid)
		s.recordStatus(ctx, p, "down")

		if !p.spec.RestartOnFailure {
			continue
		}

		// Prune restarts that slid out of the window before counting.
		p.restarts = pruneWindow(p.restarts, now, p.spec.RestartWindow)
		if len(p.restarts) >= p.spec.MaxRestarts {
			p.exhausted = true
			log.Printf("Process %s exhausted its restart budget (%d in %s); operator intervention required",
				name, p.spec.MaxRestarts, p.spec.RestartWindow)
			s.recordStatus(ctx, p, "exhausted")
			continue
		}

		s.stopLocked(p)
		if err := s.startLocked(ctx, p); err != nil {
			log.Printf("Failed to restart %s: %v", name, err)
			continue
		}
		p.restarts = append(p.restarts, now)
		s.settle(settleDelay)
		log.Printf("Restarted %s (pid %d), restart %d/%d in window", name, p.pid, len(p.restarts), p.spec.MaxRestarts)
	}
}

// Run sweeps on the given interval until the context is cancelled.
func (s *Supervisor) Run(ctx context.Context, interval time.Duration) error {
	log.Printf("Supervisor running: %d process(es), check interval %s", len(s.order), interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Supervisor stopping")
			return ctx.Err()
		case <-ticker.C:
			s.CheckAndRestart(ctx)
		}
	}
}

// StopAll kills every tracked child. Used on supervisor shutdown.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range s.order {
		p := s.procs[name]
		s.stopLocked(p)
		s.recordStatus(ctx, p, "stopped")
	}
}

// Exhausted lists the processes left down after spending their restart
// budget.
func (s *Supervisor) Exhausted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for _, name := range s.order {
		if s.procs[name].exhausted {
			names = append(names, name)
		}
	}
	return names
}

// RestartsInWindow reports the live restart count for a process. Used by
// tests and health reporting.
func (s *Supervisor) RestartsInWindow(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.procs[name]
	if !ok {
		return 0
	}
	return len(pruneWindow(p.restarts, s.clock(), p.spec.RestartWindow))
}

func (s *Supervisor) startLocked(ctx context.Context, p *supervised) error {
	cmd := exec.Command(p.spec.Command, p.spec.Args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	p.cmd = cmd
	p.pid = cmd.Process.Pid

	// Reap the child when it exits so it never lingers as a zombie.
	go func() { _ = cmd.Wait() }()

	log.Printf("Started %s (pid %d)", p.spec.Name, p.pid)
	s.recordStatus(ctx, p, "running")
	return nil
}

func (s *Supervisor) stopLocked(p *supervised) {
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		p.cmd = nil
	}
	p.pid = 0
}

func (s *Supervisor) recordStatus(ctx context.Context, p *supervised, status string) {
	if s.processes == nil {
		return
	}
	err := s.processes.Record(ctx, store.ProcessRecord{
		Name:       p.spec.Name,
		PID:        p.pid,
		LastStatus: status,
	})
	if err != nil {
		log.Printf("Failed to persist process state for %s: %v", p.spec.Name, err)
	}
}

func pruneWindow(restarts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := restarts[:0]
	for _, t := range restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func pidAlive(pid int) bool {
	exists, err := process.PidExists(int32(pid))
	return err == nil && exists
}
