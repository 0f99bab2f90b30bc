// Package audit appends structured pipeline events to per-day JSONL files
// and lets operators search them back by date range and predicate.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Actor identifies who performed an audited action.
type Actor struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Event is one audit record, serialized as a single JSON line.
type Event struct {
	Timestamp  time.Time              `json:"timestamp"`
	ActionID   string                 `json:"action_id"`
	ActionType string                 `json:"action_type"`
	Domain     string                 `json:"domain"`
	Actor      Actor                  `json:"actor"`
	Status     string                 `json:"status"`
	DurationMs int64                  `json:"duration_ms"`
	Target     string                 `json:"target,omitempty"`
	Context    string                 `json:"context,omitempty"`
	Input      map[string]interface{} `json:"input,omitempty"`
	Output     map[string]interface{} `json:"output,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Approval   string                 `json:"approval,omitempty"`
	Metrics    map[string]float64     `json:"metrics,omitempty"`
	Tags       []string               `json:"tags,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// SystemActor is the actor stamped on events the pipeline emits about itself.
var SystemActor = Actor{Type: "system", ID: "pipeline"}

// Logger appends events to audit-YYYY-MM-DD.jsonl files under a directory.
type Logger struct {
	mu    sync.Mutex
	dir   string
	clock func() time.Time
}

// NewLogger creates the audit directory if needed and returns a logger.
func NewLogger(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &Logger{dir: dir, clock: time.Now}, nil
}

// WithClock overrides the clock for deterministic testing.
func (l *Logger) WithClock(clock func() time.Time) *Logger {
	l.clock = clock
	return l
}

// Append writes one event to the current day's file. A missing action id
// gets one generated so the line is still correlatable.
func (l *Logger) Append(e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = l.clock().UTC()
	}
	if e.ActionID == "" {
		e.ActionID = uuid.New().String()
	}
	if e.Actor == (Actor{}) {
		e.Actor = SystemActor
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.fileFor(e.Timestamp)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Filter selects events during Search. Zero values match everything.
type Filter struct {
	From       time.Time
	To         time.Time
	ActionType string
	ActorID    string
	Status     string
	Domain     string
	Tags       []string
}

// Search scans the day files covering the filter's date range and returns
// matching events in file order. An unreadable line is skipped, not fatal:
// a torn write on crash must not make history unsearchable.
func (l *Logger) Search(filter Filter) ([]Event, error) {
	from, to := filter.From, filter.To
	if to.IsZero() {
		to = l.clock().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -7)
	}

	var events []Event
	for day := from.UTC().Truncate(24 * time.Hour); !day.After(to); day = day.AddDate(0, 0, 1) {
		path := l.fileFor(day)
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var e Event
			if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
				log.Printf("Skipping unreadable audit line in %s: %v", path, err)
				continue
			}
			if matches(e, filter, from, to) {
				events = append(events, e)
			}
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	return events, nil
}

// Cleanup deletes whole day files older than the retention horizon and
// returns how many were removed.
func (l *Logger) Cleanup(retention time.Duration) (int, error) {
	cutoff := l.clock().UTC().Add(-retention)

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		var y, m, d int
		if _, err := fmt.Sscanf(entry.Name(), "audit-%d-%d-%d.jsonl", &y, &m, &d); err != nil {
			continue
		}
		day := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
		// The whole day must be past the horizon before its file goes.
		if day.AddDate(0, 0, 1).After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(l.dir, entry.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		log.Printf("Audit retention removed %d day file(s)", removed)
	}
	return removed, nil
}

// Writable checks the audit directory accepts writes. Used by doctor.
func (l *Logger) Writable() error {
	probe := filepath.Join(l.dir, ".probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

func (l *Logger) fileFor(t time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("audit-%s.jsonl", t.UTC().Format("2006-01-02")))
}

func matches(e Event, f Filter, from, to time.Time) bool {
	if e.Timestamp.Before(from) || e.Timestamp.After(to) {
		return false
	}
	if f.ActionType != "" && e.ActionType != f.ActionType {
		return false
	}
	if f.ActorID != "" && e.Actor.ID != f.ActorID {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.Domain != "" && e.Domain != f.Domain {
		return false
	}
	for _, want := range f.Tags {
		found := false
		for _, tag := range e.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
