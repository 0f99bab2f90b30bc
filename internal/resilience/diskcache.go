package resilience

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DiskCache is the disk-backed variant of Cache for payloads too large to
// keep resident. Entries are serialized as one JSON file per key; age is
// enforced on read, size by evicting the oldest files on write.
type DiskCache struct {
	mu sync.Mutex

	dir        string
	maxEntries int
	ttl        time.Duration
	clock      func() time.Time
}

type diskEntry struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"stored_at"`
}

func NewDiskCache(dir string, maxEntries int, ttl time.Duration) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &DiskCache{dir: dir, maxEntries: maxEntries, ttl: ttl, clock: time.Now}, nil
}

// WithClock overrides the clock for deterministic testing.
func (c *DiskCache) WithClock(clock func() time.Time) *DiskCache {
	c.clock = clock
	return c
}

// Get unmarshals the stored value for key into out. Returns false when the
// key is absent or expired.
func (c *DiskCache) Get(key string, out interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	var entry diskEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A torn write is treated as a miss and cleaned up.
		_ = os.Remove(c.pathFor(key))
		return false, nil
	}
	if c.ttl > 0 && c.clock().Sub(entry.StoredAt) >= c.ttl {
		_ = os.Remove(c.pathFor(key))
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(entry.Value, out); err != nil {
			return false, fmt.Errorf("decode cached value: %w", err)
		}
	}
	return true, nil
}

// Set serializes value under key, evicting oldest entries past the bound.
func (c *DiskCache) Set(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	entry := diskEntry{Key: key, Value: raw, StoredAt: c.clock().UTC()}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	// Write-then-rename so readers never see a half-written entry.
	tmp := c.pathFor(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.pathFor(key)); err != nil {
		return err
	}

	return c.evictOverflow()
}

// Delete removes a key if present.
func (c *DiskCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := os.Remove(c.pathFor(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Len reports how many entries are on disk.
func (c *DiskCache) Len() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	names, err := c.entryFiles()
	return len(names), err
}

func (c *DiskCache) evictOverflow() error {
	names, err := c.entryFiles()
	if err != nil {
		return err
	}
	if len(names) <= c.maxEntries {
		return nil
	}

	type aged struct {
		path    string
		modTime time.Time
	}
	files := make([]aged, 0, len(names))
	for _, name := range names {
		path := filepath.Join(c.dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		files = append(files, aged{path: path, modTime: info.ModTime()})
	}

	for len(files) > c.maxEntries {
		oldest := 0
		for i := range files {
			if files[i].modTime.Before(files[oldest].modTime) {
				oldest = i
			}
		}
		if err := os.Remove(files[oldest].path); err != nil && !os.IsNotExist(err) {
			return err
		}
		files = append(files[:oldest], files[oldest+1:]...)
	}
	return nil
}

func (c *DiskCache) entryFiles() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".json" {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (c *DiskCache) pathFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:16])+".json")
}
