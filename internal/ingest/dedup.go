package ingest

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/resilience"
)

// Deduper remembers fingerprints for a TTL window. Seen registers a
// fingerprint and reports whether it was already present and unexpired.
type Deduper interface {
	Seen(ctx context.Context, fingerprint string) (bool, error)
}

// MemoryDeduper keeps fingerprints in the bounded in-process cache. This is
// the default; dedup state is lost on restart, which at worst re-admits one
// duplicate per fingerprint (the pipeline is at-least-once anyway).
type MemoryDeduper struct {
	cache *resilience.Cache
}

func NewMemoryDeduper(maxSize int, ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{cache: resilience.NewCache(maxSize, ttl)}
}

// NewMemoryDeduperWithCache injects a prebuilt cache. Used by tests that
// need clock control.
func NewMemoryDeduperWithCache(cache *resilience.Cache) *MemoryDeduper {
	return &MemoryDeduper{cache: cache}
}

func (d *MemoryDeduper) Seen(_ context.Context, fingerprint string) (bool, error) {
	if _, ok := d.cache.Get(fingerprint); ok {
		return true, nil
	}
	d.cache.Set(fingerprint, time.Now().Unix())
	return false, nil
}

// RedisDeduper keeps fingerprints in Redis with a per-key TTL, so dedup
// survives ingestor restarts.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(addr, password string, db int, ttl time.Duration) (*RedisDeduper, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}

	log.Printf("Deduper connected to Redis: %s", addr)

	return &RedisDeduper{rdb: rdb, ttl: ttl}, nil
}

func (d *RedisDeduper) Seen(ctx context.Context, fingerprint string) (bool, error) {
	// SET NX registers and checks in one round trip.
	set, err := d.rdb.SetNX(ctx, "fp:"+fingerprint, time.Now().Unix(), d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

func (d *RedisDeduper) Close() error {
	return d.rdb.Close()
}
