package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/p-n-ai/pai-papers/internal/platform/cache"
)

// RunGuard admits at most one pipeline run per batch at a time.
type RunGuard interface {
	// Acquire reports false when a run of batchID is already in flight.
	// The returned release func must be called once the run ends.
	Acquire(ctx context.Context, batchID string) (release func(), ok bool, err error)
}

// MemoryGuard guards runs within a single process.
type MemoryGuard struct {
	mu      sync.Mutex
	running map[string]bool
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{running: make(map[string]bool)}
}

func (g *MemoryGuard) Acquire(_ context.Context, batchID string) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running[batchID] {
		return nil, false, nil
	}
	g.running[batchID] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.running, batchID)
			g.mu.Unlock()
		})
	}, true, nil
}

// Running reports whether batchID currently holds the guard.
func (g *MemoryGuard) Running(batchID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running[batchID]
}

const defaultLockTTL = 15 * time.Minute

// RedisGuard guards runs across replicas with a token lock in Redis or
// Dragonfly. The TTL bounds how long a crashed replica can hold a batch.
type RedisGuard struct {
	cache *cache.Cache
	ttl   time.Duration
}

func NewRedisGuard(c *cache.Cache, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisGuard{cache: c, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, batchID string) (func(), bool, error) {
	key := "papers:run:" + batchID
	token := newID()

	ok, err := g.cache.AcquireLock(ctx, key, token, g.ttl)
	if err != nil || !ok {
		return nil, false, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
			defer cancel()
			if err := g.cache.ReleaseLock(ctx, key, token); err != nil {
				slog.Warn("failed to release run lock", "batch_id", batchID, "error", err)
			}
		})
	}, true, nil
}
