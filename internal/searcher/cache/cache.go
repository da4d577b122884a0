// Package cache memoises query responses. Entries live in an in-process LRU
// and, when a Redis client is configured, in a shared Redis tier. Concurrent
// misses for the same key are collapsed into one evaluation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/resilience"
)

// DefaultSize is used when New is given a non-positive size.
const DefaultSize = 1024

// Remote is the shared tier. *redis.Client satisfies it.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Flush(ctx context.Context) (int64, error)
}

// Key identifies one cacheable query. Snapshot is the engine fingerprint of
// the index that answers it; it is the same on every instance serving the
// same artifacts, so the Redis tier is only shared between equal snapshots.
type Key struct {
	Snapshot string
	Strategy engine.Strategy
	Query    string
	Limit    int
}

// String hashes the key. Every tokenizer lower-cases its input, so case is
// folded before hashing.
func (k Key) String() string {
	raw := fmt.Sprintf("snap=%s|s=%s|l=%d|q=%s", k.Snapshot, k.Strategy, k.Limit, strings.ToLower(k.Query))
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum[:16])
}

type QueryCache struct {
	local   *lru.Cache[string, *engine.Response]
	remote  Remote
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a cache holding up to size responses in process. remote and m
// may be nil.
func New(size int, remote Remote, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	if size <= 0 {
		size = DefaultSize
	}
	local, _ := lru.New[string, *engine.Response](size)
	return &QueryCache{
		local:   local,
		remote:  remote,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Get looks in the LRU first, then in Redis. Redis failures are logged and
// reported as misses.
func (c *QueryCache) Get(ctx context.Context, key Key) (*engine.Response, bool) {
	k := key.String()
	if resp, ok := c.local.Get(k); ok {
		c.hit()
		return resp, true
	}
	if c.remote != nil {
		data, err := c.remote.Get(ctx, k)
		switch {
		case err == nil:
			var resp engine.Response
			if err := json.Unmarshal(data, &resp); err != nil {
				c.logger.Error("cache unmarshal failed", "key", k, "error", err)
				break
			}
			c.local.Add(k, &resp)
			c.hit()
			return &resp, true
		case pkgredis.IsNilError(err), errors.Is(err, resilience.ErrCircuitOpen):
		default:
			c.logger.Error("cache get failed", "key", k, "error", err)
		}
	}
	c.miss()
	return nil, false
}

// Set stores resp in both tiers.
func (c *QueryCache) Set(ctx context.Context, key Key, resp *engine.Response) {
	k := key.String()
	c.local.Add(k, resp)
	if c.remote == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", k, "error", err)
		return
	}
	if err := c.remote.Set(ctx, k, data, c.ttl); err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", k, "error", err)
	}
}

// GetOrCompute returns the cached response for key or evaluates compute
// once, however many callers miss concurrently. The bool reports a hit.
// Errors are never cached.
//
// The shared evaluation runs on a context that is not cancelled with the
// first caller's, so one caller giving up does not fail the others.
func (c *QueryCache) GetOrCompute(ctx context.Context, key Key, compute func(ctx context.Context) (*engine.Response, error)) (*engine.Response, bool, error) {
	if resp, ok := c.Get(ctx, key); ok {
		return resp, true, nil
	}
	shared := context.WithoutCancel(ctx)
	val, err, _ := c.group.Do(key.String(), func() (any, error) {
		if resp, ok := c.local.Get(key.String()); ok {
			return resp, nil
		}
		resp, err := compute(shared)
		if err != nil {
			return nil, err
		}
		c.Set(shared, key, resp)
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*engine.Response), false, nil
}

// Invalidate empties the LRU and the Redis namespace.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	c.local.Purge()
	if c.remote == nil {
		return nil
	}
	deleted, err := c.remote.Flush(ctx)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "remote_keys_deleted", deleted)
	return nil
}

// Stats returns cumulative hit and miss counts.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len is the number of responses held in process.
func (c *QueryCache) Len() int {
	return c.local.Len()
}

func (c *QueryCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
