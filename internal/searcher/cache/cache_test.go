package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/resilience"
)

type memoryRemote struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	flushes int
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{data: make(map[string][]byte)}
}

func (r *memoryRemote) Get(_ context.Context, key string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	v, ok := r.data[key]
	if !ok {
		return nil, goredis.Nil
	}
	return v, nil
}

func (r *memoryRemote) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key] = value
	return nil
}

func (r *memoryRemote) Flush(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.data))
	r.data = make(map[string][]byte)
	r.flushes++
	return n, nil
}

func response(query string, ids ...int) *engine.Response {
	resp := &engine.Response{Query: query, Strategy: engine.StrategyTFIDF, Generation: 1, Total: len(ids)}
	for _, id := range ids {
		resp.Results = append(resp.Results, engine.Result{Document: artifact.Document{ID: id}, Score: 0.5})
	}
	return resp
}

func TestKey_String(t *testing.T) {
	base := Key{Snapshot: "snap1", Strategy: engine.StrategyBoolean, Query: "Cat Dog", Limit: 10}
	assert.Equal(t, base.String(), Key{Snapshot: "snap1", Strategy: engine.StrategyBoolean, Query: "cat dog", Limit: 10}.String())

	for _, other := range []Key{
		{Snapshot: "snap2", Strategy: engine.StrategyBoolean, Query: "cat dog", Limit: 10},
		{Snapshot: "snap1", Strategy: engine.StrategyCosine, Query: "cat dog", Limit: 10},
		{Snapshot: "snap1", Strategy: engine.StrategyBoolean, Query: "cat dog", Limit: 5},
		{Snapshot: "snap1", Strategy: engine.StrategyBoolean, Query: "dog cat", Limit: 10},
	} {
		assert.NotEqual(t, base.String(), other.String(), "%+v", other)
	}
}

func TestQueryCache_LocalOnly(t *testing.T) {
	c := New(2, nil, time.Minute, nil)
	ctx := context.Background()
	key := Key{Snapshot: "snap1", Strategy: engine.StrategyTFIDF, Query: "cat"}

	_, ok := c.Get(ctx, key)
	assert.False(t, ok)

	c.Set(ctx, key, response("cat", 1))
	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, 1, got.Results[0].ID)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestQueryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2, nil, 0, nil)
	ctx := context.Background()
	keys := []Key{{Query: "a"}, {Query: "b"}, {Query: "c"}}
	for _, k := range keys {
		c.Set(ctx, k, response(k.Query))
	}
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(ctx, keys[0])
	assert.False(t, ok)
}

func TestQueryCache_RemoteTier(t *testing.T) {
	remote := newMemoryRemote()
	ctx := context.Background()
	key := Key{Snapshot: "snap3", Strategy: engine.StrategyCosine, Query: "dog"}

	New(8, remote, time.Minute, nil).Set(ctx, key, response("dog", 2, 1))
	require.Len(t, remote.data, 1)

	// A second process with a cold LRU finds the entry in Redis.
	other := New(8, remote, time.Minute, nil)
	got, ok := other.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, []engine.Result{
		{Document: artifact.Document{ID: 2}, Score: 0.5},
		{Document: artifact.Document{ID: 1}, Score: 0.5},
	}, got.Results)
	assert.Equal(t, 1, other.Len())
}

func TestQueryCache_RemoteErrorIsAMiss(t *testing.T) {
	remote := newMemoryRemote()
	remote.getErr = errors.New("connection refused")
	c := New(8, remote, time.Minute, nil)

	_, ok := c.Get(context.Background(), Key{Query: "cat"})
	assert.False(t, ok)
}

func TestQueryCache_GetOrComputeCollapsesMisses(t *testing.T) {
	c := New(8, nil, 0, nil)
	key := Key{Snapshot: "snap1", Strategy: engine.StrategyBoolean, Query: "cat"}
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, _, err := c.GetOrCompute(context.Background(), key, func(context.Context) (*engine.Response, error) {
				calls.Add(1)
				<-release
				return response("cat", 1), nil
			})
			assert.NoError(t, err)
			assert.Equal(t, "cat", resp.Query)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	_, hit, err := c.GetOrCompute(context.Background(), key, func(context.Context) (*engine.Response, error) {
		t.Fatal("compute called on a cached key")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestQueryCache_GetOrComputeSurvivesFirstCallerCancel(t *testing.T) {
	c := New(8, nil, 0, nil)
	key := Key{Snapshot: "snap1", Strategy: engine.StrategyTFIDF, Query: "cat"}
	started := make(chan struct{})
	release := make(chan struct{})

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(firstCtx, key, func(ctx context.Context) (*engine.Response, error) {
			close(started)
			<-release
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return response("cat", 1), nil
		})
		firstErr <- err
	}()
	<-started

	secondResp := make(chan *engine.Response, 1)
	go func() {
		resp, _, err := c.GetOrCompute(context.Background(), key, func(context.Context) (*engine.Response, error) {
			return nil, errors.New("second caller should join the first evaluation")
		})
		assert.NoError(t, err)
		secondResp <- resp
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(release)

	assert.NoError(t, <-firstErr)
	resp := <-secondResp
	require.NotNil(t, resp)
	assert.Equal(t, 1, resp.Results[0].ID)
}

func TestQueryCache_ErrorsAreNotCached(t *testing.T) {
	c := New(8, nil, 0, nil)
	key := Key{Query: "cat"}
	boom := errors.New("boom")

	_, _, err := c.GetOrCompute(context.Background(), key, func(context.Context) (*engine.Response, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())
}

func TestQueryCache_Invalidate(t *testing.T) {
	remote := newMemoryRemote()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	c := New(8, remote, time.Minute, m)
	ctx := context.Background()
	key := Key{Query: "cat"}

	c.Set(ctx, key, response("cat", 1))
	_, ok := c.Get(ctx, key)
	require.True(t, ok)

	require.NoError(t, c.Invalidate(ctx))
	assert.Zero(t, c.Len())
	assert.Empty(t, remote.data)
	assert.Equal(t, 1, remote.flushes)

	_, ok = c.Get(ctx, key)
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal))
}

func TestQueryCache_InstancesWithDifferentSnapshotsDoNotShare(t *testing.T) {
	remote := newMemoryRemote()
	ctx := context.Background()

	pairA := &artifact.Pair{
		Postings: artifact.PostingList{"cat": {1}},
		Records:  []artifact.Record{{Document: artifact.Document{ID: 1, Text: "cat"}, Embedding: []float64{1}}},
	}
	pairB := &artifact.Pair{
		Postings: artifact.PostingList{"dog": {1}, "cat": {2}},
		Records: []artifact.Record{
			{Document: artifact.Document{ID: 1, Text: "dog"}, Embedding: []float64{1}},
			{Document: artifact.Document{ID: 2, Text: "cat"}, Embedding: []float64{1}},
		},
	}

	search := func(e *engine.Engine, c *QueryCache) (*engine.Response, bool) {
		t.Helper()
		snap, err := e.Fingerprint()
		require.NoError(t, err)
		req := engine.Request{Text: "cat", Strategy: engine.StrategyBoolean}
		key := Key{Snapshot: snap, Strategy: req.Strategy, Query: req.Text}
		resp, hit, err := c.GetOrCompute(ctx, key, func(ctx context.Context) (*engine.Response, error) {
			return e.Query(ctx, req)
		})
		require.NoError(t, err)
		return resp, hit
	}

	engineA, engineB := engine.New(engine.Options{}), engine.New(engine.Options{})
	_, err := engineA.Swap(pairA)
	require.NoError(t, err)
	_, err = engineB.Swap(pairB)
	require.NoError(t, err)
	assert.Equal(t, engineA.Generation(), engineB.Generation())

	respA, _ := search(engineA, New(8, remote, time.Minute, nil))
	assert.Equal(t, 1, respA.Results[0].ID)

	respB, hit := search(engineB, New(8, remote, time.Minute, nil))
	assert.False(t, hit)
	require.Len(t, respB.Results, 1)
	assert.Equal(t, 2, respB.Results[0].ID)

	// An instance holding the same artifacts as A reuses A's entry.
	engineC := engine.New(engine.Options{})
	_, err = engineC.Swap(pairA)
	require.NoError(t, err)
	respC, hit := search(engineC, New(8, remote, time.Minute, nil))
	assert.True(t, hit)
	assert.Equal(t, 1, respC.Results[0].ID)
}

func TestGuard_OpensOnRemoteFailures(t *testing.T) {
	remote := newMemoryRemote()
	breaker := resilience.NewBreaker("redis", resilience.BreakerConfig{FailureThreshold: 2, CoolDown: time.Hour})
	c := New(8, Guard(remote, breaker), time.Minute, nil)
	ctx := context.Background()

	// Misses do not count against the breaker.
	for i := 0; i < 3; i++ {
		_, ok := c.Get(ctx, Key{Query: "cat"})
		assert.False(t, ok)
	}
	assert.Equal(t, resilience.StateClosed, breaker.State())

	remote.getErr = errors.New("connection refused")
	c.Get(ctx, Key{Query: "a"})
	c.Get(ctx, Key{Query: "b"})
	assert.Equal(t, resilience.StateOpen, breaker.State())

	// While open the local tier keeps working.
	c.Set(ctx, Key{Query: "dog"}, response("dog", 2))
	got, ok := c.Get(ctx, Key{Query: "dog"})
	require.True(t, ok)
	assert.Equal(t, "dog", got.Query)
	assert.Empty(t, remote.data)
}
