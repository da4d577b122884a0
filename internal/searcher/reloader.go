// Package searcher coordinates the query engine with the artifact store, the
// indexer and the query cache. Subpackages hold the cache and the HTTP
// handler.
package searcher

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/searcher/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/logger"
)

// Builder rebuilds and persists the index. *indexer.Runner satisfies it.
type Builder interface {
	Run(ctx context.Context) (*artifact.Pair, artifact.Manifest, error)
}

// Reloader installs new snapshots in the engine, either by re-reading the
// store or by rebuilding from the corpus, and drops cached responses
// afterwards. Calls are serialised.
type Reloader struct {
	engine  *engine.Engine
	store   artifact.Store
	builder Builder
	cache   *cache.QueryCache
	mu      sync.Mutex
	// lastBuilt is the store generation of this process's latest rebuild, so
	// its own build announcement does not trigger a second load.
	lastBuilt atomic.Int64
	logger    *slog.Logger
}

// NewReloader wires a Reloader. builder and c may be nil.
func NewReloader(e *engine.Engine, store artifact.Store, builder Builder, c *cache.QueryCache) *Reloader {
	return &Reloader{
		engine:  e,
		store:   store,
		builder: builder,
		cache:   c,
		logger:  logger.WithComponent("reloader"),
	}
}

// Reload loads the newest persisted pair and returns the engine generation.
func (r *Reloader) Reload(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.engine.Load(ctx, r.store); err != nil {
		return 0, err
	}
	r.invalidate(ctx)
	return r.engine.Generation(), nil
}

// Rebuild runs the indexer and swaps the fresh pair in. A failed build
// leaves the serving snapshot untouched.
func (r *Reloader) Rebuild(ctx context.Context) (int64, error) {
	if r.builder == nil {
		return 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusConflict, "rebuilding is not enabled on this instance")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	pair, manifest, err := r.builder.Run(ctx)
	if err != nil {
		return 0, err
	}
	r.lastBuilt.Store(manifest.Generation)
	gen, err := r.engine.Swap(pair)
	if err != nil {
		return 0, err
	}
	r.invalidate(ctx)
	return gen, nil
}

// HandleBuilt reacts to a build announced by any indexer.
func (r *Reloader) HandleBuilt(ctx context.Context, manifest artifact.Manifest) error {
	if manifest.Generation != 0 && manifest.Generation == r.lastBuilt.Load() {
		r.logger.Debug("ignoring announcement of own build", "store_generation", manifest.Generation)
		return nil
	}
	gen, err := r.Reload(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("reloaded after build announcement",
		"store_generation", manifest.Generation,
		"generation", gen,
		"documents", manifest.Documents,
	)
	return nil
}

func (r *Reloader) invalidate(ctx context.Context) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx); err != nil {
		r.logger.Warn("cache invalidation after reload failed", "error", err)
	}
}
