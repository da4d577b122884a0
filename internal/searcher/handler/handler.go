package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/events"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/logger"
)

type QueryEngine interface {
	Query(ctx context.Context, req engine.Request) (*engine.Response, error)
	Current() (*artifact.Pair, int64, error)
	Fingerprint() (string, error)
	State() engine.State
}

type Reloader interface {
	Reload(ctx context.Context) (int64, error)
	Rebuild(ctx context.Context) (int64, error)
}

// QueryTracker receives one event per answered search.
type QueryTracker interface {
	Track(events.QueryEvent)
}

type Handler struct {
	engine          QueryEngine
	reloader        Reloader
	cache           *cache.QueryCache
	tracker         QueryTracker
	defaultStrategy engine.Strategy
	defaultLimit    int
	maxResults      int
	logger          *slog.Logger
}

// New builds a Handler. reloader, queryCache and tracker may be nil.
func New(e QueryEngine, reloader Reloader, queryCache *cache.QueryCache, tracker QueryTracker, cfg config.SearchConfig) *Handler {
	strategy, err := engine.ParseStrategy(cfg.DefaultStrategy)
	if err != nil {
		strategy = engine.StrategyBoolean
	}
	return &Handler{
		engine:          e,
		reloader:        reloader,
		cache:           queryCache,
		tracker:         tracker,
		defaultStrategy: strategy,
		defaultLimit:    cfg.DefaultLimit,
		maxResults:      cfg.MaxResults,
		logger:          slog.Default().With("component", "search-handler"),
	}
}

// Register mounts every endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/status", h.Status)
	mux.HandleFunc("POST /api/v1/reload", h.Reload)
	mux.HandleFunc("POST /api/v1/rebuild", h.Rebuild)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /data/{artifact}", h.Artifact)
}

// Search answers GET /api/v1/search?q=&strategy=&limit=. A blank q yields an
// empty result list.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)
	params := r.URL.Query()

	strategy := h.defaultStrategy
	if s := params.Get("strategy"); s != "" {
		parsed, err := engine.ParseStrategy(s)
		if err != nil {
			h.writeErr(w, err)
			return
		}
		strategy = parsed
	}

	limit := h.defaultLimit
	if limitStr := params.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if h.maxResults > 0 && (limit <= 0 || limit > h.maxResults) {
		limit = h.maxResults
	}

	req := engine.Request{Text: params.Get("q"), Strategy: strategy, Limit: limit}
	var (
		resp     *engine.Response
		err      error
		cacheHit bool
	)
	_, generation, currentErr := h.engine.Current()
	snapshotID, fpErr := h.engine.Fingerprint()
	if h.cache != nil && currentErr == nil && fpErr == nil {
		key := cache.Key{Snapshot: snapshotID, Strategy: strategy, Query: req.Text, Limit: limit}
		resp, cacheHit, err = h.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*engine.Response, error) {
			return h.engine.Query(ctx, req)
		})
	} else {
		resp, err = h.engine.Query(ctx, req)
	}
	if err != nil {
		log.Warn("search failed", "query", req.Text, "strategy", strategy, "error", err)
		h.writeErr(w, err)
		return
	}

	// Cached responses are shared; echo this caller's query on a copy.
	out := *resp
	out.Query = req.Text
	if cacheHit {
		// Entries may come from another instance with its own counter.
		out.Generation = generation
	}

	latency := time.Since(start).Milliseconds()
	log.Info("search completed",
		"query", req.Text,
		"strategy", strategy,
		"generation", out.Generation,
		"total", out.Total,
		"returned", len(out.Results),
		"cache_hit", cacheHit,
		"latency_ms", latency,
	)
	if h.tracker != nil {
		h.tracker.Track(events.QueryEvent{
			Query:      req.Text,
			Strategy:   string(strategy),
			Generation: out.Generation,
			Total:      out.Total,
			Returned:   len(out.Results),
			CacheHit:   cacheHit,
			LatencyMs:  latency,
			RequestID:  logger.RequestID(ctx),
			Timestamp:  start.UTC(),
		})
	}
	h.writeJSON(w, http.StatusOK, &out)
}

type statusResponse struct {
	State      string `json:"state"`
	Generation int64  `json:"generation"`
	Documents  int    `json:"documents"`
	Terms      int    `json:"terms"`
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status := statusResponse{State: h.engine.State().String()}
	if pair, gen, err := h.engine.Current(); err == nil {
		status.Generation = gen
		status.Documents = len(pair.Records)
		status.Terms = len(pair.Postings)
	}
	h.writeJSON(w, http.StatusOK, status)
}

// Reload re-reads the artifact store.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	h.reload(w, r, "reload", func(ctx context.Context) (int64, error) { return h.reloader.Reload(ctx) })
}

// Rebuild re-indexes the corpus and swaps the result in.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	h.reload(w, r, "rebuild", func(ctx context.Context) (int64, error) { return h.reloader.Rebuild(ctx) })
}

func (h *Handler) reload(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context) (int64, error)) {
	if h.reloader == nil {
		h.writeError(w, http.StatusServiceUnavailable, op+" is not available")
		return
	}
	gen, err := fn(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error(op+" failed", "error", err)
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "generation": gen})
}

// Artifact serves the serving snapshot in its persisted JSON layout, so a
// browser client can fetch /data/boolean_index.json and
// /data/vector_data.json.
func (h *Handler) Artifact(w http.ResponseWriter, r *http.Request) {
	pair, gen, err := h.engine.Current()
	if err != nil {
		h.writeErr(w, err)
		return
	}
	w.Header().Set("X-Index-Generation", strconv.FormatInt(gen, 10))
	switch name := r.PathValue("artifact"); name {
	case artifact.PostingsFile:
		h.writeJSON(w, http.StatusOK, pair.Postings)
	case artifact.RecordsFile:
		h.writeJSON(w, http.StatusOK, pair.Records)
	default:
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("no artifact named %q", name))
	}
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"entries":  h.cache.Len(),
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeErr answers with the status HTTPStatusCode picks. Messages of 5xx
// errors other than not-ready stay in the logs.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	h.writeError(w, status, msg)
}
