// Package engine answers free-text queries against an Index Artifact Pair.
//
// An Engine starts Unloaded, moves to Loading while it reads a pair from a
// store, and serves queries only once Ready. Each loaded pair becomes an
// immutable snapshot; rebuilds install a new snapshot with Swap while
// in-flight queries finish on the one they started with.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/metrics"
)

// State is the engine lifecycle position.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Strategy names a query evaluation method.
type Strategy string

const (
	StrategyBoolean Strategy = "boolean"
	StrategyTFIDF   Strategy = "tfidf"
	StrategyCosine  Strategy = "cosine"
)

// ParseStrategy accepts the strategy names case-insensitively.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyBoolean, StrategyTFIDF, StrategyCosine:
		return st, nil
	default:
		return "", apperrors.Newf(apperrors.ErrUnknownStrategy, http.StatusBadRequest, "strategy %q", s)
	}
}

// Request is one query.
type Request struct {
	Text     string   `json:"query"`
	Strategy Strategy `json:"strategy"`
	// Limit truncates the ranked results when positive.
	Limit int `json:"limit,omitempty"`
}

// Result is a matching document. Score is set by the scored strategies
// only; boolean results carry none.
type Result struct {
	artifact.Document
	Score float64 `json:"score,omitempty"`
}

// Response is the ranked answer to a Request.
type Response struct {
	Query      string   `json:"query"`
	Strategy   Strategy `json:"strategy"`
	Generation int64    `json:"generation"`
	// Total counts matches before Limit was applied.
	Total   int      `json:"total"`
	Results []Result `json:"results"`
}

// Options configures an Engine.
type Options struct {
	Scheme tokenizer.Scheme
	// CosineMatch is MatchSubstring (default) or MatchToken.
	CosineMatch string
	Metrics     *metrics.Metrics
}

// Engine is safe for concurrent use. Queries never block on Load or Swap.
type Engine struct {
	scheme      tokenizer.Scheme
	cosineMatch string
	metrics     *metrics.Metrics
	logger      *slog.Logger

	state      atomic.Int32
	current    atomic.Pointer[snapshot]
	generation atomic.Int64
	// loadMu serialises Load and Swap so generations are installed in order.
	loadMu sync.Mutex
}

// New returns an Unloaded engine. A zero Scheme means the legacy tokenizers.
func New(opts Options) *Engine {
	scheme := opts.Scheme
	if scheme.Frequency == nil {
		scheme, _ = tokenizer.NewScheme(tokenizer.ModeLegacy)
	}
	match := opts.CosineMatch
	if match == "" {
		match = MatchSubstring
	}
	e := &Engine{
		scheme:      scheme,
		cosineMatch: match,
		metrics:     opts.Metrics,
		logger:      slog.Default().With("component", "query-engine"),
	}
	e.setState(StateUnloaded)
	return e
}

// State reports where the engine is in its lifecycle.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Ready reports whether queries are accepted.
func (e *Engine) Ready() bool {
	return e.State() == StateReady
}

// Generation is the generation of the snapshot currently serving queries,
// or 0 before the first successful load.
func (e *Engine) Generation() int64 {
	if s := e.current.Load(); s != nil {
		return s.generation
	}
	return 0
}

// Current returns the pair serving queries and its generation.
func (e *Engine) Current() (*artifact.Pair, int64, error) {
	s := e.current.Load()
	if s == nil {
		return nil, 0, apperrors.ErrNotReady
	}
	return s.pair, s.generation, nil
}

// Fingerprint identifies the serving snapshot across processes. Engines
// holding the same artifacts with the same tokenizer mode and cosine
// matching report the same fingerprint whatever their generation.
func (e *Engine) Fingerprint() (string, error) {
	s := e.current.Load()
	if s == nil {
		return "", apperrors.ErrNotReady
	}
	return s.fingerprint, nil
}

// Load reads a pair from store and makes it the serving snapshot. The first
// load moves the engine Unloaded -> Loading -> Ready, and back to Unloaded on
// failure. Once Ready, a failed reload leaves the previous snapshot serving.
func (e *Engine) Load(ctx context.Context, store artifact.Store) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	initial := e.current.Load() == nil
	if initial {
		e.setState(StateLoading)
	}
	start := time.Now()
	pair, manifest, err := store.Load(ctx)
	if err == nil {
		err = pair.Validate()
	}
	if err != nil {
		if initial {
			e.setState(StateUnloaded)
		}
		e.logger.Error("loading index artifacts failed", "error", err)
		return fmt.Errorf("%w: %w", apperrors.ErrLoad, err)
	}

	gen := e.install(pair)
	e.logger.Info("index artifacts loaded",
		"generation", gen,
		"store_generation", manifest.Generation,
		"documents", len(pair.Records),
		"terms", len(pair.Postings),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Swap validates pair and atomically replaces the serving snapshot with it.
// It returns the new generation.
func (e *Engine) Swap(pair *artifact.Pair) (int64, error) {
	if pair == nil {
		return 0, apperrors.New(apperrors.ErrLoad, http.StatusInternalServerError, "nil artifact pair")
	}
	if err := pair.Validate(); err != nil {
		return 0, err
	}
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	gen := e.install(pair)
	e.logger.Info("snapshot swapped", "generation", gen, "documents", len(pair.Records))
	return gen, nil
}

func (e *Engine) install(pair *artifact.Pair) int64 {
	gen := e.generation.Add(1)
	e.current.Store(newSnapshot(pair, e.scheme, e.cosineMatch, gen))
	e.setState(StateReady)
	if e.metrics != nil {
		e.metrics.SnapshotGeneration.Set(float64(gen))
		e.metrics.DocsIndexed.Set(float64(len(pair.Records)))
		e.metrics.TermsIndexed.Set(float64(len(pair.Postings)))
	}
	return gen
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	if e.metrics != nil {
		e.metrics.EngineState.Set(float64(s))
	}
}

// Query evaluates req against the current snapshot. A blank query is a
// no-op and returns an empty response without checking readiness.
func (e *Engine) Query(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	strategy, err := ParseStrategy(string(req.Strategy))
	if err != nil {
		e.observe("unknown", "error", start, 0)
		return nil, err
	}
	resp := &Response{Query: req.Text, Strategy: strategy, Results: []Result{}}
	if strings.TrimSpace(req.Text) == "" {
		e.observe(string(strategy), "empty", start, 0)
		return resp, nil
	}

	snap := e.current.Load()
	if snap == nil || e.State() != StateReady {
		e.observe(string(strategy), "not_ready", start, 0)
		return nil, apperrors.New(apperrors.ErrNotReady, http.StatusServiceUnavailable, "index artifacts are not loaded")
	}
	if err := ctx.Err(); err != nil {
		e.observe(string(strategy), "error", start, 0)
		return nil, err
	}

	var results []Result
	switch strategy {
	case StrategyBoolean:
		results = snap.boolean(e.scheme.BooleanQuery(req.Text))
	case StrategyTFIDF:
		results = snap.tfidf(e.scheme.ScoredQuery(req.Text))
	case StrategyCosine:
		results = snap.cosine(e.scheme.ScoredQuery(req.Text), e.cosineMatch)
	}

	resp.Generation = snap.generation
	resp.Total = len(results)
	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	resp.Results = results

	resultType := "hit"
	if resp.Total == 0 {
		resultType = "zero_result"
	}
	e.observe(string(strategy), resultType, start, len(results))
	return resp, nil
}

func (e *Engine) observe(strategy, resultType string, start time.Time, n int) {
	if e.metrics == nil {
		return
	}
	e.metrics.QueriesTotal.WithLabelValues(strategy, resultType).Inc()
	if resultType == "hit" || resultType == "zero_result" {
		e.metrics.QueryLatency.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
		e.metrics.QueryResultsCount.WithLabelValues(strategy).Observe(float64(n))
	}
}

// sortByScore orders results by descending score; ties keep corpus order.
func sortByScore(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
