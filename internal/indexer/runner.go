package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/tracing"
)

// Notifier is told about every successfully persisted build.
type Notifier interface {
	NotifyBuilt(ctx context.Context, manifest artifact.Manifest) error
}

// Runner performs one full rebuild: read the corpus, build the pair,
// persist it, and announce it.
type Runner struct {
	cfg      config.IndexerConfig
	builder  *Builder
	store    artifact.Store
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewEmbedder returns the embedder named by cfg.Embedding.
func NewEmbedder(cfg config.IndexerConfig) (Embedder, error) {
	switch cfg.Embedding {
	case "random", "":
		return NewRandomEmbedder(cfg.RandomSeed), nil
	case "hashed":
		return NewHashingEmbedder(cfg.EmbeddingDim), nil
	default:
		return nil, fmt.Errorf("unknown embedding %q", cfg.Embedding)
	}
}

// NewRunner wires a Builder from cfg. notifier and m may be nil.
func NewRunner(cfg config.IndexerConfig, store artifact.Store, notifier Notifier, m *metrics.Metrics) (*Runner, error) {
	scheme, err := tokenizer.NewScheme(tokenizer.Mode(cfg.Tokenizer))
	if err != nil {
		return nil, err
	}
	embedder, err := NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	index := scheme.Index
	if cfg.SourceFormat == FormatTranscript {
		index = tokenizer.CleanFields
	}
	return &Runner{
		cfg:      cfg,
		builder:  NewBuilder(index, embedder),
		store:    store,
		notifier: notifier,
		metrics:  m,
		logger:   slog.Default().With("component", "index-runner"),
	}, nil
}

// Run rebuilds from cfg.CorpusDir. Nothing is persisted unless every source
// was read and the build completed.
func (r *Runner) Run(ctx context.Context) (*artifact.Pair, artifact.Manifest, error) {
	start := time.Now()
	pair, manifest, err := r.run(ctx)
	if r.metrics != nil {
		r.metrics.BuildDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			r.metrics.BuildsTotal.WithLabelValues("failed").Inc()
		} else {
			r.metrics.BuildsTotal.WithLabelValues("success").Inc()
			r.metrics.DocsIndexed.Set(float64(manifest.Documents))
			r.metrics.TermsIndexed.Set(float64(manifest.Terms))
		}
	}
	if err != nil {
		r.logger.Error("index rebuild failed", "corpus_dir", r.cfg.CorpusDir, "error", err)
		return nil, artifact.Manifest{}, err
	}
	r.logger.Info("index rebuild complete",
		"corpus_dir", r.cfg.CorpusDir,
		"documents", manifest.Documents,
		"terms", manifest.Terms,
		"generation", manifest.Generation,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return pair, manifest, nil
}

func (r *Runner) run(ctx context.Context) (pair *artifact.Pair, manifest artifact.Manifest, err error) {
	ctx, root := tracing.Start(ctx, "rebuild")
	defer func() {
		root.End(err)
		root.Log(ctx, r.logger)
	}()

	_, span := tracing.Start(ctx, "read")
	sources, err := LoadDir(ctx, r.cfg.CorpusDir, r.cfg.SourceFormat, r.cfg.ChunkSize, r.cfg.ReadWorkers)
	span.SetAttr("sources", len(sources))
	span.End(err)
	if err != nil {
		return nil, artifact.Manifest{}, err
	}

	_, span = tracing.Start(ctx, "build")
	pair, err = r.builder.Build(ctx, sources)
	span.End(err)
	if err != nil {
		return nil, artifact.Manifest{}, err
	}

	_, span = tracing.Start(ctx, "persist")
	manifest, err = r.store.Save(ctx, pair)
	span.SetAttr("generation", manifest.Generation)
	span.End(err)
	if err != nil {
		return nil, artifact.Manifest{}, fmt.Errorf("persisting artifacts: %w", err)
	}

	if r.notifier != nil {
		_, span = tracing.Start(ctx, "notify")
		nerr := r.notifier.NotifyBuilt(ctx, manifest)
		span.End(nerr)
		if nerr != nil {
			r.logger.Warn("build notification failed", "generation", manifest.Generation, "error", nerr)
		}
	}
	return pair, manifest, nil
}
