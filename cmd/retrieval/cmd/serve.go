package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/events"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/watcher"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/resilience"
)

type serveOptions struct {
	port      int
	build     bool
	watch     bool
	staticDir string
}

func newServeCmd(a *app) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API over the persisted index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "HTTP port (overrides server.port)")
	cmd.Flags().BoolVar(&opts.build, "build", false, "Rebuild from the corpus before serving instead of loading the store")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Rebuild whenever the corpus changes (overrides indexer.watch)")
	cmd.Flags().StringVar(&opts.staticDir, "static", "", "Directory served at / for a browser client")
	return cmd
}

func runServe(ctx context.Context, a *app, opts serveOptions) error {
	cfg := a.cfg
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}
	if opts.watch {
		cfg.Indexer.Watch = true
	}
	ctx, stop := signalContext(ctx)
	defer stop()

	slog.Info("starting retrieval service",
		"port", cfg.Server.Port,
		"artifact_store", cfg.Indexer.ArtifactStore,
		"tokenizer", cfg.Indexer.Tokenizer,
		"default_strategy", cfg.Search.DefaultStrategy,
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Port, prometheus.DefaultGatherer); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}

	store, pg, release, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer release()

	scheme, err := tokenizer.NewScheme(tokenizer.Mode(cfg.Indexer.Tokenizer))
	if err != nil {
		return err
	}
	eng := engine.New(engine.Options{Scheme: scheme, CosineMatch: cfg.Search.CosineMatch, Metrics: m})

	var remote cache.Remote
	var redisClient *pkgredis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis, "retrieval:query:")
		if err != nil {
			slog.Warn("redis unavailable, caching in process only", "error", err)
		} else {
			defer redisClient.Close()
			remote = cache.Guard(redisClient, resilience.NewBreaker("redis", resilience.BreakerConfig{}))
			slog.Info("shared query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	queryCache := cache.New(cfg.Search.CacheSize, remote, cfg.Redis.CacheTTL, m)

	var producer *kafka.Producer
	var notifier indexer.Notifier
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexBuilt)
		defer producer.Close()
		notifier = events.NewPublisher(producer)
	}
	runner, err := indexer.NewRunner(cfg.Indexer, store, notifier, m)
	if err != nil {
		return err
	}
	reloader := searcher.NewReloader(eng, store, runner, queryCache)

	var tracker handler.QueryTracker
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topics.QueryLog != "" {
		queryProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.QueryLog)
		defer queryProducer.Close()
		queryLog := events.NewQueryLog(queryProducer, 0)
		queryLog.Start(ctx)
		// Deferred after the producer's Close so the buffer drains first.
		defer queryLog.Close()
		tracker = queryLog
	}

	if opts.build {
		_, err = reloader.Rebuild(ctx)
	} else {
		_, err = reloader.Reload(ctx)
	}
	if err != nil {
		// Keep serving: health reports the engine down and queries answer 503
		// until a reload succeeds.
		slog.Error("initial index load failed", "error", err)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexBuilt,
			events.InstanceGroup(cfg.Kafka.ConsumerGroup), events.HandleIndexBuilt(reloader.HandleBuilt))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("index event consumer stopped", "error", err)
			}
		}()
	}

	if cfg.Indexer.Watch {
		w, err := watcher.New(cfg.Indexer.CorpusDir, cfg.Indexer.WatchDebounce, func(ctx context.Context) error {
			_, err := reloader.Rebuild(ctx)
			return err
		})
		if err != nil {
			return err
		}
		go w.Run(ctx)
	}

	checker := health.NewChecker()
	checker.Register("engine", func(context.Context) health.ComponentHealth {
		if !eng.Ready() {
			return health.ComponentHealth{Status: health.StatusDown, Message: eng.State().String()}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("generation %d", eng.Generation())}
	})
	if cfg.Redis.Addr != "" {
		var p health.Pinger
		if redisClient != nil {
			p = redisClient
		}
		checker.Register("redis", health.PingCheck(p, true))
	}
	if pg != nil {
		checker.Register("postgres", health.PingCheck(pg, true))
	}

	mux := http.NewServeMux()
	handler.New(eng, reloader, queryCache, tracker, cfg.Search).Register(mux)
	mux.HandleFunc("GET /health", checker.LiveHandler())
	mux.HandleFunc("GET /ready", checker.ReadyHandler())
	if opts.staticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(opts.staticDir)))
	}

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.AccessLog,
		middleware.CORS(middleware.DefaultCORSConfig()),
	}
	if m != nil {
		mws = append(mws, middleware.Metrics(m))
	}
	if cfg.Server.RateLimit > 0 {
		limiter := ratelimit.New(cfg.Server.RateLimit, cfg.Server.RateWindow)
		defer limiter.Stop()
		mws = append(mws, middleware.RateLimit(limiter))
	}
	mws = append(mws, middleware.AdminKey(cfg.Server.AdminKey))
	mws = append(mws, middleware.Timeout(cfg.Server.WriteTimeout))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, mws...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("retrieval service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	// In-flight handlers still Track and read the cache until Shutdown
	// returns; the deferred closes must run after that.
	<-shutdownDone
	slog.Info("retrieval service stopped")
	return nil
}
