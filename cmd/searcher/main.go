// Command searcher serves queries over the index written by the indexer.
//
// Routes:
//
//	GET  /api/v1/search?q=&limit=
//	GET  /api/v1/topk?q=&k=
//	GET  /api/v1/documents/{id}
//	GET  /api/v1/documents/{id}/similar?k=
//	GET  /api/v1/words/{term}/similar?k=
//	GET  /api/v1/stats
//	GET  /api/v1/cache/stats
//	POST /api/v1/cache/invalidate
//	GET  /health/live, /health/ready
//	GET  /metrics
//
// With Kafka enabled it reloads the index and clears the query cache on
// every index-complete event.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/BScong/text-indexing/internal/catalogue"
	"github.com/BScong/text-indexing/internal/corpus"
	"github.com/BScong/text-indexing/internal/indexer"
	"github.com/BScong/text-indexing/internal/indexer/tokenizer"
	"github.com/BScong/text-indexing/internal/searcher/cache"
	"github.com/BScong/text-indexing/internal/searcher/executor"
	"github.com/BScong/text-indexing/internal/searcher/handler"
	"github.com/BScong/text-indexing/internal/searcher/reloader"
	"github.com/BScong/text-indexing/pkg/config"
	"github.com/BScong/text-indexing/pkg/health"
	"github.com/BScong/text-indexing/pkg/kafka"
	"github.com/BScong/text-indexing/pkg/logger"
	"github.com/BScong/text-indexing/pkg/metrics"
	"github.com/BScong/text-indexing/pkg/middleware"
	pkgredis "github.com/BScong/text-indexing/pkg/redis"
	"github.com/BScong/text-indexing/pkg/sqldb"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("searcher", cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	engine, err := indexer.NewEngine(cfg.Index, tokenizer.New(cfg.Tokenizer), indexer.WithMetrics(m))
	if err != nil {
		return err
	}
	defer engine.Close()
	stats := engine.Stats()
	slog.Info("index loaded",
		"data_dir", cfg.Index.DataDir,
		"vocabulary_size", stats.VocabularySize,
		"docs_indexed", stats.DocsIndexed,
	)

	checker := health.NewChecker()
	checker.Register("index", health.IndexCheck(func() (int, uint64) {
		s := engine.Stats()
		return s.VocabularySize, s.DocsIndexed
	}))

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
			checker.Register("redis", health.PingCheck(nil, true))
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis, m)
			checker.Register("redis", health.PingCheck(redisClient, true))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var titles handler.TitleLookup
	if cfg.Catalogue.Enabled {
		db, err := sqldb.Open(ctx, cfg.Catalogue)
		if err != nil {
			return err
		}
		defer db.Close()
		cat, err := catalogue.New(ctx, db)
		if err != nil {
			return err
		}
		titles = cat
		checker.Register("catalogue", health.PingCheck(cat, false))
	}

	var documents handler.DocumentReader
	if cfg.Corpus.Folder != "" {
		documents = corpus.NewReader(cfg.Corpus.Folder, cfg.Corpus.FilePrefix)
	}

	searcher := executor.New(engine, m)
	h := handler.New(searcher, queryCache, titles, documents, cfg.Search)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if cfg.Server.RateLimit > 0 {
		limiter := middleware.NewLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow)
		go limiter.Run(ctx)
		chain = middleware.RateLimit(limiter, m)(chain)
	}
	chain = middleware.Logging(chain)
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("search service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.Kafka.Enabled {
		// every replica must see every event, so each gets its own group
		group := cfg.Kafka.ConsumerGroup + "-searcher-" + uuid.NewString()
		kc := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete, group)
		defer kc.Close()
		var inv reloader.Invalidator
		if queryCache != nil {
			inv = queryCache
		}
		rl := reloader.New(engine, inv)
		g.Go(func() error { return kc.Start(gctx, rl.HandleMessage) })
		slog.Info("listening for index-complete events", "topic", cfg.Kafka.Topics.IndexComplete, "group", group)
	}

	return g.Wait()
}
