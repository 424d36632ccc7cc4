// Command indexer builds and maintains the on-disk index.
//
// It indexes a corpus folder in batches of files, optionally keeps watching
// the folder for new files, and optionally consumes document-ingest events
// from Kafka. After every committed batch it records document titles in the
// catalogue and publishes an index-complete event.
//
// Usage:
//
//	go run ./cmd/indexer [-config file] [-folder dir] [-batch n] [-from i] [-watch] [-consume]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/BScong/text-indexing/internal/catalogue"
	"github.com/BScong/text-indexing/internal/corpus"
	"github.com/BScong/text-indexing/internal/indexer"
	"github.com/BScong/text-indexing/internal/indexer/consumer"
	"github.com/BScong/text-indexing/internal/indexer/tokenizer"
	"github.com/BScong/text-indexing/internal/ingestion/publisher"
	"github.com/BScong/text-indexing/internal/watcher"
	"github.com/BScong/text-indexing/pkg/config"
	"github.com/BScong/text-indexing/pkg/kafka"
	"github.com/BScong/text-indexing/pkg/logger"
	"github.com/BScong/text-indexing/pkg/metrics"
	"github.com/BScong/text-indexing/pkg/sqldb"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	folder := flag.String("folder", "", "corpus folder to index (overrides corpus.folder)")
	batch := flag.Int("batch", 0, "collection files per merge (overrides index.batchSize)")
	from := flag.Int("from", 0, "file index of the first file to read; earlier files are already indexed")
	watch := flag.Bool("watch", false, "keep watching the folder for new files")
	consume := flag.Bool("consume", false, "index documents from the document-ingest topic")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *folder != "" {
		cfg.Corpus.Folder = *folder
	}
	if *batch > 0 {
		cfg.Index.BatchSize = *batch
	}
	if *watch {
		cfg.Corpus.Watch = true
	}

	logger.Setup("indexer", cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg, *from, *consume); err != nil {
		slog.Error("indexer failed", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer stopped")
}

func run(cfg *config.Config, from int, consume bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		mctx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := metrics.Serve(mctx, fmt.Sprintf(":%d", cfg.Metrics.Port), nil); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	opts := []indexer.Option{indexer.WithMetrics(m)}

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
		opts = append(opts, indexer.WithRecorder(cat))
		slog.Info("catalogue enabled", "driver", cfg.Catalogue.Driver)
	}

	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
		opts = append(opts, indexer.WithNotifier(publisher.NewNotifier(producer)))
		slog.Info("index-complete events enabled", "topic", producer.Topic())
	}

	engine, err := indexer.NewEngine(cfg.Index, tokenizer.New(cfg.Tokenizer), opts...)
	if err != nil {
		return err
	}
	defer engine.Close()
	stats := engine.Stats()
	slog.Info("index opened",
		"data_dir", cfg.Index.DataDir,
		"vocabulary_size", stats.VocabularySize,
		"docs_indexed", stats.DocsIndexed,
	)

	var indexed []string
	if cfg.Corpus.Folder != "" {
		src, err := corpus.NewFolderFrom(cfg.Corpus.Folder, cfg.Corpus.FilePrefix, from, cfg.Index.BatchSize)
		if err != nil {
			return err
		}
		slog.Info("indexing corpus folder", "folder", cfg.Corpus.Folder, "files", len(src.Files()), "from", from)
		runStats, err := engine.IndexSource(ctx, src)
		if errors.Is(err, context.Canceled) {
			slog.Info("indexing interrupted", "batches", runStats.Batches)
			return nil
		}
		if err != nil {
			return err
		}
		slog.Info("corpus indexed",
			"batches", runStats.Batches,
			"documents", runStats.Documents,
			"timing", runStats.Timing,
		)
		all, err := corpus.ListFiles(cfg.Corpus.Folder, cfg.Corpus.FilePrefix)
		if err != nil {
			return err
		}
		indexed = all[:min(from+len(src.Files()), len(all))]
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Corpus.Watch && cfg.Corpus.Folder != "" {
		w := watcher.New(cfg.Corpus.Folder, cfg.Corpus.FilePrefix, cfg.Index.BatchSize, cfg.Corpus.Debounce, engine, indexed)
		g.Go(func() error { return w.Run(gctx) })
	}
	if consume {
		if !cfg.Kafka.Enabled {
			return fmt.Errorf("-consume requires kafka to be enabled")
		}
		kc := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest, "")
		defer kc.Close()
		ic := consumer.New(kc, engine, cfg.Kafka.BatchSize, cfg.Kafka.BatchTimeout)
		g.Go(func() error { return ic.Start(gctx) })
		slog.Info("consuming document-ingest events",
			"topic", cfg.Kafka.Topics.DocumentIngest,
			"group", cfg.Kafka.ConsumerGroup,
		)
	}
	return g.Wait()
}
