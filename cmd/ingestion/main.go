// Command ingestion parses a corpus folder and publishes every document to
// the document-ingest topic, where an indexer started with -consume picks
// them up.
//
// Usage:
//
//	go run ./cmd/ingestion [-config file] [-folder dir] [-from i]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BScong/text-indexing/internal/corpus"
	"github.com/BScong/text-indexing/internal/ingestion/publisher"
	"github.com/BScong/text-indexing/pkg/config"
	"github.com/BScong/text-indexing/pkg/kafka"
	"github.com/BScong/text-indexing/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	folder := flag.String("folder", "", "corpus folder to publish (overrides corpus.folder)")
	from := flag.Int("from", 0, "file index of the first file to publish")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *folder != "" {
		cfg.Corpus.Folder = *folder
	}
	logger.Setup("ingestion", cfg.Logging.Level, cfg.Logging.Format)

	if cfg.Corpus.Folder == "" {
		slog.Error("no corpus folder given")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := corpus.NewFolderFrom(cfg.Corpus.Folder, cfg.Corpus.FilePrefix, *from, 1)
	if err != nil {
		slog.Error("listing corpus folder failed", "error", err)
		os.Exit(1)
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest)
	defer producer.Close()
	slog.Info("publishing corpus",
		"folder", cfg.Corpus.Folder,
		"files", len(src.Files()),
		"topic", producer.Topic(),
	)

	start := time.Now()
	n, err := publisher.New(producer).PublishSource(ctx, src)
	if err != nil {
		slog.Error("publishing failed", "published", n, "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion finished", "documents", n, "duration", time.Since(start).Round(time.Millisecond))
}
