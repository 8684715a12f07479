package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeafMist/news-rag/internal/bootstrap"
	"github.com/DeafMist/news-rag/internal/config"
	"github.com/DeafMist/news-rag/internal/elasticsearch"
	"github.com/DeafMist/news-rag/internal/indexing"
	"github.com/DeafMist/news-rag/internal/logger"
	"github.com/DeafMist/news-rag/internal/store"
)

type passRunner interface {
	RunPass(ctx context.Context) (indexing.Stats, error)
}

func main() {
	config.LoadDotEnv()
	log := logger.New("indexer")
	cfg, err := config.LoadIndexer()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st, err := store.Open(cfg.DatabasePath, log)
	if err != nil {
		log.Error("open store", slog.Any("err", err))
		os.Exit(1)
	}
	defer st.Close()

	esClient, err := elasticsearch.Connect(ctx, bootstrap.ElasticsearchConfig(cfg.Common, cfg.Dims), log, 10)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown signal received during startup")
			return
		}
		log.Error("failed to connect to elasticsearch after retries", slog.Any("err", err))
		os.Exit(1)
	}
	if _, err := esClient.EnsureIndex(ctx); err != nil {
		log.Error("ensure index", slog.Any("err", err))
		os.Exit(1)
	}

	embedder, release, err := bootstrap.Embedder(ctx, cfg.Embedding, cfg.Retry, log)
	if err != nil {
		log.Error("init embedder", slog.Any("err", err))
		os.Exit(1)
	}
	defer release()

	ix := indexing.New(st, embedder, esClient, indexing.Options{
		MaxInput:     cfg.MaxInput,
		OverlapRatio: cfg.OverlapRatio,
		Concurrency:  cfg.Concurrency,
		Logger:       log,
	})

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info("indexer running",
		slog.Duration("interval", cfg.Interval),
		slog.Int("concurrency", cfg.Concurrency),
		slog.String("index", esClient.Index()),
	)

	// The first pass runs right away; a failure only waits for the next tick.
	runOnce(ctx, log, ix, cfg.RunTimeout)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case <-ticker.C:
			runOnce(ctx, log, ix, cfg.RunTimeout)
		}
	}
}

func runOnce(ctx context.Context, log *slog.Logger, ix passRunner, timeout time.Duration) indexing.Stats {
	subCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stats, err := ix.RunPass(subCtx)
	if err != nil {
		log.Warn("index pass failed (will retry on next interval)", slog.Any("err", err))
		return stats
	}
	if stats.Fetched == 0 {
		log.Debug("index pass completed, nothing to index")
	}
	return stats
}
