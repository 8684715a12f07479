// Package bootstrap builds the collaborators shared by the binaries from
// their configuration.
package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/DeafMist/news-rag/internal/config"
	"github.com/DeafMist/news-rag/internal/elasticsearch"
	"github.com/DeafMist/news-rag/internal/embedcache"
	"github.com/DeafMist/news-rag/internal/embedding"
	"github.com/DeafMist/news-rag/internal/retry"
)

// RetryPolicy converts the retry settings.
func RetryPolicy(cfg config.Retry) retry.Policy {
	return retry.Policy{Attempts: cfg.Attempts, BaseDelay: cfg.BaseDelay, MaxDelay: 10 * time.Second}
}

// ElasticsearchConfig converts the shared backend settings.
func ElasticsearchConfig(common config.Common, dims int) elasticsearch.Config {
	return elasticsearch.Config{
		Addr:     common.ElasticsearchAddr,
		Index:    common.ElasticsearchIndex,
		Username: common.ElasticsearchUsername,
		Password: common.ElasticsearchPassword,
		Dims:     dims,
	}
}

// Embedder builds the embedding orchestrator. When a Redis address is set the
// provider is fronted by the vector cache. The returned func releases the
// Redis connection.
func Embedder(ctx context.Context, cfg config.Embedding, rc config.Retry, log *slog.Logger) (*embedding.Orchestrator, func(), error) {
	provider, err := embedding.NewOpenAI(embedding.OpenAIConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dims,
		MaxInput:   cfg.MaxInput,
	})
	if err != nil {
		return nil, nil, err
	}

	var (
		embedder embedding.Embedder = provider
		release                     = func() {}
	)
	if cfg.RedisAddr != "" {
		rdb := embedcache.NewClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn("redis unavailable, cache lookups will fall through", slog.Any("err", err))
		}
		cancel()
		embedder = embedcache.New(rdb, provider, cfg.Model, cfg.CacheTTL, log)
		release = func() { _ = rdb.Close() }
	}

	orch := embedding.NewOrchestrator(embedder, embedding.Options{
		Dims:    cfg.Dims,
		Timeout: cfg.Timeout,
		Retry:   RetryPolicy(rc),
		Logger:  log,
	})
	return orch, release, nil
}
