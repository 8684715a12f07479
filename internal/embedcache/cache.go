package embedcache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DeafMist/news-rag/internal/embedding"
	"github.com/DeafMist/news-rag/internal/logger"
)

// Backend is the subset of the Redis client the cache uses.
type Backend interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// NewClient creates a Redis client.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Cache is an embedding.Embedder that remembers vectors in Redis. Redis
// failures never fail an embedding; the call falls through to the provider.
type Cache struct {
	rdb   Backend
	next  embedding.Embedder
	model string
	ttl   time.Duration
	log   *slog.Logger
}

// New wraps next. Keys are scoped by model so switching models never serves
// stale vectors.
func New(rdb Backend, next embedding.Embedder, model string, ttl time.Duration, log *slog.Logger) *Cache {
	return &Cache{rdb: rdb, next: next, model: model, ttl: ttl, log: logger.OrDiscard(log)}
}

func vectorKey(model, text string) string {
	sum := sha1.Sum([]byte(text))
	return fmt.Sprintf("emb:%s:%s", model, hex.EncodeToString(sum[:]))
}

// Embed returns the cached vector for text, or asks the wrapped embedder
// and stores the result.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := vectorKey(c.model, text)

	b, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vec []float32
		if jerr := json.Unmarshal(b, &vec); jerr == nil && len(vec) > 0 {
			return vec, nil
		}
		c.log.Warn("discarding corrupt cached vector", slog.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn("embedding cache read failed", slog.Any("err", err))
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(vec)
	if err != nil {
		return vec, nil
	}
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.log.Warn("embedding cache write failed", slog.Any("err", err))
	}
	return vec, nil
}
