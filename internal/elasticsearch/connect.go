package elasticsearch

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Connect builds a client and waits until the cluster answers a ping,
// backing off exponentially between attempts.
func Connect(ctx context.Context, cfg Config, log *slog.Logger, maxRetries int) (*Client, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	retryDelay := 2 * time.Second

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		client, err := New(cfg, log)
		if err != nil {
			// Bad configuration does not get better with time.
			return nil, err
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = client.Ping(pingCtx)
		cancel()
		if lastErr == nil {
			client.log.Info("connected to elasticsearch", slog.String("addr", cfg.Addr))
			return client, nil
		}

		client.log.Warn("elasticsearch ping failed, retrying",
			slog.Any("err", lastErr),
			slog.Int("attempt", i+1),
			slog.Int("max_retries", maxRetries),
			slog.Duration("retry_in", retryDelay),
		)
		if i == maxRetries-1 {
			break
		}

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		retryDelay *= 2
		if retryDelay > 30*time.Second {
			retryDelay = 30 * time.Second
		}
	}
	return nil, fmt.Errorf("connect to elasticsearch after %d attempts: %w", maxRetries, lastErr)
}
