package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/DeafMist/news-rag/internal/logger"
	"github.com/DeafMist/news-rag/internal/processing"
	"github.com/DeafMist/news-rag/internal/retry"
)

// ErrEmbedding marks a provider failure or a vector that breaks the
// configured contract. It is never replaced by a zero vector.
var ErrEmbedding = errors.New("embedding failure")

// Embedder turns text into a fixed-length vector. Implementations truncate
// input that exceeds their model limit.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options tune the orchestrator. Zero values disable the corresponding check.
type Options struct {
	Dims    int
	Timeout time.Duration
	Retry   retry.Policy
	Logger  *slog.Logger
}

// Orchestrator drives an Embedder for chunks and queries.
type Orchestrator struct {
	embedder Embedder
	opts     Options
	log      *slog.Logger
}

// NewOrchestrator wraps embedder.
func NewOrchestrator(embedder Embedder, opts Options) *Orchestrator {
	return &Orchestrator{embedder: embedder, opts: opts, log: logger.OrDiscard(opts.Logger)}
}

// Dims reports the expected vector length, or 0 when unchecked.
func (o *Orchestrator) Dims() int {
	return o.opts.Dims
}

// Embed returns the vector for text. Transient provider errors are retried
// within the configured policy.
func (o *Orchestrator) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := retry.Do(ctx, o.opts.Retry, func(ctx context.Context) error {
		callCtx := ctx
		if o.opts.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
			defer cancel()
		}
		v, err := o.embedder.Embed(callCtx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		o.log.Warn("embed failed", slog.Int("chars", utf8.RuneCountInString(text)), slog.Any("err", err))
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}

	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: provider returned an empty vector", ErrEmbedding)
	}
	if o.opts.Dims > 0 && len(vec) != o.opts.Dims {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrEmbedding, len(vec), o.opts.Dims)
	}
	return vec, nil
}

// EmbedAggregate embeds every chunk and returns their element-wise mean.
// Chunks whose vectors differ in length violate the Embedder contract and
// cause a panic.
func (o *Orchestrator) EmbedAggregate(ctx context.Context, chunks []string) ([]float32, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: nothing to embed", ErrEmbedding)
	}

	vectors := make([][]float32, 0, len(chunks))
	for i, chunk := range chunks {
		vec, err := o.Embed(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		vectors = append(vectors, vec)
	}
	return Mean(vectors), nil
}

// EmbedQuery embeds a user query. Queries longer than budget runes are
// split with the chunker and averaged.
func (o *Orchestrator) EmbedQuery(ctx context.Context, query string, budget int, overlapRatio float64) ([]float32, error) {
	chunks := processing.Chunk("", query, budget, overlapRatio)
	if len(chunks) == 1 {
		return o.Embed(ctx, query)
	}
	o.log.Debug("aggregating oversized query", slog.Int("chunks", len(chunks)))
	return o.EmbedAggregate(ctx, chunks)
}

// Mean returns the element-wise mean of vectors, which must all share one
// length.
func Mean(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dims := len(vectors[0])
	sum := make([]float64, dims)
	for i, v := range vectors {
		if len(v) != dims {
			panic(fmt.Sprintf("embedding: vector %d has %d dimensions, want %d", i, len(v), dims))
		}
		for j, x := range v {
			sum[j] += float64(x)
		}
	}
	out := make([]float32, dims)
	n := float64(len(vectors))
	for j := range sum {
		out[j] = float32(sum[j] / n)
	}
	return out
}
