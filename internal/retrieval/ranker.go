package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/DeafMist/news-rag/internal/logger"
	"github.com/DeafMist/news-rag/internal/models"
	"github.com/DeafMist/news-rag/internal/retry"
)

// ErrSearch marks a failed backend query. An empty result is not an error.
var ErrSearch = errors.New("vector search failed")

// Searcher runs a similarity query.
type Searcher interface {
	SearchByVector(ctx context.Context, vector []float32, topK int, threshold float64) ([]models.Hit, error)
}

// Result is what a query grounds its answer on.
type Result struct {
	Text          string
	OriginalDBIDs []int64
	ESDocumentIDs []string
	Hits          []models.Hit
}

// Empty reports whether nothing cleared the threshold.
func (r Result) Empty() bool {
	return len(r.Hits) == 0
}

// Options tune the ranker.
type Options struct {
	Timeout time.Duration
	Retry   retry.Policy
	Logger  *slog.Logger
}

// Ranker queries the vector index and resolves hits to document ids.
type Ranker struct {
	index Searcher
	opts  Options
	log   *slog.Logger
}

// New builds a ranker.
func New(index Searcher, opts Options) *Ranker {
	return &Ranker{index: index, opts: opts, log: logger.OrDiscard(opts.Logger)}
}

// Search returns at most topK hits scoring at least threshold, highest score
// first. The index already filters server side; the bounds are enforced again
// here so every backend obeys them.
func (r *Ranker) Search(ctx context.Context, vector []float32, topK int, threshold float64) (Result, error) {
	if len(vector) == 0 {
		return Result{}, fmt.Errorf("%w: empty query vector", ErrSearch)
	}

	var hits []models.Hit
	err := retry.Do(ctx, r.opts.Retry, func(ctx context.Context) error {
		callCtx := ctx
		if r.opts.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
			defer cancel()
		}
		h, err := r.index.SearchByVector(callCtx, vector, topK, threshold)
		if err != nil {
			return err
		}
		hits = h
		return nil
	})
	if err != nil {
		r.log.Warn("vector search failed", slog.Any("err", err))
		return Result{}, fmt.Errorf("%w: %w", ErrSearch, err)
	}

	res := Combine(hits, topK, threshold)
	r.log.Debug("vector search",
		slog.Int("hits", len(res.Hits)),
		slog.Int("top_k", topK),
		slog.Float64("threshold", threshold),
	)
	return res, nil
}

// Combine keeps hits within the bounds, orders them by descending score and
// joins their texts with newlines. Parent document ids are listed once each
// in rank order; index ids are listed per hit.
func Combine(hits []models.Hit, topK int, threshold float64) Result {
	kept := make([]models.Hit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= threshold {
			kept = append(kept, h)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if topK < 0 {
		topK = 0
	}
	if len(kept) > topK {
		kept = kept[:topK]
	}

	res := Result{
		OriginalDBIDs: make([]int64, 0, len(kept)),
		ESDocumentIDs: make([]string, 0, len(kept)),
		Hits:          kept,
	}
	texts := make([]string, 0, len(kept))
	seen := make(map[int64]struct{}, len(kept))
	for _, h := range kept {
		texts = append(texts, h.Text)
		res.ESDocumentIDs = append(res.ESDocumentIDs, h.DocumentID)
		if _, ok := seen[h.DBID]; ok {
			continue
		}
		seen[h.DBID] = struct{}{}
		res.OriginalDBIDs = append(res.OriginalDBIDs, h.DBID)
	}
	res.Text = strings.Join(texts, "\n")
	return res
}
