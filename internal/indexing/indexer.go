package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/news-rag/internal/logger"
	"github.com/DeafMist/news-rag/internal/models"
	"github.com/DeafMist/news-rag/internal/processing"
)

// minBudget keeps long titles from squeezing the text window to nothing.
const minBudget = 64

var (
	// ErrSkipped is returned for documents that carry no indexable text.
	ErrSkipped = errors.New("document has no indexable content")
	// ErrChanged is returned when the document was upserted again while its
	// chunks were being written. It stays unindexed for the next pass.
	ErrChanged = errors.New("document changed during indexing")
)

// Source is the record store side of indexing. MarkIndexed reports false
// when the stored row is no longer at revision.
type Source interface {
	FetchUnindexed(ctx context.Context) ([]models.NewsDocument, error)
	MarkIndexed(ctx context.Context, url string, revision int64) (bool, error)
}

// Embedder produces one vector per chunk.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex stores chunk vectors.
type VectorIndex interface {
	IndexChunk(ctx context.Context, chunk models.Chunk) (string, error)
	DeleteByDBID(ctx context.Context, dbID int64) (int64, error)
}

// Options tune chunking and parallelism.
type Options struct {
	MaxInput     int
	OverlapRatio float64
	Concurrency  int
	Logger       *slog.Logger
}

// Indexer chunks, embeds and writes stored documents.
type Indexer struct {
	source   Source
	embedder Embedder
	index    VectorIndex
	opts     Options
	log      *slog.Logger
}

// Stats summarises one pass.
type Stats struct {
	Fetched int
	Indexed int
	Skipped int
	Changed int
	Failed  int
	Chunks  int
}

// New builds an indexer.
func New(source Source, embedder Embedder, index VectorIndex, opts Options) *Indexer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Indexer{source: source, embedder: embedder, index: index, opts: opts, log: logger.OrDiscard(opts.Logger)}
}

// Budget returns the number of text runes each chunk gets after the prefix.
func (ix *Indexer) Budget(prefix string) int {
	budget := ix.opts.MaxInput - len([]rune(prefix))
	if budget < minBudget {
		budget = minBudget
	}
	return budget
}

// IndexDocument replaces the document's chunks in the vector index and marks
// the fetched revision indexed. The first failed chunk aborts the document,
// which then stays unindexed; chunks already written are left in place until
// the next pass deletes them.
func (ix *Indexer) IndexDocument(ctx context.Context, doc models.NewsDocument) (int, error) {
	if doc.Status == models.StatusFailure || strings.TrimSpace(doc.Content) == "" {
		return 0, ErrSkipped
	}

	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = processing.GenerateTitleFromText(doc.Content, 12)
	}
	prefix := processing.TitlePrompt(title)
	texts := processing.Chunk(prefix, doc.Content, ix.Budget(prefix), ix.opts.OverlapRatio)

	if _, err := ix.index.DeleteByDBID(ctx, doc.ID); err != nil {
		return 0, fmt.Errorf("clear previous chunks of %d: %w", doc.ID, err)
	}

	for i, text := range texts {
		vec, err := ix.embedder.Embed(ctx, text)
		if err != nil {
			return i, fmt.Errorf("embed chunk %d of %d: %w", i, doc.ID, err)
		}
		_, err = ix.index.IndexChunk(ctx, models.Chunk{
			DBID:      doc.ID,
			Index:     i,
			Topic:     doc.Topic,
			Title:     title,
			Summary:   doc.Summary,
			Press:     doc.Press,
			Date:      doc.Date,
			Text:      text,
			Embedding: vec,
		})
		if err != nil {
			return i, fmt.Errorf("write chunk %d of %d: %w", i, doc.ID, err)
		}
	}

	marked, err := ix.source.MarkIndexed(ctx, doc.URL, doc.Revision)
	if err != nil {
		return len(texts), fmt.Errorf("mark %s indexed: %w", doc.URL, err)
	}
	if !marked {
		return len(texts), fmt.Errorf("%w: %s at revision %d", ErrChanged, doc.URL, doc.Revision)
	}
	return len(texts), nil
}

// RunPass indexes every unindexed document. Failures are contained per
// document and counted; only a failed fetch or a cancelled context end the
// pass with an error.
func (ix *Indexer) RunPass(ctx context.Context) (Stats, error) {
	start := time.Now()
	docs, err := ix.source.FetchUnindexed(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("fetch unindexed: %w", err)
	}

	var indexed, skipped, changed, failed, chunks atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Concurrency)
	for _, doc := range docs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			n, err := ix.IndexDocument(gctx, doc)
			chunks.Add(int64(n))
			switch {
			case err == nil:
				indexed.Add(1)
				ix.log.Debug("document indexed", slog.Int64("id", doc.ID), slog.Int("chunks", n))
			case errors.Is(err, ErrSkipped):
				skipped.Add(1)
				ix.log.Debug("document skipped", slog.Int64("id", doc.ID), slog.String("status", doc.Status))
			case errors.Is(err, ErrChanged):
				changed.Add(1)
				ix.log.Info("document changed during indexing", slog.Int64("id", doc.ID), slog.String("url", doc.URL))
			default:
				failed.Add(1)
				ix.log.Warn("index document failed", slog.Int64("id", doc.ID), slog.String("url", doc.URL), slog.Any("err", err))
			}
			return nil
		})
	}
	_ = g.Wait()

	stats := Stats{
		Fetched: len(docs),
		Indexed: int(indexed.Load()),
		Skipped: int(skipped.Load()),
		Changed: int(changed.Load()),
		Failed:  int(failed.Load()),
		Chunks:  int(chunks.Load()),
	}
	ix.log.Info("index pass finished",
		slog.Int("fetched", stats.Fetched),
		slog.Int("indexed", stats.Indexed),
		slog.Int("skipped", stats.Skipped),
		slog.Int("changed", stats.Changed),
		slog.Int("failed", stats.Failed),
		slog.Int("chunks", stats.Chunks),
		slog.Duration("took", time.Since(start)),
	)
	return stats, ctx.Err()
}
