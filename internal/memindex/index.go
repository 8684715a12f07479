package memindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/DeafMist/news-rag/internal/models"
)

// Index is an in-process vector index scored like the Elasticsearch one:
// cosine similarity plus one.
type Index struct {
	mu     sync.RWMutex
	chunks map[string]models.Chunk
}

// New returns an empty index.
func New() *Index {
	return &Index{chunks: make(map[string]models.Chunk)}
}

func chunkID(dbID int64, i int) string {
	return strconv.FormatInt(dbID, 10) + "-" + strconv.Itoa(i)
}

// IndexChunk stores or replaces a chunk.
func (x *Index) IndexChunk(_ context.Context, chunk models.Chunk) (string, error) {
	if len(chunk.Embedding) == 0 {
		return "", fmt.Errorf("chunk %d-%d has no embedding", chunk.DBID, chunk.Index)
	}
	id := chunkID(chunk.DBID, chunk.Index)
	chunk.Embedding = append([]float32(nil), chunk.Embedding...)

	x.mu.Lock()
	x.chunks[id] = chunk
	x.mu.Unlock()
	return id, nil
}

// DeleteByDBID drops every chunk of a document.
func (x *Index) DeleteByDBID(_ context.Context, dbID int64) (int64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	var n int64
	for id, c := range x.chunks {
		if c.DBID == dbID {
			delete(x.chunks, id)
			n++
		}
	}
	return n, nil
}

// Len reports how many chunks are stored.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.chunks)
}

// SearchByVector returns at most topK chunks with score >= threshold,
// highest first.
func (x *Index) SearchByVector(_ context.Context, vector []float32, topK int, threshold float64) ([]models.Hit, error) {
	if topK <= 0 {
		return []models.Hit{}, nil
	}

	x.mu.RLock()
	hits := make([]models.Hit, 0, len(x.chunks))
	for id, c := range x.chunks {
		if len(c.Embedding) != len(vector) {
			x.mu.RUnlock()
			return nil, fmt.Errorf("query has %d dimensions, chunk %s has %d", len(vector), id, len(c.Embedding))
		}
		score := Cosine(vector, c.Embedding) + 1
		if score < threshold {
			continue
		}
		hits = append(hits, models.Hit{DocumentID: id, DBID: c.DBID, Title: c.Title, Text: c.Text, Score: score})
	}
	x.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocumentID < hits[j].DocumentID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
