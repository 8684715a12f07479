package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/news-rag/internal/logger"
	"github.com/DeafMist/news-rag/internal/models"
)

// ErrIndexWrite is returned when a chunk could not be stored.
var ErrIndexWrite = errors.New("vector index write failed")

// Config describes how to reach the cluster.
type Config struct {
	Addr      string
	Index     string
	Username  string
	Password  string
	Dims      int
	Transport http.RoundTripper
}

// Client wraps go-elasticsearch with the vector index operations the
// pipeline needs.
type Client struct {
	es    *elasticsearch.Client
	index string
	dims  int
	log   *slog.Logger
}

// New instantiates the Elasticsearch client.
func New(cfg Config, log *slog.Logger) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Addr},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	if cfg.Index == "" {
		return nil, errors.New("elasticsearch index must be specified")
	}

	return &Client{es: es, index: cfg.Index, dims: cfg.Dims, log: logger.OrDiscard(log)}, nil
}

// Index returns the index name.
func (c *Client) Index() string {
	return c.index
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

// Health reports whether the cluster answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("cluster health bad: %s", readBody(res))
	}
	return nil
}

// Mapping returns the index body: one entry per chunk with its vector.
func (c *Client) Mapping() map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"db_id":     map[string]any{"type": "long"},
				"topic":     map[string]any{"type": "keyword"},
				"title":     map[string]any{"type": "text"},
				"summary":   map[string]any{"type": "text"},
				"press":     map[string]any{"type": "keyword"},
				"date":      map[string]any{"type": "date"},
				"text":      map[string]any{"type": "text"},
				"embedding": map[string]any{"type": "dense_vector", "dims": c.dims},
			},
		},
	}
}

// EnsureIndex creates the index unless it already exists. It reports whether
// the index was created.
func (c *Client) EnsureIndex(ctx context.Context) (bool, error) {
	exists, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("check index: %w", err)
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return false, nil
	}
	if exists.StatusCode != http.StatusNotFound {
		return false, fmt.Errorf("check index failed: %s", exists.Status())
	}

	payload, err := json.Marshal(c.Mapping())
	if err != nil {
		return false, fmt.Errorf("marshal mapping: %w", err)
	}
	res, err := c.es.Indices.Create(c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return false, fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return false, fmt.Errorf("create index failed: %s", readBody(res))
	}

	c.log.Info("index created", slog.String("index", c.index), slog.Int("dims", c.dims))
	return true, nil
}

// DeleteIndex drops the index. A missing index is not an error.
func (c *Client) DeleteIndex(ctx context.Context) error {
	res, err := c.es.Indices.Delete([]string{c.index}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("delete index failed: %s", readBody(res))
	}
	c.log.Info("index deleted", slog.String("index", c.index))
	return nil
}

// ChunkID is the index document id of chunk i of a stored document.
func ChunkID(dbID int64, i int) string {
	return strconv.FormatInt(dbID, 10) + "-" + strconv.Itoa(i)
}

// IndexChunk writes one chunk and returns its index document id.
func (c *Client) IndexChunk(ctx context.Context, chunk models.Chunk) (string, error) {
	if c.dims > 0 && len(chunk.Embedding) != c.dims {
		return "", fmt.Errorf("%w: embedding has %d dimensions, want %d", ErrIndexWrite, len(chunk.Embedding), c.dims)
	}
	payload, err := json.Marshal(chunk)
	if err != nil {
		return "", fmt.Errorf("marshal chunk: %w", err)
	}

	id := ChunkID(chunk.DBID, chunk.Index)
	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: id,
		Body:       bytes.NewReader(payload),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return "", fmt.Errorf("%w: index chunk %s: %w", ErrIndexWrite, id, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return "", fmt.Errorf("%w: index chunk %s: %s", ErrIndexWrite, id, readBody(res))
	}

	return id, nil
}

// DeleteByDBID removes every chunk that belongs to the stored document.
func (c *Client) DeleteByDBID(ctx context.Context, dbID int64) (int64, error) {
	body := map[string]any{
		"query": map[string]any{
			"term": map[string]any{"db_id": dbID},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal delete body: %w", err)
	}

	res, err := c.es.DeleteByQuery(
		[]string{c.index},
		bytes.NewReader(payload),
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithWaitForCompletion(true),
		c.es.DeleteByQuery.WithConflicts("proceed"),
		c.es.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: delete chunks of %d: %w", ErrIndexWrite, dbID, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, fmt.Errorf("%w: delete chunks of %d: %s", ErrIndexWrite, dbID, readBody(res))
	}

	var parsed struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode delete response: %w", err)
	}
	return parsed.Deleted, nil
}

// Refresh makes recent writes visible to search.
func (c *Client) Refresh(ctx context.Context) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(c.index),
	)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("refresh failed: %s", readBody(res))
	}
	return nil
}

// SearchQuery builds the script_score body. Scores are cosine similarity
// shifted by one, so they fall in [0,2].
func SearchQuery(vector []float32, topK int, threshold float64) map[string]any {
	return map[string]any{
		"size":      topK,
		"min_score": threshold,
		"_source":   []string{"db_id", "title", "text"},
		"query": map[string]any{
			"script_score": map[string]any{
				"query": map[string]any{"match_all": map[string]any{}},
				"script": map[string]any{
					"source": "cosineSimilarity(params.query_vector, 'embedding') + 1.0",
					"params": map[string]any{"query_vector": vector},
				},
			},
		},
	}
}

// SearchByVector returns at most topK chunks scoring at least threshold,
// highest score first. Zero hits is not an error.
func (c *Client) SearchByVector(ctx context.Context, vector []float32, topK int, threshold float64) ([]models.Hit, error) {
	if topK <= 0 {
		return []models.Hit{}, nil
	}
	payload, err := json.Marshal(SearchQuery(vector, topK, threshold))
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search failed: %s", readBody(res))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source struct {
					DBID  int64  `json:"db_id"`
					Title string `json:"title"`
					Text  string `json:"text"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]models.Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, models.Hit{
			DocumentID: h.ID,
			DBID:       h.Source.DBID,
			Title:      h.Source.Title,
			Text:       h.Source.Text,
			Score:      h.Score,
		})
	}
	return hits, nil
}

func readBody(res *esapi.Response) string {
	data, _ := io.ReadAll(res.Body)
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return res.Status()
	}
	return msg
}
