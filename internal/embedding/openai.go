package embedding

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/DeafMist/news-rag/internal/retry"
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint. BaseURL
// may point at any server speaking the same API (a local model server, a
// hosted provider).
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	MaxInput   int
}

// OpenAIEmbedder implements Embedder over the embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAI builds an embedder. The model must be set.
func NewOpenAI(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, errors.New("embedding model must be specified")
	}
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(cc), cfg: cfg}, nil
}

// Embed truncates text to the model input limit and requests one vector.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input:      []string{truncateRunes(text, e.cfg.MaxInput)},
		Model:      openai.EmbeddingModel(e.cfg.Model),
		Dimensions: e.cfg.Dimensions,
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, retry.OpenAI(fmt.Errorf("create embeddings: %w", err))
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
