package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/DeafMist/news-rag/internal/models"
	"github.com/DeafMist/news-rag/internal/retry"
)

// ErrGeneration marks a failed or empty answer from the generator.
var ErrGeneration = errors.New("generation failure")

// Generator turns a prompt into answer text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const systemPrompt = `You answer questions about recent news.
Use the provided context when it is relevant and say so when it does not contain the answer.
Keep answers short and factual.`

// BuildPrompt renders the question, the retrieved context, and the prior
// turns. history is expected newest first, as the store returns it, and is
// rendered oldest first.
func BuildPrompt(question, passages string, history []models.Message) string {
	b := &strings.Builder{}
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for i := len(history) - 1; i >= 0; i-- {
			fmt.Fprintf(b, "%s: %s\n", history[i].Sender, strings.TrimSpace(history[i].Text))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(b, "Question: %s\n\n", question)
	if passages != "" {
		fmt.Fprintf(b, "Context: %s\n\n", passages)
	}
	b.WriteString("Answer:")
	return b.String()
}

// Config configures an OpenAI-compatible chat endpoint. Timeout bounds each
// attempt; Retry bounds the attempts.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float32
	MaxTokens   int
	Retry       retry.Policy
}

// OpenAIGenerator implements Generator with chat completions.
type OpenAIGenerator struct {
	client *openai.Client
	cfg    Config
}

// NewOpenAI builds a generator. The model must be set.
func NewOpenAI(cfg Config) (*OpenAIGenerator, error) {
	if cfg.Model == "" {
		return nil, errors.New("generation model must be specified")
	}
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.4
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cc), cfg: cfg}, nil
}

// Generate sends prompt as the user message. Transport, rate limit and server
// errors are retried; client errors and empty answers are not.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: g.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	}

	var answer string
	err := retry.Do(ctx, g.cfg.Retry, func(ctx context.Context) error {
		callCtx := ctx
		if g.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
			defer cancel()
		}
		resp, err := g.client.CreateChatCompletion(callCtx, req)
		if err != nil {
			return retry.OpenAI(err)
		}
		if len(resp.Choices) == 0 {
			return retry.Permanent(errors.New("no choices returned"))
		}
		answer = strings.TrimSpace(resp.Choices[0].Message.Content)
		if answer == "" {
			return retry.Permanent(errors.New("empty answer"))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return answer, nil
}
