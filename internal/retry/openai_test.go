package retry_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/news-rag/internal/retry"
)

func TestOpenAIClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{name: "bad request", err: &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, wantCalls: 1},
		{name: "unauthorized request error", err: &openai.RequestError{HTTPStatusCode: http.StatusUnauthorized}, wantCalls: 1},
		{name: "rate limited", err: &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, wantCalls: 3},
		{name: "request timeout", err: &openai.APIError{HTTPStatusCode: http.StatusRequestTimeout}, wantCalls: 3},
		{name: "server error", err: &openai.APIError{HTTPStatusCode: http.StatusBadGateway}, wantCalls: 3},
		{name: "transport", err: errors.New("connection reset"), wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retry.Do(context.Background(), retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}, func(context.Context) error {
				calls++
				return retry.OpenAI(fmt.Errorf("call: %w", tt.err))
			})
			require.ErrorIs(t, err, tt.err)
			require.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestOpenAINil(t *testing.T) {
	require.NoError(t, retry.OpenAI(nil))
}
