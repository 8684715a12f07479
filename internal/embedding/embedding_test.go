package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/news-rag/internal/retry"
)

type stubEmbedder struct {
	mu    sync.Mutex
	calls []string
	fn    func(text string) ([]float32, error)
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.mu.Unlock()
	return s.fn(text)
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestEmbedReturnsVector(t *testing.T) {
	stub := &stubEmbedder{fn: func(string) ([]float32, error) { return []float32{1, 2, 3}, nil }}
	o := NewOrchestrator(stub, Options{Dims: 3})

	vec, err := o.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3}, vec)
	require.Equal(t, []string{"hello"}, stub.calls)
}

func TestEmbedFailureIsDistinguishable(t *testing.T) {
	stub := &stubEmbedder{fn: func(string) ([]float32, error) { return nil, errors.New("provider down") }}
	o := NewOrchestrator(stub, Options{Dims: 3, Retry: fastPolicy(3)})

	vec, err := o.Embed(context.Background(), "hello")
	require.ErrorIs(t, err, ErrEmbedding)
	require.Nil(t, vec)
	require.Len(t, stub.calls, 3)
}

func TestEmbedFailureLogsRuneCount(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	stub := &stubEmbedder{fn: func(string) ([]float32, error) { return nil, errors.New("provider down") }}
	o := NewOrchestrator(stub, Options{Dims: 3, Logger: log})

	_, err := o.Embed(context.Background(), "뉴스 속보")
	require.ErrorIs(t, err, ErrEmbedding)
	require.Contains(t, buf.String(), "chars=5")
}

func TestEmbedPermanentErrorIsNotRetried(t *testing.T) {
	stub := &stubEmbedder{fn: func(string) ([]float32, error) {
		return nil, retry.Permanent(errors.New("bad request"))
	}}
	o := NewOrchestrator(stub, Options{Retry: fastPolicy(5)})

	_, err := o.Embed(context.Background(), "hello")
	require.ErrorIs(t, err, ErrEmbedding)
	require.Len(t, stub.calls, 1)
}

func TestEmbedRejectsContractViolations(t *testing.T) {
	tests := []struct {
		name string
		vec  []float32
	}{
		{name: "empty", vec: []float32{}},
		{name: "wrong dims", vec: []float32{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubEmbedder{fn: func(string) ([]float32, error) { return tt.vec, nil }}
			_, err := NewOrchestrator(stub, Options{Dims: 3}).Embed(context.Background(), "x")
			require.ErrorIs(t, err, ErrEmbedding)
		})
	}
}

func TestEmbedAppliesTimeout(t *testing.T) {
	o := NewOrchestrator(embedderFunc(func(ctx context.Context, text string) ([]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), Options{Timeout: 10 * time.Millisecond})

	_, err := o.Embed(context.Background(), "slow")
	require.ErrorIs(t, err, ErrEmbedding)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type embedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f embedderFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

func TestEmbedAggregateMean(t *testing.T) {
	vectors := map[string][]float32{
		"a": {1, 0, 4},
		"b": {3, 2, 0},
	}
	stub := &stubEmbedder{fn: func(text string) ([]float32, error) { return vectors[text], nil }}
	o := NewOrchestrator(stub, Options{Dims: 3})

	vec, err := o.EmbedAggregate(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, []float32{2, 1, 2}, vec)
}

func TestEmbedAggregateStopsOnFailure(t *testing.T) {
	stub := &stubEmbedder{fn: func(text string) ([]float32, error) {
		if text == "bad" {
			return nil, retry.Permanent(errors.New("boom"))
		}
		return []float32{1}, nil
	}}
	o := NewOrchestrator(stub, Options{})

	_, err := o.EmbedAggregate(context.Background(), []string{"ok", "bad", "never"})
	require.ErrorIs(t, err, ErrEmbedding)
	require.Equal(t, []string{"ok", "bad"}, stub.calls)

	_, err = o.EmbedAggregate(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmbedding)
}

func TestMeanPanicsOnDimensionMismatch(t *testing.T) {
	require.Panics(t, func() {
		Mean([][]float32{{1, 2}, {1, 2, 3}})
	})
	require.Nil(t, Mean(nil))
}

func TestEmbedQuery(t *testing.T) {
	stub := &stubEmbedder{fn: func(text string) ([]float32, error) {
		return []float32{float32(len([]rune(text)))}, nil
	}}
	o := NewOrchestrator(stub, Options{})

	vec, err := o.EmbedQuery(context.Background(), "short", 10, 0.2)
	require.NoError(t, err)
	require.Equal(t, []float32{5}, vec)
	require.Len(t, stub.calls, 1)

	stub.calls = nil
	_, err = o.EmbedQuery(context.Background(), strings.Repeat("q", 25), 10, 0.0)
	require.NoError(t, err)
	require.Len(t, stub.calls, 3)
}

func TestOpenAIEmbedder(t *testing.T) {
	var got struct {
		Input      []string `json:"input"`
		Model      string   `json:"model"`
		Dimensions int      `json:"dimensions"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.5,0.25,0.125]}],"model":"m"}`))
	}))
	defer srv.Close()

	e, err := NewOpenAI(OpenAIConfig{APIKey: "secret", BaseURL: srv.URL, Model: "m", Dimensions: 3, MaxInput: 4})
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "truncate me")
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, 0.25, 0.125}, vec)
	require.Equal(t, []string{"trun"}, got.Input)
	require.Equal(t, "m", got.Model)
	require.Equal(t, 3, got.Dimensions)
}

func TestOpenAIEmbedderClientErrorIsPermanent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"input too long","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	e, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)

	o := NewOrchestrator(e, Options{Retry: fastPolicy(3)})
	_, err = o.Embed(context.Background(), "x")
	require.ErrorIs(t, err, ErrEmbedding)
	require.Equal(t, 1, calls)
}

func TestNewOpenAIRequiresModel(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{})
	require.Error(t, err)
}
