package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/news-rag/internal/generation"
	"github.com/DeafMist/news-rag/internal/models"
	"github.com/DeafMist/news-rag/internal/query"
	"github.com/DeafMist/news-rag/internal/store"
)

type stubAnswerer struct {
	userID, sessionID, question string
	err                         error
}

func (s *stubAnswerer) Answer(_ context.Context, userID, sessionID, question string) (models.QueryResult, error) {
	s.userID, s.sessionID, s.question = userID, sessionID, question
	res := models.QueryResult{UserID: userID, SessionID: sessionID, UserQuery: question}
	if s.err != nil {
		res.Error = s.err.Error()
		return res, s.err
	}
	answer := "Chips rallied."
	res.Answer = &answer
	res.OriginalDBIDs = []int64{3}
	res.ESDocumentIDs = []string{"3-0"}
	return res, nil
}

func newTestServer(t *testing.T, answers answerer, history historyReader, checks ...healthCheck) *httptest.Server {
	t.Helper()
	srv := &server{
		log:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		answers:        answers,
		history:        history,
		checks:         checks,
		requestTimeout: 5 * time.Second,
		historyLimit:   6,
	}
	ts := httptest.NewServer(newRouter(srv))
	t.Cleanup(ts.Close)
	return ts
}

func postQuery(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url+"/query", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestQueryGeneratesMissingIDs(t *testing.T) {
	ans := &stubAnswerer{}
	ts := newTestServer(t, ans, nil)

	status, out := postQuery(t, ts.URL, `{"user_query":"What rallied?"}`)
	require.Equal(t, http.StatusOK, status)

	_, err := uuid.Parse(ans.userID)
	require.NoError(t, err)
	_, err = uuid.Parse(ans.sessionID)
	require.NoError(t, err)
	require.Equal(t, ans.userID, out["user_id"])
	require.Equal(t, ans.sessionID, out["session_id"])
	require.Equal(t, "What rallied?", out["user_query"])
	require.Equal(t, "Chips rallied.", out["answer"])
	require.Equal(t, []any{float64(3)}, out["original_db_ids"])
	require.Equal(t, []any{"3-0"}, out["es_document_ids"])
}

func TestQueryKeepsProvidedIDs(t *testing.T) {
	ans := &stubAnswerer{}
	ts := newTestServer(t, ans, nil)

	status, _ := postQuery(t, ts.URL, `{"user_id":"u-1","session_id":"s-1","user_query":"hi"}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "u-1", ans.userID)
	require.Equal(t, "s-1", ans.sessionID)
}

func TestQueryErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "empty query", body: `{"user_query":""}`, err: query.ErrEmptyQuery, status: http.StatusBadRequest},
		{name: "generation", body: `{"user_query":"q"}`, err: fmt.Errorf("%w: timeout", generation.ErrGeneration), status: http.StatusBadGateway},
		{name: "unexpected", body: `{"user_query":"q"}`, err: errors.New("boom"), status: http.StatusInternalServerError},
		{name: "bad json", body: `{`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &stubAnswerer{err: tt.err}, nil)

			status, out := postQuery(t, ts.URL, tt.body)
			require.Equal(t, tt.status, status)
			require.Contains(t, out, "answer")
			require.Nil(t, out["answer"])
			require.NotEmpty(t, out["error"])
		})
	}
}

func TestHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	ts := newTestServer(t, &stubAnswerer{}, nil, healthCheck{name: "elasticsearch", check: ok}, healthCheck{name: "database", check: ok})
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ts = newTestServer(t, &stubAnswerer{}, nil, healthCheck{name: "elasticsearch", check: down})
	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var out errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, strings.HasPrefix(out.Error, "elasticsearch: "))
}

func TestSessionMessages(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, err = st.EnsureSession(ctx, "u", "s")
	require.NoError(t, err)
	for _, text := range []string{"q1", "a1", "q2"} {
		_, err := st.AppendMessage(ctx, models.Message{SessionID: "s", Text: text, Sender: models.SenderUser})
		require.NoError(t, err)
	}

	ts := newTestServer(t, &stubAnswerer{}, st)

	resp, err := http.Get(ts.URL + "/sessions/s/messages?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		SessionID string           `json:"session_id"`
		Messages  []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "s", out.SessionID)
	require.Len(t, out.Messages, 2)
	require.Equal(t, "q2", out.Messages[0].Text)

	missing, err := http.Get(ts.URL + "/sessions/nope/messages")
	require.NoError(t, err)
	missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestClampInt(t *testing.T) {
	require.Equal(t, 6, clampInt("", 6, 100))
	require.Equal(t, 6, clampInt("abc", 6, 100))
	require.Equal(t, 6, clampInt("-1", 6, 100))
	require.Equal(t, 100, clampInt("500", 6, 100))
	require.Equal(t, 12, clampInt("12", 6, 100))
}
