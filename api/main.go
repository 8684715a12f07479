package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/DeafMist/news-rag/internal/bootstrap"
	"github.com/DeafMist/news-rag/internal/config"
	"github.com/DeafMist/news-rag/internal/conversation"
	"github.com/DeafMist/news-rag/internal/elasticsearch"
	"github.com/DeafMist/news-rag/internal/generation"
	"github.com/DeafMist/news-rag/internal/logger"
	"github.com/DeafMist/news-rag/internal/models"
	"github.com/DeafMist/news-rag/internal/query"
	"github.com/DeafMist/news-rag/internal/retrieval"
	"github.com/DeafMist/news-rag/internal/store"
)

func main() {
	config.LoadDotEnv()
	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st, err := store.Open(cfg.DatabasePath, log)
	if err != nil {
		log.Error("open store", slog.Any("err", err))
		os.Exit(1)
	}
	defer st.Close()

	esClient, err := elasticsearch.Connect(ctx, bootstrap.ElasticsearchConfig(cfg.Common, cfg.Dims), log, 10)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	embedder, release, err := bootstrap.Embedder(ctx, cfg.Embedding, cfg.Retry, log)
	if err != nil {
		log.Error("init embedder", slog.Any("err", err))
		os.Exit(1)
	}
	defer release()

	gen, err := generation.NewOpenAI(generation.Config{
		APIKey:  cfg.GenerationAPIKey,
		BaseURL: cfg.GenerationBaseURL,
		Model:   cfg.GenerationModel,
		Timeout: cfg.GenerationTimeout,
		Retry:   bootstrap.RetryPolicy(cfg.Retry),
	})
	if err != nil {
		log.Error("init generator", slog.Any("err", err))
		os.Exit(1)
	}

	ranker := retrieval.New(esClient, retrieval.Options{
		Timeout: 10 * time.Second,
		Retry:   bootstrap.RetryPolicy(cfg.Retry),
		Logger:  log,
	})
	orchestrator := query.New(embedder, ranker, conversation.New(st, log), gen, query.Options{
		TopK:         cfg.TopK,
		Threshold:    cfg.ScoreThreshold,
		HistoryLimit: cfg.HistoryLimit,
		QueryBudget:  cfg.MaxInput,
		OverlapRatio: cfg.OverlapRatio,
		Logger:       log,
	})

	srv := &server{
		log:            log,
		answers:        orchestrator,
		history:        st,
		checks:         []healthCheck{{name: "elasticsearch", check: esClient.Health}, {name: "database", check: st.Ping}},
		requestTimeout: cfg.RequestTimeout,
		historyLimit:   cfg.HistoryLimit,
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           newRouter(srv),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type answerer interface {
	Answer(ctx context.Context, userID, sessionID, question string) (models.QueryResult, error)
}

type historyReader interface {
	SessionByID(ctx context.Context, sessionID string) (models.Session, error)
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
}

type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

type server struct {
	log            *slog.Logger
	answers        answerer
	history        historyReader
	checks         []healthCheck
	requestTimeout time.Duration
	historyLimit   int
}

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/query", s.handleQuery)
	r.Get("/sessions/{sessionID}/messages", s.handleMessages)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

type queryRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	UserQuery string `json:"user_query"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, c := range s.checks {
		if err := c.check(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: c.name + ": " + err.Error()})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.QueryResult{Error: "invalid request body: " + err.Error()})
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = uuid.NewString()
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	res, err := s.answers.Answer(ctx, userID, sessionID, req.UserQuery)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, query.ErrEmptyQuery):
		writeJSON(w, http.StatusBadRequest, res)
	case errors.Is(err, generation.ErrGeneration):
		writeJSON(w, http.StatusBadGateway, res)
	default:
		s.log.Error("answer query", slog.Any("err", err), slog.String("request_id", middleware.GetReqID(ctx)))
		if res.Error == "" {
			res.Error = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, res)
	}
}

func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.history.SessionByID(ctx, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	limit := clampInt(r.URL.Query().Get("limit"), s.historyLimit, 100)
	messages, err := s.history.RecentMessages(ctx, sessionID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
	})
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
