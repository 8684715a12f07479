package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DeafMist/news-rag/internal/generation"
	"github.com/DeafMist/news-rag/internal/logger"
	"github.com/DeafMist/news-rag/internal/models"
	"github.com/DeafMist/news-rag/internal/retrieval"
)

// ErrEmptyQuery is returned when there is no question to answer.
var ErrEmptyQuery = errors.New("user_query is required")

// Embedder turns the question into a query vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, query string, budget int, overlapRatio float64) ([]float32, error)
}

// Ranker finds the passages that ground the answer.
type Ranker interface {
	Search(ctx context.Context, vector []float32, topK int, threshold float64) (retrieval.Result, error)
}

// Conversations keeps per-session history.
type Conversations interface {
	EnsureSession(ctx context.Context, userID, sessionID string) (models.Session, error)
	AppendMessage(ctx context.Context, sessionID, text string, sender models.Sender, originalDBIDs []int64, esDocumentIDs []string) (models.Message, error)
	RecentHistory(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
}

// Options carry the retrieval and history bounds.
type Options struct {
	TopK         int
	Threshold    float64
	HistoryLimit int
	QueryBudget  int
	OverlapRatio float64
	Logger       *slog.Logger
}

// Orchestrator answers one question per call. It holds no per-request state
// and is safe for concurrent use.
type Orchestrator struct {
	embedder Embedder
	ranker   Ranker
	convo    Conversations
	gen      generation.Generator
	opts     Options
	log      *slog.Logger
}

// New wires the collaborators.
func New(embedder Embedder, ranker Ranker, convo Conversations, gen generation.Generator, opts Options) *Orchestrator {
	return &Orchestrator{
		embedder: embedder,
		ranker:   ranker,
		convo:    convo,
		gen:      gen,
		opts:     opts,
		log:      logger.OrDiscard(opts.Logger),
	}
}

// Answer embeds the question, retrieves passages, loads the session history,
// generates an answer and stores both turns.
//
// Retrieval failures degrade to an ungrounded answer with nil id lists.
// Session and message persistence failures are logged and the answer is
// still returned. A generation failure stores nothing and is returned
// alongside a result whose Answer is nil.
func (o *Orchestrator) Answer(ctx context.Context, userID, sessionID, question string) (models.QueryResult, error) {
	res := models.QueryResult{UserID: userID, SessionID: sessionID, UserQuery: question}
	if strings.TrimSpace(question) == "" {
		res.Error = ErrEmptyQuery.Error()
		return res, ErrEmptyQuery
	}
	log := o.log.With(slog.String("user_id", userID), slog.String("session_id", sessionID))

	retrieved, grounded := o.retrieve(ctx, log, question)

	persist := true
	if _, err := o.convo.EnsureSession(ctx, userID, sessionID); err != nil {
		log.Warn("conversation will not be stored", slog.Any("err", err))
		persist = false
	}

	var history []models.Message
	if persist {
		h, err := o.convo.RecentHistory(ctx, sessionID, o.opts.HistoryLimit)
		if err != nil {
			log.Warn("load history failed", slog.Any("err", err))
		} else {
			history = h
		}
	}

	answer, err := o.gen.Generate(ctx, generation.BuildPrompt(question, retrieved.Text, history))
	if err != nil {
		if !errors.Is(err, generation.ErrGeneration) {
			err = fmt.Errorf("%w: %w", generation.ErrGeneration, err)
		}
		log.Error("generation failed", slog.Any("err", err))
		res.Error = err.Error()
		return res, err
	}
	res.Answer = &answer
	if grounded {
		res.OriginalDBIDs = retrieved.OriginalDBIDs
		res.ESDocumentIDs = retrieved.ESDocumentIDs
	}

	if persist {
		for _, turn := range []struct {
			text   string
			sender models.Sender
		}{
			{text: question, sender: models.SenderUser},
			{text: answer, sender: models.SenderBot},
		} {
			if _, err := o.convo.AppendMessage(ctx, sessionID, turn.text, turn.sender, res.OriginalDBIDs, res.ESDocumentIDs); err != nil {
				log.Warn("store message failed", slog.String("sender", string(turn.sender)), slog.Any("err", err))
			}
		}
	}

	log.Info("query answered",
		slog.Int("passages", len(retrieved.Hits)),
		slog.Bool("grounded", grounded),
		slog.Bool("stored", persist),
	)
	return res, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, log *slog.Logger, question string) (retrieval.Result, bool) {
	vec, err := o.embedder.EmbedQuery(ctx, question, o.opts.QueryBudget, o.opts.OverlapRatio)
	if err != nil {
		log.Warn("query embedding failed, answering without context", slog.Any("err", err))
		return retrieval.Result{}, false
	}
	res, err := o.ranker.Search(ctx, vec, o.opts.TopK, o.opts.Threshold)
	if err != nil {
		log.Warn("retrieval failed, answering without context", slog.Any("err", err))
		return retrieval.Result{}, false
	}
	return res, true
}
