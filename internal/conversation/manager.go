package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DeafMist/news-rag/internal/logger"
	"github.com/DeafMist/news-rag/internal/models"
)

// ErrInvalid is returned for empty ids or an unknown sender.
var ErrInvalid = errors.New("invalid conversation input")

// Store persists users, sessions and messages.
type Store interface {
	EnsureSession(ctx context.Context, userID, sessionID string) (models.Session, error)
	AppendMessage(ctx context.Context, msg models.Message) (models.Message, error)
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
}

// Manager keeps session-scoped chat history.
type Manager struct {
	store Store
	log   *slog.Logger
}

// New builds a manager.
func New(store Store, log *slog.Logger) *Manager {
	return &Manager{store: store, log: logger.OrDiscard(log)}
}

// EnsureSession creates the user and the session if absent. Concurrent calls
// for the same ids converge on one row each.
func (m *Manager) EnsureSession(ctx context.Context, userID, sessionID string) (models.Session, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" {
		return models.Session{}, fmt.Errorf("%w: user and session ids are required", ErrInvalid)
	}
	sess, err := m.store.EnsureSession(ctx, userID, sessionID)
	if err != nil {
		m.log.Warn("ensure session failed",
			slog.String("user_id", userID),
			slog.String("session_id", sessionID),
			slog.Any("err", err),
		)
		return sess, err
	}
	return sess, nil
}

// AppendMessage records one turn linked to the documents it was grounded on.
func (m *Manager) AppendMessage(ctx context.Context, sessionID, text string, sender models.Sender, originalDBIDs []int64, esDocumentIDs []string) (models.Message, error) {
	if sessionID == "" {
		return models.Message{}, fmt.Errorf("%w: session id is required", ErrInvalid)
	}
	if sender != models.SenderUser && sender != models.SenderBot {
		return models.Message{}, fmt.Errorf("%w: unknown sender %q", ErrInvalid, sender)
	}
	return m.store.AppendMessage(ctx, models.Message{
		SessionID:     sessionID,
		Text:          text,
		Sender:        sender,
		OriginalDBIDs: originalDBIDs,
		ESDocumentIDs: esDocumentIDs,
	})
}

// RecentHistory returns up to limit messages, most recent first.
func (m *Manager) RecentHistory(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return []models.Message{}, nil
	}
	return m.store.RecentMessages(ctx, sessionID, limit)
}
