package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DeafMist/news-rag/internal/models"
)

// EnsureUser creates the user row unless it already exists.
func (s *Store) EnsureUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users(user_id, created_at) VALUES(?,?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("%w: ensure user %s: %w", ErrPersistence, userID, err)
	}
	return nil
}

// EnsureSession creates the user and the session unless they exist and
// returns the stored session. Both inserts are conditional so concurrent
// callers never produce duplicate rows.
func (s *Store) EnsureSession(ctx context.Context, userID, sessionID string) (models.Session, error) {
	if err := s.EnsureUser(ctx, userID); err != nil {
		return models.Session{}, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions(session_id, user_id, created_at) VALUES(?,?,?)
		ON CONFLICT(session_id) DO NOTHING
	`, sessionID, userID, formatTime(s.now()))
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: ensure session %s: %w", ErrPersistence, sessionID, err)
	}

	var (
		sess      = models.Session{ID: sessionID}
		createdAt string
	)
	err = s.db.QueryRowContext(ctx, `SELECT user_id, created_at FROM sessions WHERE session_id=?`, sessionID).
		Scan(&sess.UserID, &createdAt)
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: load session %s: %w", ErrPersistence, sessionID, err)
	}
	sess.CreatedAt = parseTime(createdAt)

	if sess.UserID != userID {
		return sess, fmt.Errorf("session %s: %w", sessionID, ErrSessionOwner)
	}
	return sess, nil
}

// AppendMessage stores an immutable message row. A zero CreatedAt is set to
// the current time.
func (s *Store) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	dbIDs, err := json.Marshal(nonNilInts(msg.OriginalDBIDs))
	if err != nil {
		return models.Message{}, fmt.Errorf("marshal original ids: %w", err)
	}
	esIDs, err := json.Marshal(nonNilStrings(msg.ESDocumentIDs))
	if err != nil {
		return models.Message{}, fmt.Errorf("marshal index ids: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages(session_id, text, sender, original_db_id, es_document_id, created_at)
		VALUES(?,?,?,?,?,?)
	`, msg.SessionID, msg.Text, string(msg.Sender), string(dbIDs), string(esIDs), formatTime(msg.CreatedAt))
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: append message to %s: %w", ErrPersistence, msg.SessionID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		msg.ID = id
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

// RecentMessages returns up to limit messages of the session, most recent first.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return []models.Message{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, text, sender, original_db_id, es_document_id, created_at
		FROM messages
		WHERE session_id=?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: recent messages %s: %w", ErrPersistence, sessionID, err)
	}
	defer rows.Close()

	out := make([]models.Message, 0, limit)
	for rows.Next() {
		var (
			msg              models.Message
			sender           string
			dbIDs, esIDs, ts string
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Text, &sender, &dbIDs, &esIDs, &ts); err != nil {
			return nil, fmt.Errorf("%w: scan message: %w", ErrPersistence, err)
		}
		msg.Sender = models.Sender(sender)
		msg.CreatedAt = parseTime(ts)
		if err := json.Unmarshal([]byte(dbIDs), &msg.OriginalDBIDs); err != nil {
			return nil, fmt.Errorf("decode original ids: %w", err)
		}
		if err := json.Unmarshal([]byte(esIDs), &msg.ESDocumentIDs); err != nil {
			return nil, fmt.Errorf("decode index ids: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: recent messages %s: %w", ErrPersistence, sessionID, err)
	}
	return out, nil
}

// SessionByID loads a session.
func (s *Store) SessionByID(ctx context.Context, sessionID string) (models.Session, error) {
	var (
		sess      = models.Session{ID: sessionID}
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT user_id, created_at FROM sessions WHERE session_id=?`, sessionID).
		Scan(&sess.UserID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: session %s: %w", ErrPersistence, sessionID, err)
	}
	sess.CreatedAt = parseTime(createdAt)
	return sess, nil
}

func nonNilInts(v []int64) []int64 {
	if v == nil {
		return []int64{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
