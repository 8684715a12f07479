package store

import (
	"context"
	"time"
)

// CountRows reports how many users and sessions exist for the given ids.
func (s *Store) CountRows(ctx context.Context, userID, sessionID string) (users, sessions int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE user_id=?`, userID).Scan(&users); err != nil {
		return 0, 0, err
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE session_id=?`, sessionID).Scan(&sessions); err != nil {
		return 0, 0, err
	}
	return users, sessions, nil
}

// SetClock replaces the time source so message ordering is deterministic.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}
