package conversation_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/news-rag/internal/conversation"
	"github.com/DeafMist/news-rag/internal/models"
	"github.com/DeafMist/news-rag/internal/store"
)

func newManager(t *testing.T) (*conversation.Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return conversation.New(st, nil), st
}

func TestEnsureSessionConcurrent(t *testing.T) {
	ctx := context.Background()
	m, st := newManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.EnsureSession(ctx, "u1", "s1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sess, err := st.SessionByID(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "u1", sess.UserID)

	_, err = m.EnsureSession(ctx, "u2", "s1")
	require.ErrorIs(t, err, store.ErrSessionOwner)
}

func TestEnsureSessionValidatesIDs(t *testing.T) {
	m, _ := newManager(t)

	_, err := m.EnsureSession(context.Background(), "", "s")
	require.ErrorIs(t, err, conversation.ErrInvalid)
	_, err = m.EnsureSession(context.Background(), "u", " ")
	require.ErrorIs(t, err, conversation.ErrInvalid)
}

func TestAppendAndRecentHistory(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	_, err := m.EnsureSession(ctx, "u", "s")
	require.NoError(t, err)

	_, err = m.AppendMessage(ctx, "s", "what moved?", models.SenderUser, []int64{4}, []string{"4-0"})
	require.NoError(t, err)
	_, err = m.AppendMessage(ctx, "s", "chips moved", models.SenderBot, []int64{4}, []string{"4-0"})
	require.NoError(t, err)

	history, err := m.RecentHistory(ctx, "s", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, models.SenderBot, history[0].Sender)
	require.Equal(t, models.SenderUser, history[1].Sender)
	require.Equal(t, []int64{4}, history[0].OriginalDBIDs)

	none, err := m.RecentHistory(ctx, "s", 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestAppendMessageRejectsUnknownSender(t *testing.T) {
	m, _ := newManager(t)

	_, err := m.AppendMessage(context.Background(), "s", "hi", models.Sender("system"), nil, nil)
	require.ErrorIs(t, err, conversation.ErrInvalid)
}
