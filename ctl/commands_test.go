package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/news-rag/internal/models"
	"github.com/DeafMist/news-rag/internal/store"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func seedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ctl.db")
	st, err := store.Open(path, nil)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	for i, url := range []string{"https://x/1", "https://x/2", "https://x/3"} {
		doc, err := st.UpsertNews(ctx, models.NewsDocument{URL: url, Content: "body"}, false)
		require.NoError(t, err)
		if i < 2 {
			ok, err := st.MarkIndexed(ctx, url, doc.Revision)
			require.NoError(t, err)
			require.True(t, ok)
		}
	}
	return path
}

func TestStatusAndResetIndexed(t *testing.T) {
	t.Setenv("DATABASE_PATH", seedStore(t))
	envFile := filepath.Join(t.TempDir(), "missing.env")

	out, err := run(t, "status", "--env-file", envFile)
	require.NoError(t, err)
	require.Equal(t, "articles=3 unindexed=1\n", out)

	out, err = run(t, "reset-indexed", "--env-file", envFile)
	require.NoError(t, err)
	require.Equal(t, "reset 2 articles\n", out)

	out, err = run(t, "status", "--env-file", envFile)
	require.NoError(t, err)
	require.Equal(t, "articles=3 unindexed=3\n", out)
}

func TestDeleteIndexRequiresConfirmation(t *testing.T) {
	_, err := run(t, "delete-index", "--env-file", filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "--yes")
}
