package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DeafMist/news-rag/internal/retry"
	"github.com/stretchr/testify/require"
)

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Policy{Attempts: 2, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return errors.New("still down")
	})
	require.EqualError(t, err, "still down")
	require.Equal(t, 2, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0
	err := retry.Do(context.Background(), retry.Policy{Attempts: 5, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return retry.Permanent(sentinel)
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, calls)
}

func TestDoStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retry.Do(ctx, retry.Policy{Attempts: 10, BaseDelay: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errors.New("timeout")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	require.NoError(t, retry.Do(context.Background(), retry.Policy{}, func(context.Context) error {
		calls++
		return nil
	}))
	require.Equal(t, 1, calls)
	require.Nil(t, retry.Permanent(nil))
}
