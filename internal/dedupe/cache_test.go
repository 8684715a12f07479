package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func newTestCache(capacity int, ttl time.Duration) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewCache(capacity, ttl)
	c.now = clock.now
	return c, clock
}

func TestCacheUnchangedContent(t *testing.T) {
	cache, _ := newTestCache(10, time.Minute)
	require.False(t, cache.Unchanged("https://x/1", "h1"))
	cache.Remember("https://x/1", "h1")
	require.True(t, cache.Unchanged("https://x/1", "h1"))
	require.False(t, cache.Unchanged("https://x/1", "h2"))
}

func TestCacheTTLExpiry(t *testing.T) {
	cache, clock := newTestCache(10, 20*time.Second)
	cache.Remember("https://x/1", "h1")
	clock.t = clock.t.Add(25 * time.Second)
	require.False(t, cache.Unchanged("https://x/1", "h1"))
}

func TestCacheCapacityEvictsOldest(t *testing.T) {
	cache, clock := newTestCache(1, time.Minute)
	cache.Remember("https://x/first", "h")
	clock.t = clock.t.Add(time.Second)
	cache.Remember("https://x/second", "h")

	require.False(t, cache.Unchanged("https://x/first", "h"))
	require.True(t, cache.Unchanged("https://x/second", "h"))
	require.Equal(t, 1, cache.Len())
}

func TestCacheRememberNewVersionSurvivesCompaction(t *testing.T) {
	cache, clock := newTestCache(2, time.Minute)
	cache.Remember("https://x/1", "old")
	clock.t = clock.t.Add(time.Second)
	cache.Remember("https://x/1", "new")
	clock.t = clock.t.Add(time.Second)
	cache.Remember("https://x/2", "h")

	require.True(t, cache.Unchanged("https://x/1", "new"))
	require.True(t, cache.Unchanged("https://x/2", "h"))
}

func TestCacheForget(t *testing.T) {
	cache, _ := newTestCache(10, time.Minute)
	cache.Remember("https://x/1", "h1")
	cache.Forget("https://x/1")
	require.False(t, cache.Unchanged("https://x/1", "h1"))
	require.Zero(t, cache.Len())
}
