package momo

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time         { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newCacheWithClock(margin time.Duration) (*TokenCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	cache := NewTokenCache(margin)
	cache.now = clock.now
	return cache, clock
}

func TestTokenCache_RefreshesBeforeExpiry(t *testing.T) {
	cache, clock := newCacheWithClock(60 * time.Second)
	var fetches atomic.Int32
	fetch := func(context.Context) (*Token, error) {
		n := fetches.Add(1)
		return &Token{AccessToken: "token-" + string(rune('0'+n)), ExpiresIn: 3600}, nil
	}

	first, err := cache.Get(context.Background(), "MTN:collection", fetch)
	require.NoError(t, err)
	assert.Equal(t, "token-1", first)

	clock.advance(3500 * time.Second)
	again, err := cache.Get(context.Background(), "MTN:collection", fetch)
	require.NoError(t, err)
	assert.Equal(t, "token-1", again)

	clock.advance(50 * time.Second)
	refreshed, err := cache.Get(context.Background(), "MTN:collection", fetch)
	require.NoError(t, err)
	assert.Equal(t, "token-2", refreshed)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestTokenCache_ShortLifetime(t *testing.T) {
	cache, clock := newCacheWithClock(60 * time.Second)
	var fetches atomic.Int32
	fetch := func(context.Context) (*Token, error) {
		fetches.Add(1)
		return &Token{AccessToken: "short", ExpiresIn: 30}, nil
	}

	_, err := cache.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	clock.advance(26 * time.Second)
	_, err = cache.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetches.Load())

	clock.advance(2 * time.Second)
	_, err = cache.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestTokenCache_UsesJWTExpiry(t *testing.T) {
	cache, clock := newCacheWithClock(60 * time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": clock.t.Add(10 * time.Minute).Unix(),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)

	var fetches atomic.Int32
	fetch := func(context.Context) (*Token, error) {
		fetches.Add(1)
		return &Token{AccessToken: signed}, nil
	}

	_, err = cache.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	clock.advance(8 * time.Minute)
	_, err = cache.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetches.Load())

	clock.advance(90 * time.Second)
	_, err = cache.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestTokenCache_ErrorsAreNotCached(t *testing.T) {
	cache, _ := newCacheWithClock(time.Minute)
	boom := stderrors.New("unauthorized")
	calls := 0
	fetch := func(context.Context) (*Token, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return &Token{AccessToken: "ok", ExpiresIn: 3600}, nil
	}

	_, err := cache.Get(context.Background(), "k", fetch)
	assert.ErrorIs(t, err, boom)

	token, err := cache.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, "ok", token)
}

func TestTokenCache_Invalidate(t *testing.T) {
	cache, _ := newCacheWithClock(time.Minute)
	var fetches atomic.Int32
	fetch := func(context.Context) (*Token, error) {
		fetches.Add(1)
		return &Token{AccessToken: "t", ExpiresIn: 3600}, nil
	}

	_, _ = cache.Get(context.Background(), "k", fetch)
	cache.Invalidate("k")
	_, _ = cache.Get(context.Background(), "k", fetch)

	assert.Equal(t, int32(2), fetches.Load())
}

func TestTokenCache_ConcurrentReaders(t *testing.T) {
	cache := NewTokenCache(time.Minute)
	var fetches atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (*Token, error) {
		fetches.Add(1)
		<-release
		return &Token{AccessToken: "shared", ExpiresIn: 3600}, nil
	}

	var wg sync.WaitGroup
	results := make([]string, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := cache.Get(context.Background(), "k", fetch)
			assert.NoError(t, err)
			results[i] = token
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
	assert.LessOrEqual(t, fetches.Load(), int32(3))
}
