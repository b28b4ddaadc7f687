package momo

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const fallbackTokenTTL = 5 * time.Minute

// Token is the provider token endpoint response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// TokenCache keeps one bearer token per key and refreshes it before the
// provider-declared expiry. Concurrent refreshes for a key share one fetch.
type TokenCache struct {
	mu     sync.RWMutex
	tokens map[string]cachedToken
	group  singleflight.Group
	margin time.Duration
	now    func() time.Time
}

func NewTokenCache(margin time.Duration) *TokenCache {
	return &TokenCache{
		tokens: make(map[string]cachedToken),
		margin: margin,
		now:    time.Now,
	}
}

// Get returns the cached token for key or calls fetch to obtain a new one.
func (c *TokenCache) Get(ctx context.Context, key string, fetch func(context.Context) (*Token, error)) (string, error) {
	if token, ok := c.lookup(key); ok {
		return token, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if token, ok := c.lookup(key); ok {
			return token, nil
		}
		t, err := fetch(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.tokens[key] = cachedToken{value: t.AccessToken, expiresAt: c.expiry(t)}
		c.mu.Unlock()
		return t.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *TokenCache) lookup(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tokens[key]
	if !ok || !c.now().Before(t.expiresAt) {
		return "", false
	}
	return t.value, true
}

// Invalidate drops the token for key, forcing the next Get to fetch.
func (c *TokenCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.tokens, key)
	c.mu.Unlock()
}

// expiry is the declared lifetime minus the margin. Lifetimes shorter than the
// margin keep 90% of their value. Without expires_in the JWT exp claim is used.
func (c *TokenCache) expiry(t *Token) time.Time {
	now := c.now()
	lifetime := time.Duration(t.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = jwtLifetime(t.AccessToken, now)
	}
	if lifetime <= 0 {
		lifetime = fallbackTokenTTL
	}
	if lifetime > c.margin {
		return now.Add(lifetime - c.margin)
	}
	return now.Add(lifetime * 9 / 10)
}

func jwtLifetime(raw string, now time.Time) time.Duration {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return 0
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	return exp.Time.Sub(now)
}
