// Package tokenstore caches short-lived credentials such as GitHub App
// installation tokens.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
)

// Token is a cached credential.
type Token struct {
	Key       string
	Value     string
	ExpiresAt time.Time
}

// IsExpired checks if the token has expired.
func (t *Token) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// ExpiresWithin reports whether the token expires in less than d.
func (t *Token) ExpiresWithin(d time.Duration) bool {
	return time.Now().Add(d).After(t.ExpiresAt)
}

// Store defines the token storage interface.
type Store interface {
	// Set stores a token with the given key and TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get retrieves a token by key. Returns ErrTokenNotFound or ErrTokenExpired.
	Get(ctx context.Context, key string) (*Token, error)
	// Delete removes a token by key.
	Delete(ctx context.Context, key string) error
}

// FetchFunc mints a new token value and reports how long it stays valid.
type FetchFunc func(ctx context.Context) (value string, ttl time.Duration, err error)

// GetOrFetch returns the cached value for key, minting and storing a new one
// with fetch when the key is missing, expired, or expires within skew.
func GetOrFetch(ctx context.Context, s Store, key string, skew time.Duration, fetch FetchFunc) (string, error) {
	tok, err := s.Get(ctx, key)
	if err == nil && !tok.ExpiresWithin(skew) {
		return tok.Value, nil
	}
	if err != nil && !errors.Is(err, ErrTokenNotFound) && !errors.Is(err, ErrTokenExpired) {
		return "", fmt.Errorf("reading cached token %q: %w", key, err)
	}

	value, ttl, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	if err := s.Set(ctx, key, value, ttl); err != nil {
		return "", fmt.Errorf("caching token %q: %w", key, err)
	}
	return value, nil
}
