// Package auth provides the credential capability the fetch engine
// consumes: a source it can read the current token from and ask to
// invalidate after a credential-shaped failure. The engine never stores
// or refreshes tokens itself.
package auth

import (
	"context"
	"errors"
	"sync"
)

// ErrNoToken is returned when a source has no credential to offer.
var ErrNoToken = errors.New("auth: no token available")

// TokenSource supplies the bearer credential for completion requests.
// Implementations must be safe for concurrent use: multiple top-level
// fetches share one source.
type TokenSource interface {
	// Token returns the current credential.
	Token(ctx context.Context) (string, error)

	// Invalidate discards the cached credential after the provider
	// rejected it with the given HTTP status (401, 403 or 402), so the
	// next Token call fetches a fresh one.
	Invalidate(reasonStatus int)
}

// Anonymous is the TokenSource for endpoints that accept
// unauthenticated requests. Token always succeeds with an empty
// credential, which the transport sends without an Authorization header.
type Anonymous struct{}

// Token implements TokenSource.
func (Anonymous) Token(context.Context) (string, error) { return "", nil }

// Invalidate implements TokenSource.
func (Anonymous) Invalidate(int) {}

// Static is a TokenSource with a fixed credential. Invalidate is a no-op.
type Static string

// Token implements TokenSource.
func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// Invalidate implements TokenSource.
func (Static) Invalidate(int) {}

// FetchFunc obtains a fresh credential from the authentication collaborator.
type FetchFunc func(ctx context.Context) (string, error)

// Cached is a TokenSource that caches a fetched credential until it is
// invalidated.
type Cached struct {
	fetch FetchFunc

	mu    sync.Mutex
	token string
	valid bool

	// LastInvalidateStatus records the status passed to the most recent
	// Invalidate call. Zero until invalidated.
	lastStatus int
}

// NewCached creates a caching TokenSource around fetch.
func NewCached(fetch FetchFunc) *Cached {
	return &Cached{fetch: fetch}
}

// Token implements TokenSource. It returns the cached credential, or
// fetches a fresh one when the cache is empty or invalidated.
func (c *Cached) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid {
		return c.token, nil
	}

	token, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.valid = true
	return token, nil
}

// Invalidate implements TokenSource.
func (c *Cached) Invalidate(reasonStatus int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
	c.token = ""
	c.lastStatus = reasonStatus
}

// LastInvalidateStatus returns the status of the most recent
// invalidation, or zero. Exposed for tests.
func (c *Cached) LastInvalidateStatus() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatus
}

// Interface guards.
var (
	_ TokenSource = Anonymous{}
	_ TokenSource = Static("")
	_ TokenSource = (*Cached)(nil)
)
