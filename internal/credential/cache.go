// Package credential provides the shared session-token cache used by every
// call to the generation service. Tokens expire after a fixed TTL and are
// refilled from an ordered list of sources by a single winning refresher.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrUnavailable is returned when no source yields a token.
var ErrUnavailable = errors.New("credential: no token available from any source")

// refreshTimeout bounds one round over all sources.
const refreshTimeout = 30 * time.Second

// Token is an opaque session token and the time it was obtained.
type Token struct {
	Value      string
	AcquiredAt time.Time
}

// Cache holds the current token. Reads are concurrent; refreshes are
// collapsed so that concurrent callers share one source round.
type Cache struct {
	mu    sync.RWMutex
	token Token

	ttl       time.Duration
	sources   []Source
	persister Persister
	now       func() time.Time
	logger    *slog.Logger

	group     singleflight.Group
	refreshes atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithPersister stores tokens obtained from a Remote source.
func WithPersister(p Persister) Option {
	return func(c *Cache) {
		c.persister = p
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// NewCache creates a Cache that tries sources in the given order.
func NewCache(ttl time.Duration, sources []Source, opts ...Option) *Cache {
	c := &Cache{
		ttl:     ttl,
		sources: sources,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached token while it is younger than the TTL and
// refreshes it otherwise. It returns ErrUnavailable if every source fails.
func (c *Cache) Get(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	// The refresh is shared, so it must not die with whichever caller
	// happened to start it. Each caller still stops waiting on its own ctx.
	ch := c.group.DoChan("refresh", func() (interface{}, error) {
		// A refresh that finished just before we joined already did the work.
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return c.refresh(rctx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token if it is still stale. Callers pass the
// token that was rejected, so a token already replaced by another
// goroutine's refresh is kept.
func (c *Cache) Invalidate(stale string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.Value == stale {
		c.token = Token{}
	}
}

// Refreshes returns how many source rounds have been performed.
func (c *Cache) Refreshes() int64 {
	return c.refreshes.Load()
}

// Snapshot returns the current token without refreshing.
func (c *Cache) Snapshot() Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Cache) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token.Value == "" {
		return "", false
	}
	if c.now().Sub(c.token.AcquiredAt) >= c.ttl {
		return "", false
	}
	return c.token.Value, true
}

func (c *Cache) refresh(ctx context.Context) (string, error) {
	c.refreshes.Add(1)

	var errs []error
	for _, src := range c.sources {
		tok, err := src.Fetch(ctx)
		if err != nil {
			c.logger.Debug("token source failed",
				slog.String("source", src.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}

		c.mu.Lock()
		c.token = Token{Value: tok, AcquiredAt: c.now()}
		c.mu.Unlock()

		c.logger.Info("token refreshed", slog.String("source", src.Name()))

		if _, remote := src.(*Remote); remote && c.persister != nil {
			if err := c.persister.Persist(ctx, tok); err != nil {
				c.logger.Warn("failed to persist token",
					slog.String("error", err.Error()),
				)
			}
		}
		return tok, nil
	}

	if len(errs) == 0 {
		return "", ErrUnavailable
	}
	return "", fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}
