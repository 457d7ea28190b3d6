// Package submit wraps the generation service's submit primitive with bounded
// retries, exponential backoff and credential refresh on auth failures.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/segment-stitcher/internal/generator"
	"github.com/maauso/segment-stitcher/internal/retry"
)

var (
	// ErrRetriesExhausted is returned when every allowed attempt failed transiently.
	ErrRetriesExhausted = errors.New("submit: retries exhausted")
	// ErrEmptyPrompt is returned when the prompt is blank.
	ErrEmptyPrompt = errors.New("submit: prompt is required")
)

// Kind distinguishes submission errors that may still succeed later from
// those that will not.
type Kind int

const (
	// KindFatal errors must not be retried by the caller.
	KindFatal Kind = iota
	// KindTransient errors stopped before the budget was used, for example
	// because the context was cancelled during a backoff.
	KindTransient
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	if k == KindTransient {
		return "transient"
	}
	return "fatal"
}

// Error is returned by Client.Submit.
type Error struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("submit: %s after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is a fatal submission error.
func IsFatal(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindFatal
}

// TokenSource is the part of the credential cache the client needs.
type TokenSource interface {
	Get(ctx context.Context) (string, error)
	Invalidate(stale string)
}

// Config holds the retry budget of a Client.
type Config struct {
	// Policy bounds the number of attempts and shapes the backoff.
	Policy retry.Policy
	// AttemptTimeout bounds a single call to the generation service.
	AttemptTimeout time.Duration
}

// Client submits prompts to a Generator.
type Client struct {
	gen    generator.Generator
	tokens TokenSource
	cfg    Config
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSleep replaces the backoff sleep. Tests use it to avoid real waits.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// NewClient creates a submission client.
func NewClient(gen generator.Generator, tokens TokenSource, cfg Config, opts ...Option) *Client {
	if cfg.Policy.MaxAttempts < 1 {
		cfg.Policy.MaxAttempts = 1
	}
	c := &Client{
		gen:    gen,
		tokens: tokens,
		cfg:    cfg,
		logger: slog.Default(),
		sleep:  retry.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit starts a generation for prompt and returns its operation ID.
// Transient and auth failures are retried up to Policy.MaxAttempts attempts
// in total; an auth failure drops the cached token before the next attempt.
// Any other failure is returned immediately as a fatal *Error.
func (c *Client) Submit(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", &Error{Kind: KindFatal, Err: ErrEmptyPrompt}
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Policy.MaxAttempts; attempt++ {
		token, err := c.tokens.Get(ctx)
		if err != nil {
			return "", &Error{Kind: KindFatal, Attempts: attempt, Err: fmt.Errorf("get token: %w", err)}
		}

		opID, err := c.attempt(ctx, prompt, token)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("submission succeeded after retry",
					slog.Int("attempt", attempt),
					slog.String("operation_id", opID),
				)
			}
			return opID, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", &Error{Kind: KindTransient, Attempts: attempt, Err: fmt.Errorf("%w (last error: %v)", ctx.Err(), err)}
		}

		kind := generator.KindOf(err)
		switch kind {
		case generator.KindFatal:
			return "", &Error{Kind: KindFatal, Attempts: attempt, Err: err}
		case generator.KindAuth:
			c.tokens.Invalidate(token)
		}

		if attempt == c.cfg.Policy.MaxAttempts {
			break
		}

		delay := c.cfg.Policy.Delay(attempt, generator.RetryAfterOf(err))
		c.logger.Warn("submission failed, retrying",
			slog.Int("attempt", attempt),
			slog.String("kind", kind.String()),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return "", &Error{Kind: KindTransient, Attempts: attempt, Err: err}
		}
	}

	return "", &Error{
		Kind:     KindFatal,
		Attempts: c.cfg.Policy.MaxAttempts,
		Err:      fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr),
	}
}

func (c *Client) attempt(ctx context.Context, prompt, token string) (string, error) {
	if c.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()
	}
	return c.gen.Submit(ctx, prompt, token)
}
