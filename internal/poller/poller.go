// Package poller drives one segment from submission to a terminal state by
// polling its remote operation. Every outcome, including timeouts and policy
// rejections, is returned as a Result; the poller never fails its caller.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/segment-stitcher/internal/generator"
	"github.com/maauso/segment-stitcher/internal/job"
	"github.com/maauso/segment-stitcher/internal/retry"
)

var (
	// ErrPollTimeout is reported when the poll budget ran out while pending.
	ErrPollTimeout = errors.New("poller: operation still pending after max attempts")
	// ErrSkippedByPolicy is reported when the service rejected the prompt by
	// content policy. It is not a failure and is never retried.
	ErrSkippedByPolicy = errors.New("poller: skipped by content policy")
	// ErrOperationFailed is reported when the operation failed and no
	// resubmission budget remains.
	ErrOperationFailed = errors.New("poller: operation failed")
	// ErrNotPending is reported when Run is called on a segment that was not submitted.
	ErrNotPending = errors.New("poller: segment is not pending")
)

// Submitter obtains a fresh operation for a prompt.
type Submitter interface {
	Submit(ctx context.Context, prompt string) (string, error)
}

// TokenSource is the part of the credential cache the poller needs.
type TokenSource interface {
	Get(ctx context.Context) (string, error)
	Invalidate(stale string)
}

// Config holds the polling schedule.
type Config struct {
	// InitialDelay is waited before the first tick of every operation.
	InitialDelay time.Duration
	// Interval is waited between ticks.
	Interval time.Duration
	// MaxAttempts is the number of ticks per operation before TIMED_OUT.
	MaxAttempts int
	// MaxResubmissions bounds how many fresh operations a segment may get.
	MaxResubmissions int
}

// DefaultConfig returns the default polling schedule.
func DefaultConfig() Config {
	return Config{
		InitialDelay:     45 * time.Second,
		Interval:         6 * time.Second,
		MaxAttempts:      60,
		MaxResubmissions: 2,
	}
}

// Result is the typed outcome of polling one segment.
type Result struct {
	Index       int
	OperationID string
	Status      job.SegmentStatus
	ArtifactURL string
	LocalPath   string
	Err         error
}

// Poller polls operations of a Generator.
type Poller struct {
	gen       generator.Generator
	submitter Submitter
	tokens    TokenSource
	cfg       Config
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

// WithSleep replaces the wait between ticks.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) {
		p.sleep = sleep
	}
}

// NewPoller creates a Poller. submitter is used for resubmissions.
func NewPoller(gen generator.Generator, submitter Submitter, tokens TokenSource, cfg Config, opts ...Option) *Poller {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	p := &Poller{
		gen:       gen,
		submitter: submitter,
		tokens:    tokens,
		cfg:       cfg,
		logger:    slog.Default(),
		sleep:     retry.Sleep,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls seg until it reaches a terminal state. seg must be PENDING.
// pending, if not nil, follows the active operation and loses the segment as
// soon as it resolves.
func (p *Poller) Run(ctx context.Context, seg *job.Segment, pending *job.PendingTable) Result {
	if seg.GetStatus() != job.SegmentPending {
		return p.result(seg, fmt.Errorf("%w: %s", ErrNotPending, seg.GetStatus()))
	}
	if pending != nil {
		defer pending.Drop(seg.Index)
	}

	logger := p.logger.With(slog.Int("segment_index", seg.Index))

	if err := p.sleep(ctx, p.cfg.InitialDelay); err != nil {
		return p.cancelled(seg, err)
	}

	for seg.GetPollAttempts() < p.cfg.MaxAttempts {
		attempt := seg.RecordPollAttempt()
		opID := seg.GetOperationID()

		res, err := p.poll(ctx, opID)
		if err != nil {
			if ctx.Err() != nil {
				return p.cancelled(seg, ctx.Err())
			}
			if generator.KindOf(err) == generator.KindFatal {
				logger.Error("poll failed permanently",
					slog.String("operation_id", opID),
					slog.String("error", err.Error()),
				)
				_ = seg.Fail(err.Error())
				return p.result(seg, fmt.Errorf("%w: %w", ErrOperationFailed, err))
			}
			logger.Warn("poll error, will retry",
				slog.String("operation_id", opID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			res = generator.Pending()
		}

		logger.Debug("poll tick",
			slog.String("operation_id", opID),
			slog.Int("attempt", attempt),
			slog.String("status", string(res.Status)),
		)

		switch res.Status {
		case generator.StatusCompleted:
			_ = seg.Complete(res.ArtifactURL)
			logger.Info("segment completed", slog.String("operation_id", opID))
			return p.result(seg, nil)

		case generator.StatusSkipped:
			_ = seg.Skip(reason(res))
			logger.Warn("segment skipped by content policy",
				slog.String("operation_id", opID),
				slog.String("code", res.ErrorCode),
			)
			return p.result(seg, fmt.Errorf("%w: %s", ErrSkippedByPolicy, reason(res)))

		case generator.StatusFailed:
			if seg.Clone().Resubmissions >= p.cfg.MaxResubmissions {
				_ = seg.Fail(reason(res))
				logger.Warn("segment failed, resubmission budget exhausted",
					slog.String("operation_id", opID),
					slog.String("error", reason(res)),
				)
				return p.result(seg, fmt.Errorf("%w: %s", ErrOperationFailed, reason(res)))
			}
			if err := p.resubmit(ctx, seg, pending, res); err != nil {
				if ctx.Err() != nil {
					return p.cancelled(seg, ctx.Err())
				}
				_ = seg.Fail(err.Error())
				return p.result(seg, fmt.Errorf("%w: resubmission: %w", ErrOperationFailed, err))
			}
			logger.Warn("segment resubmitted",
				slog.String("previous_operation_id", opID),
				slog.String("operation_id", seg.GetOperationID()),
			)
			if err := p.sleep(ctx, p.cfg.InitialDelay); err != nil {
				return p.cancelled(seg, err)
			}
			continue
		}

		if seg.GetPollAttempts() >= p.cfg.MaxAttempts {
			break
		}
		if err := p.sleep(ctx, p.cfg.Interval); err != nil {
			return p.cancelled(seg, err)
		}
	}

	_ = seg.TimeOut(ErrPollTimeout.Error())
	logger.Warn("segment timed out",
		slog.String("operation_id", seg.GetOperationID()),
		slog.Int("max_attempts", p.cfg.MaxAttempts),
	)
	return p.result(seg, ErrPollTimeout)
}

func (p *Poller) poll(ctx context.Context, opID string) (generator.PollResult, error) {
	token, err := p.tokens.Get(ctx)
	if err != nil {
		return generator.PollResult{}, &generator.CallError{Op: "poll", Kind: generator.KindTransient, Err: err}
	}
	res, err := p.gen.Poll(ctx, opID, token)
	if err != nil && generator.KindOf(err) == generator.KindAuth {
		p.tokens.Invalidate(token)
	}
	return res, err
}

func (p *Poller) resubmit(ctx context.Context, seg *job.Segment, pending *job.PendingTable, res generator.PollResult) error {
	opID, err := p.submitter.Submit(ctx, seg.Prompt)
	if err != nil {
		return err
	}
	if err := seg.Resubmit(opID, p.now()); err != nil {
		return err
	}
	if pending != nil {
		pending.Track(seg.Index, opID)
	}
	seg.SetError(reason(res))
	return nil
}

func (p *Poller) cancelled(seg *job.Segment, err error) Result {
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", context.Canceled, err)
	}
	_ = seg.Fail(err.Error())
	return p.result(seg, err)
}

func (p *Poller) result(seg *job.Segment, err error) Result {
	c := seg.Clone()
	return Result{
		Index:       c.Index,
		OperationID: c.OperationID,
		Status:      c.Status,
		ArtifactURL: c.ArtifactURL,
		LocalPath:   c.LocalPath,
		Err:         err,
	}
}

func reason(res generator.PollResult) string {
	switch {
	case res.Error != "" && res.ErrorCode != "":
		return res.ErrorCode + ": " + res.Error
	case res.Error != "":
		return res.Error
	case res.ErrorCode != "":
		return res.ErrorCode
	default:
		return "operation failed"
	}
}
