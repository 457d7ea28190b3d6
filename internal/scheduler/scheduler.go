// Package scheduler fans a batch of segments out to the generation service.
// Segments are submitted in index order, in windows bounded by a concurrency
// cap, with a staggered start inside each window. Results are delivered in
// completion order.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/maauso/segment-stitcher/internal/job"
	"github.com/maauso/segment-stitcher/internal/poller"
	"github.com/maauso/segment-stitcher/internal/retry"
)

// Submitter obtains an operation for a prompt.
type Submitter interface {
	Submit(ctx context.Context, prompt string) (string, error)
}

// Runner polls a submitted segment to a terminal state.
type Runner interface {
	Run(ctx context.Context, seg *job.Segment, pending *job.PendingTable) poller.Result
}

// Fetcher downloads a completed artifact for a segment.
type Fetcher interface {
	Fetch(ctx context.Context, url string, seg *job.Segment) (string, error)
}

// Config holds the scheduling discipline.
type Config struct {
	// ConcurrencyCap is the window size.
	ConcurrencyCap int
	// StaggerDelay is multiplied by the slot index inside a window.
	StaggerDelay time.Duration
	// Optimized starts a window's pollers as soon as its submissions return.
	// Otherwise polling starts once every window has been submitted.
	Optimized bool
}

// Scheduler runs batches.
type Scheduler struct {
	cfg       Config
	submitter Submitter
	runner    Runner
	fetcher   Fetcher
	pool      *ants.Pool
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithFetcher downloads every completed artifact before its result is delivered.
func WithFetcher(f Fetcher) Option {
	return func(s *Scheduler) {
		s.fetcher = f
	}
}

// WithSleep replaces the stagger wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) {
		s.sleep = sleep
	}
}

// NewScheduler creates a Scheduler. Pollers run on pool.
func NewScheduler(cfg Config, submitter Submitter, runner Runner, pool *ants.Pool, opts ...Option) *Scheduler {
	if cfg.ConcurrencyCap < 1 {
		cfg.ConcurrencyCap = 1
	}
	s := &Scheduler{
		cfg:       cfg,
		submitter: submitter,
		runner:    runner,
		pool:      pool,
		logger:    slog.Default(),
		sleep:     retry.Sleep,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run processes every segment and returns one Result per segment in
// completion order. onResult, if not nil, is called for each result as it
// arrives; calls are serialized. Run never aborts because of a single
// segment; after ctx is cancelled every unresolved segment resolves FAILED.
func (s *Scheduler) Run(ctx context.Context, segments []*job.Segment, pending *job.PendingTable, onResult func(poller.Result)) []poller.Result {
	ordered := make([]*job.Segment, len(segments))
	copy(ordered, segments)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	c := &collector{onResult: onResult, results: make([]poller.Result, 0, len(ordered))}
	var wg sync.WaitGroup
	held := make([]*job.Segment, 0, len(ordered))

	// The next window starts once the current window's submissions return.
	for start := 0; start < len(ordered); start += s.cfg.ConcurrencyCap {
		end := min(start+s.cfg.ConcurrencyCap, len(ordered))
		submitted := s.submitWindow(ctx, ordered[start:end], pending, c)

		if !s.cfg.Optimized {
			held = append(held, submitted...)
			continue
		}
		for _, seg := range submitted {
			s.dispatch(ctx, seg, pending, c, &wg)
		}
	}

	for _, seg := range held {
		s.dispatch(ctx, seg, pending, c, &wg)
	}
	wg.Wait()
	return c.results
}

// submitWindow submits a window concurrently, slot i starting after
// i*StaggerDelay, and returns the segments that reached PENDING.
func (s *Scheduler) submitWindow(ctx context.Context, window []*job.Segment, pending *job.PendingTable, c *collector) []*job.Segment {
	ok := make([]bool, len(window))

	// Failures are recorded per segment; siblings keep going.
	var g errgroup.Group
	for slot, seg := range window {
		g.Go(func() error {
			ok[slot] = s.submitOne(ctx, slot, seg, pending, c)
			return nil
		})
	}
	_ = g.Wait()

	submitted := make([]*job.Segment, 0, len(window))
	for i, seg := range window {
		if ok[i] {
			submitted = append(submitted, seg)
		}
	}
	return submitted
}

func (s *Scheduler) submitOne(ctx context.Context, slot int, seg *job.Segment, pending *job.PendingTable, c *collector) bool {
	logger := s.logger.With(slog.Int("segment_index", seg.Index))

	if err := s.sleep(ctx, time.Duration(slot)*s.cfg.StaggerDelay); err != nil {
		_ = seg.Fail(err.Error())
		c.deliver(resultOf(seg, err))
		return false
	}

	if err := seg.BeginSubmit(); err != nil {
		c.deliver(resultOf(seg, err))
		return false
	}

	opID, err := s.submitter.Submit(ctx, seg.Prompt)
	if err != nil {
		logger.Warn("segment submission failed", slog.String("error", err.Error()))
		_ = seg.Fail(err.Error())
		c.deliver(resultOf(seg, err))
		return false
	}

	if err := seg.MarkSubmitted(opID, s.now()); err != nil {
		c.deliver(resultOf(seg, err))
		return false
	}
	if pending != nil {
		pending.Track(seg.Index, opID)
	}
	logger.Info("segment submitted", slog.String("operation_id", opID))
	return true
}

// dispatch runs the poller and fetcher for one submitted segment on the pool.
func (s *Scheduler) dispatch(ctx context.Context, seg *job.Segment, pending *job.PendingTable, c *collector, wg *sync.WaitGroup) {
	wg.Add(1)
	task := func() {
		defer wg.Done()
		delivered := false
		defer func() {
			if r := recover(); r != nil {
				if !delivered {
					if !seg.GetStatus().IsTerminal() {
						_ = seg.Fail(fmt.Sprintf("panic: %v", r))
					}
					if pending != nil {
						pending.Drop(seg.Index)
					}
					c.deliver(resultOf(seg, fmt.Errorf("segment %d: panic: %v", seg.Index, r)))
				}
				// Let the pool's panic handler report it.
				panic(r)
			}
		}()

		res := s.runner.Run(ctx, seg, pending)
		if res.Status == job.SegmentCompleted && s.fetcher != nil {
			path, err := s.fetcher.Fetch(ctx, res.ArtifactURL, seg)
			if err != nil {
				s.logger.Warn("artifact download failed",
					slog.Int("segment_index", seg.Index),
					slog.String("error", err.Error()),
				)
				res.Err = err
			}
			res.LocalPath = path
		}
		delivered = true
		c.deliver(res)
	}

	if err := s.pool.Submit(task); err != nil {
		wg.Done()
		s.logger.Error("failed to schedule poller",
			slog.Int("segment_index", seg.Index),
			slog.String("error", err.Error()),
		)
		_ = seg.Fail(err.Error())
		if pending != nil {
			pending.Drop(seg.Index)
		}
		c.deliver(resultOf(seg, err))
	}
}

type collector struct {
	mu       sync.Mutex
	results  []poller.Result
	onResult func(poller.Result)
}

func (c *collector) deliver(res poller.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, res)
	if c.onResult != nil {
		c.onResult(res)
	}
}

func resultOf(seg *job.Segment, err error) poller.Result {
	c := seg.Clone()
	return poller.Result{
		Index:       c.Index,
		OperationID: c.OperationID,
		Status:      c.Status,
		ArtifactURL: c.ArtifactURL,
		LocalPath:   c.LocalPath,
		Err:         err,
	}
}
