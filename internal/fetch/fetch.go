// Package fetch downloads completed artifacts to local storage under
// deterministic names.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/maauso/segment-stitcher/internal/generator"
	"github.com/maauso/segment-stitcher/internal/job"
	"github.com/maauso/segment-stitcher/internal/retry"
)

var (
	// ErrEmptyURL is returned when the artifact URL is blank.
	ErrEmptyURL = errors.New("fetch: artifact URL is required")
	// ErrEmptyBody is returned when the server answered 2xx with no content.
	ErrEmptyBody = errors.New("fetch: empty artifact body")
)

// DownloadError reports a segment whose artifact could not be stored.
// It is a segment-level failure; sibling segments are unaffected.
type DownloadError struct {
	Index int
	URL   string
	Err   error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("fetch: segment %d: download %s: %v", e.Index, e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Saver stores a stream under an exact name and returns its path.
type Saver interface {
	SaveAs(ctx context.Context, name string, data io.Reader) (string, error)
}

// Fetcher downloads artifacts over HTTP.
type Fetcher struct {
	saver      Saver
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets the HTTP client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithSleep replaces the backoff sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) {
		f.sleep = sleep
	}
}

// NewFetcher creates a Fetcher that stores artifacts through saver and
// retries transient failures according to policy.
func NewFetcher(saver Saver, policy retry.Policy, opts ...Option) *Fetcher {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	f := &Fetcher{
		saver: saver,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		policy: policy,
		logger: slog.Default(),
		sleep:  retry.Sleep,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FileName returns the deterministic local name of a segment artifact:
// segment_<index>_<submitted unix ms>.mp4. The timestamp distinguishes
// artifacts of resubmitted operations.
func FileName(seg *job.Segment) string {
	c := seg.Clone()
	return fmt.Sprintf("segment_%03d_%d.mp4", c.Index, c.SubmittedAt.UnixMilli())
}

// Fetch downloads url and records the local path on seg. On failure the
// segment keeps its status, the error is recorded on it and a
// *DownloadError is returned.
func (f *Fetcher) Fetch(ctx context.Context, url string, seg *job.Segment) (string, error) {
	path, err := f.download(ctx, url, FileName(seg))
	if err != nil {
		dErr := &DownloadError{Index: seg.Index, URL: url, Err: err}
		seg.SetError(dErr.Error())
		return "", dErr
	}
	seg.SetLocalPath(path)
	return path, nil
}

func (f *Fetcher) download(ctx context.Context, url, name string) (string, error) {
	if url == "" {
		return "", ErrEmptyURL
	}

	var lastErr error
	for attempt := 1; attempt <= f.policy.MaxAttempts; attempt++ {
		path, err := f.attempt(ctx, url, name)
		if err == nil {
			return path, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", err
		}
		if generator.KindOf(err) != generator.KindTransient {
			return "", err
		}
		if attempt == f.policy.MaxAttempts {
			break
		}

		delay := f.policy.Delay(attempt, generator.RetryAfterOf(err))
		f.logger.Warn("download failed, retrying",
			slog.String("file", name),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func (f *Fetcher) attempt(ctx context.Context, url, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return "", &generator.CallError{Op: "download", Kind: generator.KindTransient, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &generator.CallError{
			Op:         "download",
			Kind:       generator.ClassifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			RetryAfter: generator.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body := &countingReader{r: resp.Body}
	path, err := f.saver.SaveAs(ctx, name, body)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		// A stream that broke mid-transfer is worth another attempt.
		return "", &generator.CallError{Op: "download", Kind: generator.KindTransient, Err: err}
	}
	return path, nil
}

// countingReader turns an empty stream into ErrEmptyBody so that the saver
// discards it instead of publishing a zero-byte artifact.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if errors.Is(err, io.EOF) && c.n == 0 {
		return n, ErrEmptyBody
	}
	return n, err
}
