package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource returns a fixed token and counts calls.
type countingSource struct {
	name  string
	token string
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (s *countingSource) Name() string { return s.name }

func (s *countingSource) Fetch(ctx context.Context) (string, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCache_ReturnsCachedTokenWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	src := &countingSource{name: "remote", token: "tok-1"}
	cache := NewCache(time.Minute, []Source{src}, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		tok, err := cache.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
	}
	assert.Equal(t, int32(1), src.calls.Load())

	clock.Advance(time.Minute)
	_, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load(), "expired token must be refreshed")
}

func TestCache_SourcePriority(t *testing.T) {
	override := &countingSource{name: "override", err: ErrEmptyToken}
	remote := &countingSource{name: "remote", err: errors.New("down")}
	file := &countingSource{name: "file", token: "from-file"}

	cache := NewCache(time.Minute, []Source{override, remote, file})

	tok, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-file", tok)
	assert.Equal(t, int32(1), override.calls.Load())
	assert.Equal(t, int32(1), remote.calls.Load())
	assert.Equal(t, int32(1), file.calls.Load())
}

func TestCache_FirstSourceWins(t *testing.T) {
	first := &countingSource{name: "override", token: "override-tok"}
	second := &countingSource{name: "remote", token: "remote-tok"}

	cache := NewCache(time.Minute, []Source{first, second})

	tok, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "override-tok", tok)
	assert.Zero(t, second.calls.Load())
}

func TestCache_AllSourcesFail(t *testing.T) {
	cache := NewCache(time.Minute, []Source{
		&countingSource{name: "override", err: ErrEmptyToken},
		&countingSource{name: "remote", err: errors.New("down")},
	})

	_, err := cache.Get(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = NewCache(time.Minute, nil).Get(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCache_ConcurrentExpiredTriggersSingleRefresh(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	src := &countingSource{name: "remote", token: "tok-1"}
	cache := NewCache(time.Minute, []Source{src}, WithClock(clock.Now))

	tok, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)

	clock.Advance(time.Minute + time.Second)
	src.token = "tok-2"
	src.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	start := make(chan struct{})
	tokens := make([]string, 10)
	for i := range tokens {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			tok, err := cache.Get(context.Background())
			assert.NoError(t, err)
			tokens[i] = tok
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(2), src.calls.Load(), "one initial fetch and one refresh for all ten callers")
	assert.Equal(t, int64(2), cache.Refreshes())
	for _, tok := range tokens {
		assert.Equal(t, "tok-2", tok)
	}
}

func TestCache_CancelledCallerDoesNotFailSharedRefresh(t *testing.T) {
	src := &countingSource{name: "remote", token: "fresh", delay: 50 * time.Millisecond}
	cache := NewCache(time.Minute, []Source{src})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Get(firstCtx)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan string, 1)
	go func() {
		tok, err := cache.Get(context.Background())
		assert.NoError(t, err)
		second <- tok
	}()

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	assert.Equal(t, "fresh", <-second)
	assert.Equal(t, int32(1), src.calls.Load())

	tok, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok, "the detached refresh filled the cache")
}

func TestCache_InvalidateOnlyDropsStaleToken(t *testing.T) {
	src := &countingSource{name: "remote", token: "tok-1"}
	cache := NewCache(time.Hour, []Source{src})

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	cache.Invalidate("some-older-token")
	assert.Equal(t, "tok-1", cache.Snapshot().Value)

	cache.Invalidate("tok-1")
	assert.Empty(t, cache.Snapshot().Value)

	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCache_PersistsRemoteToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"remote-tok"}`))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "state", "token")
	file := NewFile(path)
	cache := NewCache(time.Hour, []Source{NewRemote(server.URL, nil), file}, WithPersister(file))

	tok, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "remote-tok", tok)

	persisted, err := file.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "remote-tok", persisted)
}

func TestRemote_Fetch(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
	}{
		{"json token", http.StatusOK, `{"token":"abc"}`, "abc", nil},
		{"json access token", http.StatusOK, `{"access_token":"def"}`, "def", nil},
		{"bare token", http.StatusOK, "  ghi\n", "ghi", nil},
		{"empty json", http.StatusOK, `{}`, "", ErrEmptyToken},
		{"empty body", http.StatusOK, "", "", ErrEmptyToken},
		{"server error", http.StatusBadGateway, "oops", "", ErrFetchFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			tok, err := NewRemote(server.URL, nil).Fetch(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, tok)
		})
	}
}

func TestFile_FetchMissingAndEmpty(t *testing.T) {
	dir := t.TempDir()

	_, err := NewFile(filepath.Join(dir, "missing")).Fetch(context.Background())
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o600))
	_, err = NewFile(empty).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestStatic_Fetch(t *testing.T) {
	tok, err := NewStatic(" tok ").Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)

	_, err = NewStatic("").Fetch(context.Background())
	assert.ErrorIs(t, err, ErrEmptyToken)
}
