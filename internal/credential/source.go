package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Static errors for token sources.
var (
	// ErrEmptyToken is returned when a source answered but had no token.
	ErrEmptyToken = errors.New("credential: source returned an empty token")
	// ErrFetchFailed is returned when the remote token endpoint answers non-2xx.
	ErrFetchFailed = errors.New("credential: token fetch failed")
)

// Source yields a session token.
type Source interface {
	// Name identifies the source in logs.
	Name() string
	// Fetch returns a token or an error. An empty token is an error.
	Fetch(ctx context.Context) (string, error)
}

// Persister stores the last known good token.
type Persister interface {
	Persist(ctx context.Context, token string) error
}

// Static is a source holding an externally supplied override value.
type Static struct {
	value string
}

// NewStatic creates a Static source.
func NewStatic(value string) *Static {
	return &Static{value: strings.TrimSpace(value)}
}

// Name implements Source.
func (s *Static) Name() string { return "override" }

// Fetch implements Source.
func (s *Static) Fetch(_ context.Context) (string, error) {
	if s.value == "" {
		return "", ErrEmptyToken
	}
	return s.value, nil
}

// Remote fetches a fresh token over HTTP. The endpoint may answer with a
// JSON object carrying "token" or "access_token", or with a bare token.
type Remote struct {
	url        string
	httpClient *http.Client
}

// NewRemote creates a Remote source for url.
func NewRemote(url string, httpClient *http.Client) *Remote {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Remote{url: url, httpClient: httpClient}
}

// Name implements Source.
func (r *Remote) Name() string { return "remote" }

// Fetch implements Source.
func (r *Remote) Fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return "", fmt.Errorf("credential: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("credential: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("credential: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w with status %d", ErrFetchFailed, resp.StatusCode)
	}

	return parseTokenBody(body)
}

// parseTokenBody accepts a JSON token object first and a bare token second.
func parseTokenBody(body []byte) (string, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var payload struct {
			Token       string `json:"token"`
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
			return "", fmt.Errorf("credential: decode token: %w", err)
		}
		tok := strings.TrimSpace(payload.Token)
		if tok == "" {
			tok = strings.TrimSpace(payload.AccessToken)
		}
		if tok == "" {
			return "", ErrEmptyToken
		}
		return tok, nil
	}
	if trimmed == "" {
		return "", ErrEmptyToken
	}
	return trimmed, nil
}

// File reads the locally persisted fallback token and can persist new ones.
type File struct {
	path string
}

// NewFile creates a File source for path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Name implements Source.
func (f *File) Name() string { return "file" }

// Fetch implements Source.
func (f *File) Fetch(_ context.Context) (string, error) {
	data, err := os.ReadFile(f.path) // #nosec G304 - path comes from configuration
	if err != nil {
		return "", fmt.Errorf("credential: read token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", ErrEmptyToken
	}
	return tok, nil
}

// Persist implements Persister. The file is replaced atomically.
func (f *File) Persist(_ context.Context, token string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("credential: create token dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("credential: create temp token file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.WriteString(token + "\n"); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("credential: write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("credential: close token file: %w", err)
	}
	if err := os.Rename(name, f.path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("credential: replace token file: %w", err)
	}
	return nil
}
