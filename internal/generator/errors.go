package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrorKind classifies a failed call to the generation service.
type ErrorKind int

const (
	// KindFatal errors are not expected to succeed on retry.
	KindFatal ErrorKind = iota
	// KindTransient errors (timeouts, resets, 429, 5xx) may succeed on retry.
	KindTransient
	// KindAuth errors indicate the credential was rejected; retry after refresh.
	KindAuth
)

// String returns the lowercase name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	default:
		return "fatal"
	}
}

// CallError describes a failed call with its classification.
type CallError struct {
	Op         string        // "submit", "poll" or "download"
	Kind       ErrorKind     // Retry classification
	StatusCode int           // HTTP status code, 0 for transport errors
	RetryAfter time.Duration // Server supplied retry hint, 0 if absent
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status code to an ErrorKind.
func ClassifyStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}

// KindOf returns the classification of err. Transport level timeouts and
// resets are transient even when they were not wrapped in a CallError.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindFatal
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTransient
	}
	if isConnReset(err) {
		return KindTransient
	}
	return KindFatal
}

// RetryAfterOf returns the retry hint carried by err, or 0.
func RetryAfterOf(err error) time.Duration {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.RetryAfter
	}
	return 0
}

// ParseRetryAfter parses a Retry-After header given either as seconds or
// as an HTTP date. Unparseable or past values yield 0.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// isConnReset reports a connection dropped by the peer mid-exchange.
func isConnReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
