package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   bool
	}{
		{"pending not terminal", StatusPending, false},
		{"completed is terminal", StatusCompleted, true},
		{"failed is terminal", StatusFailed, true},
		{"skipped is terminal", StatusSkipped, true},
		{"unknown not terminal", Status("WAT"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("Status.IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want ErrorKind
	}{
		{http.StatusBadRequest, KindFatal},
		{http.StatusNotFound, KindFatal},
		{http.StatusUnprocessableEntity, KindFatal},
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusTooManyRequests, KindTransient},
		{http.StatusRequestTimeout, KindTransient},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusServiceUnavailable, KindTransient},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.code))
		})
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", &CallError{Op: "submit", Kind: KindAuth, StatusCode: 401, Err: errors.New("denied")})

	assert.Equal(t, KindAuth, KindOf(wrapped))
	assert.Equal(t, KindTransient, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindFatal, KindOf(errors.New("malformed")))
	assert.Equal(t, KindFatal, KindOf(nil))
}

func TestKindOf_DroppedConnections(t *testing.T) {
	reset := &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}
	pipe := &net.OpError{Op: "write", Net: "tcp", Err: os.NewSyscallError("write", syscall.EPIPE)}

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"connection reset", reset, KindTransient},
		{"broken pipe", pipe, KindTransient},
		{"eof from the transport", &url.Error{Op: "Post", URL: "https://gen", Err: io.EOF}, KindTransient},
		{"unexpected eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), KindTransient},
		{"eof only in the text", errors.New("invalid prompt: unexpected token EOF"), KindFatal},
		{"reset only in the text", errors.New("provider said: connection reset"), KindFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := fmt.Errorf("wrap: %w", &CallError{Kind: KindTransient, RetryAfter: 3 * time.Second, Err: errors.New("slow down")})

	assert.Equal(t, 3*time.Second, RetryAfterOf(err))
	assert.Zero(t, RetryAfterOf(errors.New("plain")))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 5*time.Second, ParseRetryAfter("5", now))
	assert.Equal(t, 30*time.Second, ParseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, ParseRetryAfter("", now))
	assert.Zero(t, ParseRetryAfter("-1", now))
	assert.Zero(t, ParseRetryAfter("soon", now))
	assert.Zero(t, ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}

func TestCallError_Error(t *testing.T) {
	err := &CallError{Op: "poll", Kind: KindTransient, StatusCode: 503, Err: errors.New("unavailable")}
	assert.Contains(t, err.Error(), "poll: transient error (status 503)")

	transport := &CallError{Op: "submit", Kind: KindTransient, Err: errors.New("dial")}
	assert.Equal(t, "submit: transient error: dial", transport.Error())
}

func TestPolicyClassifier(t *testing.T) {
	p := NewPolicyClassifier(nil)

	assert.Equal(t, StatusSkipped, p.Classify("FAILED", "PUBLIC_ERROR_UNSAFE_GENERATION", "unsafe").Status)
	assert.Equal(t, StatusSkipped, p.Classify("FILTERED", "", "").Status)
	assert.Equal(t, StatusSkipped, p.Classify("rejected", "", "").Status)
	assert.Equal(t, StatusFailed, p.Classify("FAILED", "INTERNAL", "this mentions unsafe content").Status)

	custom := NewPolicyClassifier([]string{" blocked "})
	assert.True(t, custom.IsPolicyRejection("FAILED", "BLOCKED"))
	assert.False(t, custom.IsPolicyRejection("FAILED", "PUBLIC_ERROR_UNSAFE_GENERATION"))
}
