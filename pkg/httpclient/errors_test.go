package httpclient

import (
	"errors"
	"testing"
	"time"
)

func TestRetryableErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *RetryableError
		expected string
	}{
		{
			name: "with_retry_after",
			err: &RetryableError{
				StatusCode: 429,
				Message:    "Rate limit exceeded",
				RetryAfter: 30 * time.Second,
			},
			expected: "HTTP 429: Rate limit exceeded (retry after 30s)",
		},
		{
			name: "without_retry_after",
			err: &RetryableError{
				StatusCode: 503,
				Message:    "Service unavailable",
			},
			expected: "HTTP 503: Service unavailable",
		},
		{
			name: "sub_second_retry_after",
			err: &RetryableError{
				StatusCode: 429,
				Message:    "Rate limit exceeded",
				RetryAfter: 1500 * time.Millisecond,
			},
			expected: "HTTP 429: Rate limit exceeded (retry after 1.5s)",
		},
		{
			name: "zero_status_code",
			err: &RetryableError{
				StatusCode: 0,
				Message:    "max HTTP retries (5) exceeded",
				RetryAfter: 5 * time.Second,
			},
			expected: "HTTP 0: max HTTP retries (5) exceeded (retry after 5s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestRetryableErrorUnwrap(t *testing.T) {
	underlying := errors.New("connection reset")
	err := &RetryableError{StatusCode: 503, Message: "Service unavailable", Err: underlying}

	if err.Unwrap() != underlying {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), underlying)
	}

	empty := &RetryableError{StatusCode: 500, Message: "Internal server error"}
	if empty.Unwrap() != nil {
		t.Errorf("Unwrap() = %v, want nil", empty.Unwrap())
	}
}

func TestRetryableErrorIsRetryable(t *testing.T) {
	err := &RetryableError{StatusCode: 429, Message: "Rate limit exceeded"}
	if !err.IsRetryable() {
		t.Error("Expected IsRetryable()=true")
	}
}

func TestRetryableErrorChain(t *testing.T) {
	root := errors.New("simulator unreachable")
	wrapped := &RetryableError{
		StatusCode: 502,
		Message:    "Bad gateway",
		RetryAfter: 2 * time.Second,
		Err:        root,
	}

	if !errors.Is(wrapped, root) {
		t.Error("errors.Is should match the wrapped root error")
	}

	var retryErr *RetryableError
	if !errors.As(wrapped, &retryErr) {
		t.Fatal("errors.As should extract *RetryableError")
	}
	if retryErr.StatusCode != 502 {
		t.Errorf("StatusCode = %d, want 502", retryErr.StatusCode)
	}
}
