package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

type statusErr struct{ code int }

func (e *statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) HTTPStatusCode() int { return e.code }

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 503, 599} {
		if !IsRetryableHTTPStatus(code) {
			t.Fatalf("%d should be retryable", code)
		}
	}
	for _, code := range []int{200, 400, 401, 404, 422} {
		if IsRetryableHTTPStatus(code) {
			t.Fatalf("%d should not be retryable", code)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	if IsRetryableError(nil) {
		t.Fatal("nil is not retryable")
	}
	if !IsRetryableError(context.DeadlineExceeded) {
		t.Fatal("deadline exceeded is retryable")
	}
	if !IsRetryableError(&statusErr{code: 429}) {
		t.Fatal("429 is retryable")
	}
	if IsRetryableError(&statusErr{code: 400}) {
		t.Fatal("400 is not retryable")
	}
	if IsRetryableError(errors.New("plain")) {
		t.Fatal("plain errors are not retryable")
	}
}

func TestRetryAfterDuration(t *testing.T) {
	if got := RetryAfterDuration(nil, 2*time.Second, 10*time.Second); got != 2*time.Second {
		t.Fatalf("no response: %v", got)
	}

	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "4")
	if got := RetryAfterDuration(resp, 2*time.Second, 10*time.Second); got != 4*time.Second {
		t.Fatalf("retry-after: %v", got)
	}

	resp.Header.Set("Retry-After", "60")
	if got := RetryAfterDuration(resp, 2*time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("cap: %v", got)
	}
}

func TestJitterSleep(t *testing.T) {
	if got := JitterSleep(0); got != 0 {
		t.Fatalf("zero base: %v", got)
	}
	base := time.Second
	for i := 0; i < 50; i++ {
		got := JitterSleep(base)
		if got < 800*time.Millisecond || got > 1200*time.Millisecond {
			t.Fatalf("jitter out of band: %v", got)
		}
	}
}
