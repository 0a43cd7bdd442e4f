package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Backoff: 10 * time.Millisecond}
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	if policy.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d, want 2", policy.MaxAttempts)
	}
	if policy.Backoff != 2*time.Second {
		t.Errorf("Backoff = %v, want 2s", policy.Backoff)
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	callCount := 0
	fn := func() error {
		callCount++
		return nil
	}

	err := retryWithBackoff(context.Background(), testPolicy(2), fn, classifyError)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_SuccessAfterRetry(t *testing.T) {
	callCount := 0
	fn := func() error {
		callCount++
		if callCount < 2 {
			return errors.New("connection reset")
		}
		return nil
	}

	err := retryWithBackoff(context.Background(), testPolicy(2), fn, classifyError)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 2 {
		t.Errorf("Expected 2 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_MaxAttemptsExhausted(t *testing.T) {
	for _, attempts := range []int{1, 2, 3, 5} {
		callCount := 0
		testErr := errors.New("persistent error")
		fn := func() error {
			callCount++
			return testErr
		}

		err := retryWithBackoff(context.Background(), testPolicy(attempts), fn, classifyError)

		if !errors.Is(err, ErrRetryExhausted) {
			t.Errorf("attempts=%d: expected ErrRetryExhausted, got %v", attempts, err)
		}
		if !errors.Is(err, testErr) {
			t.Errorf("attempts=%d: expected wrapped original error, got %v", attempts, err)
		}
		if callCount != attempts {
			t.Errorf("attempts=%d: expected %d calls, got %d", attempts, attempts, callCount)
		}
	}
}

func TestRetryWithBackoff_ZeroAttemptsRunsOnce(t *testing.T) {
	callCount := 0
	fn := func() error {
		callCount++
		return errors.New("error")
	}

	_ = retryWithBackoff(context.Background(), RetryPolicy{}, fn, classifyError)

	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_StatusErrorNoRetry(t *testing.T) {
	callCount := 0
	statusErr := &StatusError{StatusCode: 404, Status: "404 Not Found"}
	fn := func() error {
		callCount++
		return statusErr
	}

	err := retryWithBackoff(context.Background(), testPolicy(3), fn, classifyError)

	if callCount != 1 {
		t.Errorf("Expected 1 call (no retry for status errors), got %d", callCount)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("Should not return ErrRetryExhausted for status errors")
	}

	var got *StatusError
	if !errors.As(err, &got) || got.StatusCode != 404 {
		t.Errorf("Expected original status error, got %v", err)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	fn := func() error {
		callCount++
		if callCount == 1 {
			cancel()
		}
		return errors.New("error")
	}

	policy := RetryPolicy{MaxAttempts: 3, Backoff: time.Minute}
	err := retryWithBackoff(ctx, policy, fn, classifyError)

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", callCount)
	}
}

func TestRetryWithBackoff_FixedBackoff(t *testing.T) {
	timestamps := []time.Time{}
	fn := func() error {
		timestamps = append(timestamps, time.Now())
		return errors.New("error")
	}

	policy := RetryPolicy{MaxAttempts: 3, Backoff: 100 * time.Millisecond}
	_ = retryWithBackoff(context.Background(), policy, fn, classifyError)

	if len(timestamps) != 3 {
		t.Fatalf("Expected 3 timestamps, got %d", len(timestamps))
	}

	for i := 1; i < len(timestamps); i++ {
		delay := timestamps[i].Sub(timestamps[i-1])
		if delay < 100*time.Millisecond || delay > time.Second {
			t.Errorf("Delay %d = %v, want ~100ms", i, delay)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassNetwork, true},
		{ErrorClassStatus, false},
		{"", false},
	}

	for _, tt := range tests {
		if got := shouldRetry(tt.class); got != tt.want {
			t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestClassifyError(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), &StatusError{StatusCode: 503})

	if got := classifyError(wrapped); got != ErrorClassStatus {
		t.Errorf("classifyError(wrapped status) = %q, want status", got)
	}
	if got := classifyError(context.DeadlineExceeded); got != ErrorClassNetwork {
		t.Errorf("classifyError(deadline) = %q, want network", got)
	}
}

func TestStatusError_Error(t *testing.T) {
	err := &StatusError{StatusCode: 429, Status: "429 Too Many Requests"}
	want := "lookup endpoint returned status 429 (429 Too Many Requests)"

	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
