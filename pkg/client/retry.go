package client

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	lookupRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookup_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	lookupRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lookup_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"error_class"})

	lookupRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookup_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryPolicy holds the configuration for retry logic.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// Backoff is the fixed delay between a failed attempt and the next one.
	Backoff time.Duration
}

// DefaultRetryPolicy returns the default retry policy: two attempts, two seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		Backoff:     2 * time.Second,
	}
}

// retryWithBackoff executes fn until it succeeds, returns a non-retryable
// error, or policy.MaxAttempts is reached. The delay between attempts is fixed.
func retryWithBackoff(ctx context.Context, policy RetryPolicy, fn func() error, classify func(error) ErrorClass) error {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	var errorClass ErrorClass

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Debug().
					Int("attempt", attempt).
					Msg("Lookup succeeded after retry")
			}
			return nil
		}

		lastErr = err
		errorClass = classify(err)

		if !shouldRetry(errorClass) {
			return lastErr
		}

		if attempt >= maxAttempts {
			break
		}

		lookupRetriesTotal.WithLabelValues(string(errorClass)).Inc()
		lookupRetryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(policy.Backoff.Seconds())

		log.Debug().
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", policy.Backoff).
			Err(err).
			Msg("Retrying lookup after backoff")

		timer := time.NewTimer(policy.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w after %d attempts: %v", ErrContextCancelled, attempt, ctx.Err())
		case <-timer.C:
		}
	}

	lookupRetryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, maxAttempts, lastErr)
}
