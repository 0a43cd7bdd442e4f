package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrInvalidConfig is returned by New for unusable configuration.
	ErrInvalidConfig = errors.New("invalid client config")
)

// StatusError reports a completed exchange with a non-200 status.
type StatusError struct {
	StatusCode int
	Status     string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("lookup endpoint returned status %d (%s)", e.StatusCode, e.Status)
}

// ErrorClass represents a classification of lookup errors.
type ErrorClass string

const (
	// ErrorClassNetwork covers transport failures, timeouts and broken bodies.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassStatus covers clean responses with a status other than 200.
	ErrorClassStatus ErrorClass = "status"
)

// classifyError maps an attempt error to its class.
func classifyError(err error) ErrorClass {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return ErrorClassStatus
	}
	return ErrorClassNetwork
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassNetwork:
		return true
	case ErrorClassStatus:
		// The endpoint answered; asking again will not change the answer.
		return false
	default:
		return false
	}
}
