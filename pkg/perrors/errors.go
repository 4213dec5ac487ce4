// Package perrors defines the closed set of error kinds used across the
// query engine and a Classified wrapper that carries a retry strategy,
// matching the shape of the teacher's pkg/errors.ClassifiedError.
package perrors

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Kind is a closed enumeration of error categories.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidArgument
	KindRateLimited
	KindTimeout
	KindCancelled
	KindUpstreamUnavailable
	KindDecodeError
	KindOversize
	KindCircuitOpen
	KindInternalError
)

// String renders the Kind for logs and error messages.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindDecodeError:
		return "decode_error"
	case KindOversize:
		return "oversize"
	case KindCircuitOpen:
		return "circuit_open"
	case KindInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// RetryStrategy mirrors the teacher's retry-strategy struct.
type RetryStrategy struct {
	ShouldRetry       bool
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// Classified is an error carrying a Kind, an operation name, and an
// optional retry strategy, with cause-chain support via Unwrap.
type Classified struct {
	Kind      Kind
	Operation string
	Message   string
	Retry     *RetryStrategy
	cause     error
}

func (e *Classified) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Operation, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Classified) Unwrap() error { return e.cause }

// IsRetryable reports whether the error's retry strategy permits a retry.
func (e *Classified) IsRetryable() bool {
	return e.Retry != nil && e.Retry.ShouldRetry
}

// RetryDelay computes the backoff delay for the given attempt number.
func (e *Classified) RetryDelay(attempt int) time.Duration {
	if e.Retry == nil || !e.Retry.ShouldRetry {
		return 0
	}
	delay := e.Retry.BaseDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * e.Retry.BackoffMultiplier)
		if delay > e.Retry.MaxDelay {
			return e.Retry.MaxDelay
		}
	}
	return delay
}

// New creates a Classified error of the given kind with a default retry
// strategy for that kind.
func New(kind Kind, operation, message string) *Classified {
	return &Classified{
		Kind:      kind,
		Operation: operation,
		Message:   message,
		Retry:     defaultRetry(kind),
	}
}

// Wrap classifies an existing error, preserving it as the cause.
func Wrap(err error, kind Kind, operation string) *Classified {
	if err == nil {
		return nil
	}
	return &Classified{
		Kind:      kind,
		Operation: operation,
		Message:   err.Error(),
		Retry:     defaultRetry(kind),
		cause:     errors.WithStack(err),
	}
}

func defaultRetry(kind Kind) *RetryStrategy {
	switch kind {
	case KindUpstreamUnavailable:
		return &RetryStrategy{ShouldRetry: true, MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, BackoffMultiplier: 2.0}
	case KindTimeout:
		return &RetryStrategy{ShouldRetry: true, MaxAttempts: 2, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second, BackoffMultiplier: 1.5}
	case KindRateLimited:
		return &RetryStrategy{ShouldRetry: true, MaxAttempts: 5, BaseDelay: 5 * time.Second, MaxDelay: 60 * time.Second, BackoffMultiplier: 1.0}
	case KindCircuitOpen:
		return &RetryStrategy{ShouldRetry: true, MaxAttempts: 1, BaseDelay: 30 * time.Second, MaxDelay: 30 * time.Second, BackoffMultiplier: 1.0}
	default:
		return &RetryStrategy{ShouldRetry: false}
	}
}

// Is reports whether err is a Classified error of the given kind.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*Classified)
	return ok && ce.Kind == kind
}
