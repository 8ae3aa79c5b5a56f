package ratelimit

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies an upstream failure for retry decisions. The
// producer of an error decides its kind once, at the call site that
// observed the failure; the retry loop only ever inspects the kind.
type FailureKind int

const (
	// FailureOther marks failures that must not be retried.
	FailureOther FailureKind = iota
	// FailureRateLimited marks upstream rate-limit rejections.
	FailureRateLimited
	// FailureTransient marks failures expected to clear on their own,
	// such as 5xx responses, timeouts and connection resets.
	FailureTransient
)

func (k FailureKind) String() string {
	switch k {
	case FailureRateLimited:
		return "rate_limited"
	case FailureTransient:
		return "transient"
	default:
		return "other"
	}
}

// ClassifiedError carries a FailureKind alongside the underlying error.
type ClassifiedError struct {
	Kind FailureKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classify tags err with the given failure kind. A nil err stays nil.
func Classify(kind FailureKind, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: kind, Err: err}
}

// KindOf returns the failure kind recorded on err, or FailureOther when
// err carries no classification.
func KindOf(err error) FailureKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return FailureOther
}

// IsRetryable reports whether err is worth another attempt. Cancellation
// is never retryable regardless of any recorded classification.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch KindOf(err) {
	case FailureRateLimited, FailureTransient:
		return true
	default:
		return false
	}
}

// ErrRetriesExhausted tags the error returned by RetryWithBackoff when
// the attempt budget is spent on retryable failures. The last attempt's
// error remains reachable through errors.Is and errors.As.
var ErrRetriesExhausted = errors.New("retries exhausted")
