package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	base := errors.New("boom")

	err := Classify(FailureTransient, base)
	require.Error(t, err)
	assert.Equal(t, FailureTransient, KindOf(err))
	assert.ErrorIs(t, err, base)

	assert.Nil(t, Classify(FailureTransient, nil))
}

func TestClassify_ErrorMessage(t *testing.T) {
	err := Classify(FailureRateLimited, errors.New("upstream said no"))
	assert.Equal(t, "rate_limited: upstream said no", err.Error())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected FailureKind
	}{
		{name: "rate limited", err: Classify(FailureRateLimited, errors.New("429")), expected: FailureRateLimited},
		{name: "transient", err: Classify(FailureTransient, errors.New("503")), expected: FailureTransient},
		{name: "other", err: Classify(FailureOther, errors.New("400")), expected: FailureOther},
		{name: "unclassified", err: errors.New("plain"), expected: FailureOther},
		{name: "wrapped classification survives", err: fmt.Errorf("fetch: %w", Classify(FailureTransient, errors.New("timeout"))), expected: FailureTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "rate limited", err: Classify(FailureRateLimited, errors.New("429")), expected: true},
		{name: "transient", err: Classify(FailureTransient, errors.New("timeout")), expected: true},
		{name: "other kind", err: Classify(FailureOther, errors.New("404")), expected: false},
		{name: "unclassified", err: errors.New("plain"), expected: false},
		{name: "context canceled", err: context.Canceled, expected: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, expected: false},
		{name: "canceled wrapped as transient stays non-retryable", err: Classify(FailureTransient, context.Canceled), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestFailureKind_String(t *testing.T) {
	assert.Equal(t, "rate_limited", FailureRateLimited.String())
	assert.Equal(t, "transient", FailureTransient.String())
	assert.Equal(t, "other", FailureOther.String())
}
