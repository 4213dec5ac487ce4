package perrors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsRetryByKind(t *testing.T) {
	err := New(KindUpstreamUnavailable, "search", "upstream down")
	require.NotNil(t, err.Retry)
	assert.True(t, err.IsRetryable())
	assert.Equal(t, "upstream_unavailable", err.Kind.String())
}

func TestNotFoundIsNotRetryable(t *testing.T) {
	err := New(KindNotFound, "lookup", "missing")
	assert.False(t, err.IsRetryable())
	assert.Equal(t, time.Duration(0), err.RetryDelay(1))
}

func TestRetryDelayBacksOff(t *testing.T) {
	err := New(KindUpstreamUnavailable, "search", "down")
	d0 := err.RetryDelay(0)
	d1 := err.RetryDelay(1)
	assert.Greater(t, d1, d0)
	assert.LessOrEqual(t, err.RetryDelay(50), err.Retry.MaxDelay)
}

func TestWrapPreservesCause(t *testing.T) {
	base := errors.New("boom")
	wrapped := Wrap(base, KindInternalError, "op")
	require.NotNil(t, wrapped)
	assert.True(t, errors.Is(wrapped, base))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, KindInternalError, "op"))
}

func TestIsChecksKind(t *testing.T) {
	err := New(KindCircuitOpen, "call", "open")
	assert.True(t, Is(err, KindCircuitOpen))
	assert.False(t, Is(err, KindTimeout))
}
