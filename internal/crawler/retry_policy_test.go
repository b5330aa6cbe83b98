package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(3, 10*time.Millisecond, 100*time.Millisecond)

	require.False(t, p.ShouldRetry(nil, 0))
	require.True(t, p.ShouldRetry(errors.New("connection reset"), 0))
	require.False(t, p.ShouldRetry(errors.New("connection reset"), 3))
	require.False(t, p.ShouldRetry(context.Canceled, 0))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 0))
}

func TestRetryPolicy_BotDetectionNeverRetried(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy()
	require.False(t, p.ShouldRetry(ErrBotDetected, 0))
	require.False(t, p.ShouldRetry(&FetchError{URL: "https://example.com", Attempts: 1, Err: ErrBotDetected}, 0))
}

func TestRetryPolicy_BackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(5, 100*time.Millisecond, 400*time.Millisecond)

	for attempt := 0; attempt < 5; attempt++ {
		d := p.Backoff(attempt)
		require.Positive(t, d)
		require.LessOrEqual(t, d, 400*time.Millisecond)
	}
	// Attempt 0 stays within the base delay envelope.
	require.LessOrEqual(t, p.Backoff(0), 100*time.Millisecond)
}

func TestFetchError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("tls handshake timeout")
	err := &FetchError{URL: "https://www.fda.gov/x", Attempts: 3, Err: inner}
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "after 3 attempts")
}
