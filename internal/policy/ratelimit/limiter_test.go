package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_PacesSingleCaller(t *testing.T) {
	t.Parallel()

	// 10 rps = one token every 100ms; the first acquire is immediate.
	l := New(Config{RequestsPerSecond: 10})
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "https://www.fda.gov/a"))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "https://www.fda.gov/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_NoBurstAcrossConcurrentWorkers(t *testing.T) {
	t.Parallel()

	const (
		workers = 8
		rps     = 20.0
	)
	l := New(Config{RequestsPerSecond: rps})
	ctx := context.Background()

	var (
		mu     sync.Mutex
		stamps []time.Time
		wg     sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(ctx, "https://www.fda.gov/doc"))
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, stamps, workers)
	// Any 1-second sliding window must hold at most rps+1 stamps (the +1
	// allows the initial token plus scheduling jitter).
	for _, anchor := range stamps {
		inWindow := 0
		for _, s := range stamps {
			if !s.Before(anchor) && s.Sub(anchor) < time.Second {
				inWindow++
			}
		}
		require.LessOrEqual(t, inWindow, int(rps)+1)
	}
}

func TestLimiter_PerHostSpacingIndependentOfConcurrency(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerSecond: 1000, PerHostInterval: 50 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(ctx, "https://www.fda.gov/doc"))
		}()
	}
	wg.Wait()

	// Three requests to one host need at least two spacing intervals even
	// though the global budget would allow them immediately.
	require.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestLimiter_AcquireHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerSecond: 0.1})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Acquire(context.Background(), "https://www.fda.gov/a"))
	err := l.Acquire(ctx, "https://www.fda.gov/b")
	require.Error(t, err)
}
