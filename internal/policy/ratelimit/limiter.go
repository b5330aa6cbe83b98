// Package ratelimit implements the shared token-paced gate bounding the
// harvester's outbound request rate.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quriousri/fda-harvester/internal/telemetry"
)

// Limiter paces all workers through one token bucket, so concurrency never
// multiplies the configured rate. A per-host minimum spacing is enforced on
// top of the bucket, independent of the worker count.
type Limiter struct {
	global *rate.Limiter

	mu          sync.Mutex
	lastPerHost map[string]time.Time
	minInterval time.Duration
}

// Config holds rate limiter configuration.
type Config struct {
	// RequestsPerSecond is the global budget shared by all workers.
	RequestsPerSecond float64
	// PerHostInterval is the minimum spacing between requests to one host.
	// Zero disables the per-host check.
	PerHostInterval time.Duration
}

// New creates a Limiter. Burst is fixed at one token: simultaneous callers
// queue on the bucket instead of bursting past the configured rate.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		r = rate.Inf
	}
	return &Limiter{
		global:      rate.NewLimiter(r, 1),
		lastPerHost: make(map[string]time.Time),
		minInterval: cfg.PerHostInterval,
	}
}

// Acquire blocks until the caller may issue the next request to rawURL's
// host, respecting the context.
func (l *Limiter) Acquire(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	start := time.Now()

	if err := l.global.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if err := l.waitPerHost(ctx, host); err != nil {
		return err
	}

	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// waitPerHost reserves a send slot for host and sleeps out any remaining
// spacing. The slot is claimed under the lock so concurrent callers to the
// same host serialize.
func (l *Limiter) waitPerHost(ctx context.Context, host string) error {
	if l.minInterval <= 0 || host == "" {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	next := l.lastPerHost[host].Add(l.minInterval)
	if next.Before(now) {
		next = now
	}
	l.lastPerHost[host] = next
	l.mu.Unlock()

	delay := time.Until(next)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	if h := u.Hostname(); h != "" {
		return h
	}
	return "unknown"
}
