// Package fetcher composes page retrieval out of a transport variant, the
// shared rate gate, and the retry policy.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quriousri/fda-harvester/internal/crawler"
	"github.com/quriousri/fda-harvester/internal/telemetry"
)

// Polite wraps an inner Fetcher with rate limiting and bounded retries.
// Every attempt first acquires the gate, so retries are paced like fresh
// requests. Bot detection is terminal: it surfaces immediately so the
// caller can switch discovery strategies instead of hammering the block
// page.
type Polite struct {
	inner  crawler.Fetcher
	gate   crawler.RateGate
	policy *crawler.ExponentialRetryPolicy
	logger *zap.Logger
}

// NewPolite builds the decorated fetcher. A nil gate disables pacing, which
// only tests should do.
func NewPolite(inner crawler.Fetcher, gate crawler.RateGate, policy *crawler.ExponentialRetryPolicy, logger *zap.Logger) *Polite {
	if policy == nil {
		policy = crawler.NewExponentialRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Polite{inner: inner, gate: gate, policy: policy, logger: logger}
}

// Fetch retrieves url, retrying transient failures with jittered backoff.
// Exhausted retries come back as a *crawler.FetchError wrapping the last
// attempt's error.
func (p *Polite) Fetch(ctx context.Context, url string) (crawler.Page, error) {
	var (
		lastErr  error
		attempts int
	)

	for attempt := 1; ; attempt++ {
		attempts = attempt
		if p.gate != nil {
			if err := p.gate.Acquire(ctx, url); err != nil {
				return crawler.Page{}, err
			}
		}

		page, err := p.inner.Fetch(ctx, url)
		if err == nil {
			telemetry.ObservePageFetched(page.StatusCode, page.UsedBrowser)
			return page, nil
		}
		lastErr = err

		if errors.Is(err, crawler.ErrBotDetected) {
			telemetry.ObserveBotDetection()
			p.logger.Warn("bot block signature detected",
				zap.String("url", url),
				zap.String("final_url", page.FinalURL))
			return page, err
		}

		if !p.policy.ShouldRetry(err, attempt) {
			break
		}
		delay := p.policy.Backoff(attempt)
		p.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if err := sleep(ctx, delay); err != nil {
			return crawler.Page{}, err
		}
	}

	return crawler.Page{}, &crawler.FetchError{
		URL:      url,
		Attempts: attempts,
		Err:      lastErr,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
