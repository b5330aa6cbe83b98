// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/quriousri/fda-harvester/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Fetcher performs single-page HTTP retrieval with a cloned Colly
// collector per request. Block signatures are classified here so callers
// see crawler.ErrBotDetected instead of a generic failure.
type Fetcher struct {
	cfg           Config
	detector      *crawler.BotDetector
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config, detector *crawler.BotDetector) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	// Block pages ride on 403s; without this their bodies never reach the
	// detector.
	c.ParseHTTPErrorResponse = true

	transport := newHTTPTransport(cfg.ConnectTimeout)
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		detector:      detector,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.Page, error) {
	var result crawler.Page
	var fetchErr error
	start := time.Now()

	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	collector.OnResponse(func(r *colly.Response) {
		result = crawler.Page{
			URL:        url,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			// Keep whatever arrived: block pages often ride on 403s, and
			// the detector needs the body to classify them.
			result = crawler.Page{
				URL:        url,
				FinalURL:   finalURLOf(r, url),
				StatusCode: r.StatusCode,
				Body:       append([]byte(nil), r.Body...),
				Duration:   time.Since(start),
			}
		}
		fetchErr = err
	})

	visitErr, err := f.visit(ctx, collector, url)
	if err != nil {
		return crawler.Page{}, err
	}

	// Classify before failing: block pages often arrive as 403s, so the
	// detector verdict outranks the transport error.
	if f.detector.Blocked(result) {
		return result, fmt.Errorf("fetch %s: %w", url, crawler.ErrBotDetected)
	}
	if fetchErr != nil {
		return result, fmt.Errorf("fetch %s: %w", url, fetchErr)
	}
	if visitErr != nil {
		return result, fmt.Errorf("fetch %s: %w", url, visitErr)
	}
	// Error statuses arrive through OnResponse because their bodies are
	// parsed for the detector; unblocked ones still fail the fetch.
	if result.StatusCode >= http.StatusBadRequest {
		return result, fmt.Errorf("fetch %s: unexpected status %d", url, result.StatusCode)
	}
	return result, nil
}

// visit runs the collector in a goroutine so the context can interrupt the
// wait. The second return value is fatal (cancellation); the first is the
// Visit error left for classification.
func (f *Fetcher) visit(ctx context.Context, collector *colly.Collector, url string) (error, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %s canceled: %w", url, ctx.Err())
	case err := <-done:
		return err, nil
	}
}

func finalURLOf(r *colly.Response, fallback string) string {
	if r.Request != nil && r.Request.URL != nil {
		return r.Request.URL.String()
	}
	return fallback
}

func newHTTPTransport(connectTimeout time.Duration) *http.Transport {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
