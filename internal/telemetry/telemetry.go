// Package telemetry exposes Prometheus metrics for the harvester.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	pagesFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_pages_fetched_total",
			Help: "Total pages fetched, labeled by status code and fetcher variant.",
		},
		[]string{"code", "fetcher"},
	)

	documentsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_documents_processed_total",
			Help: "Total document pipelines finished, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	attachmentBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_attachment_bytes_total",
			Help: "Total attachment bytes downloaded.",
		},
	)

	attachmentSkipsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_attachment_skips_total",
			Help: "Downloads skipped because the attachment was already stored.",
		},
	)

	botDetectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_bot_detections_total",
			Help: "Responses matching a bot-block signature.",
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_rate_limit_delay_seconds",
			Help:    "Histogram of rate limiter wait durations.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	featuresExtractedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_features_extracted_total",
			Help: "Second-stage feature extractions finished, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_active_workers",
			Help: "Worker goroutines currently mid-pipeline.",
		},
	)
)

// ObservePageFetched records one completed fetch.
func ObservePageFetched(statusCode int, usedBrowser bool) {
	fetcher := "http"
	if usedBrowser {
		fetcher = "browser"
	}
	pagesFetchedTotal.WithLabelValues(strconv.Itoa(statusCode), fetcher).Inc()
}

// ObserveDocumentOutcome records one finished document pipeline.
func ObserveDocumentOutcome(success bool) {
	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	documentsProcessedTotal.WithLabelValues(outcome).Inc()
}

// ObserveAttachmentBytes adds downloaded bytes to the running total.
func ObserveAttachmentBytes(n int64) {
	if n > 0 {
		attachmentBytesTotal.Add(float64(n))
	}
}

// ObserveAttachmentSkipped counts an idempotent download skip.
func ObserveAttachmentSkipped() {
	attachmentSkipsTotal.Inc()
}

// ObserveBotDetection counts a block-signature hit.
func ObserveBotDetection() {
	botDetectionsTotal.Inc()
}

// ObserveRateLimitDelay records time spent waiting on the limiter.
func ObserveRateLimitDelay(host string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveFeatureExtraction records one finished second-stage document.
func ObserveFeatureExtraction(success bool) {
	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	featuresExtractedTotal.WithLabelValues(outcome).Inc()
}

// WorkerStarted/WorkerFinished track pipeline concurrency.
func WorkerStarted()  { activeWorkers.Inc() }
func WorkerFinished() { activeWorkers.Dec() }

// Server is the optional metrics/health listener started alongside a crawl.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer builds a chi router serving /metrics and /healthz on the port.
func NewServer(port int, logger *zap.Logger) *Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in a goroutine until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics listener started", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics listener failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics listener shutdown", zap.Error(err))
	}
}
