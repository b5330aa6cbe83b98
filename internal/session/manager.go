// Package session manages crawl session lifecycle: creation, resume,
// outcome accounting and finalization.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quriousri/fda-harvester/internal/crawler"
	"github.com/quriousri/fda-harvester/internal/telemetry"
)

// Manager owns session rows. All durable state lives in the store; the
// manager adds the lifecycle rules on top.
type Manager struct {
	store  crawler.Store
	clock  crawler.Clock
	ids    crawler.IDGenerator
	logger *zap.Logger
}

// NewManager builds a Manager.
func NewManager(store crawler.Store, clock crawler.Clock, ids crawler.IDGenerator, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, clock: clock, ids: ids, logger: logger}
}

// Open creates a new running session with the configuration snapshot that
// status and resume will later report.
func (m *Manager) Open(ctx context.Context, cfg crawler.SessionConfig) (crawler.Session, error) {
	id, err := m.ids.NewRawID()
	if err != nil {
		return crawler.Session{}, fmt.Errorf("generate session id: %w", err)
	}
	sess := crawler.Session{
		ID:        id,
		Status:    crawler.SessionRunning,
		StartedAt: m.clock.Now(),
		Config:    cfg,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return crawler.Session{}, fmt.Errorf("create session: %w", err)
	}
	m.logger.Info("crawl session opened",
		zap.String("session_id", id.String()),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Float64("rate_limit", cfg.RateLimit),
		zap.Int("test_limit", cfg.TestLimit))
	return sess, nil
}

// Resume reopens an interrupted session. Completed sessions cannot be
// resumed; failed or still-running ones are flipped back to running and
// picked up where the counters left off.
func (m *Manager) Resume(ctx context.Context, id uuid.UUID) (crawler.Session, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return crawler.Session{}, err
	}
	if sess.Status == crawler.SessionCompleted {
		return crawler.Session{}, fmt.Errorf("resume session %s: %w", id, crawler.ErrInvalidResumeState)
	}
	if sess.Status != crawler.SessionRunning {
		if err := m.store.MarkSessionRunning(ctx, id); err != nil {
			return crawler.Session{}, fmt.Errorf("reopen session %s: %w", id, err)
		}
		sess.Status = crawler.SessionRunning
		sess.CompletedAt = nil
	}
	m.logger.Info("crawl session resumed",
		zap.String("session_id", id.String()),
		zap.Int("processed_documents", sess.ProcessedDocuments),
		zap.Int("failed_documents", sess.FailedDocuments))
	return sess, nil
}

// Status returns the current session row.
func (m *Manager) Status(ctx context.Context, id uuid.UUID) (crawler.Session, error) {
	return m.store.GetSession(ctx, id)
}

// SetTotal records how many documents discovery produced for this run.
func (m *Manager) SetTotal(ctx context.Context, id uuid.UUID, total int) error {
	return m.store.SetTotalDocuments(ctx, id, total)
}

// RecordOutcome accounts one finished document. The increment is a single
// atomic store operation, so concurrent workers never lose counts.
func (m *Manager) RecordOutcome(ctx context.Context, id uuid.UUID, outcome crawler.Outcome) error {
	errText := ""
	success := outcome.Err == nil
	if !success {
		errText = outcome.Err.Error()
	}
	telemetry.ObserveDocumentOutcome(success)
	if err := m.store.RecordOutcome(ctx, id, success, outcome.Downloaded, errText); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// Finalize moves the session to a terminal status exactly once. Repeat
// calls, including races between a signal handler and the main loop, leave
// the first terminal state in place.
func (m *Manager) Finalize(ctx context.Context, id uuid.UUID, status crawler.SessionStatus) error {
	changed, err := m.store.FinalizeSession(ctx, id, status, m.clock.Now())
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	if !changed {
		m.logger.Debug("session already finalized", zap.String("session_id", id.String()))
		return nil
	}
	m.logger.Info("crawl session finalized",
		zap.String("session_id", id.String()),
		zap.String("status", string(status)))
	return nil
}

// Summary is the status view printed by the CLI.
type Summary struct {
	ID                  string  `json:"id"`
	Status              string  `json:"status"`
	StartedAt           string  `json:"started_at"`
	CompletedAt         string  `json:"completed_at,omitempty"`
	TotalDocuments      *int    `json:"total_documents"`
	ProcessedDocuments  int     `json:"processed_documents"`
	SuccessfulDownloads int     `json:"successful_downloads"`
	FailedDocuments     int     `json:"failed_documents"`
	ErrorCount          int     `json:"error_count"`
	LastError           string  `json:"last_error,omitempty"`
	Concurrency         int     `json:"max_concurrency"`
	RateLimit           float64 `json:"rate_limit"`
	TestLimit           int     `json:"test_limit,omitempty"`
}

// Summarize renders a session for display.
func Summarize(sess crawler.Session) Summary {
	s := Summary{
		ID:                  sess.ID.String(),
		Status:              string(sess.Status),
		StartedAt:           sess.StartedAt.Format(time.RFC3339),
		TotalDocuments:      sess.TotalDocuments,
		ProcessedDocuments:  sess.ProcessedDocuments,
		SuccessfulDownloads: sess.SuccessfulDownloads,
		FailedDocuments:     sess.FailedDocuments,
		ErrorCount:          sess.ErrorCount,
		LastError:           sess.LastError,
		Concurrency:         sess.Config.Concurrency,
		RateLimit:           sess.Config.RateLimit,
		TestLimit:           sess.Config.TestLimit,
	}
	if sess.CompletedAt != nil {
		s.CompletedAt = sess.CompletedAt.Format(time.RFC3339)
	}
	return s
}
