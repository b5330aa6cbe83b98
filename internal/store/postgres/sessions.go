package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quriousri/fda-harvester/internal/crawler"
)

// CreateSession inserts a new crawl session row.
func (s *Store) CreateSession(ctx context.Context, sess crawler.Session) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
			(id, status, started_at, completed_at, total_documents,
			 processed_documents, successful_downloads, failed_documents,
			 max_concurrency, rate_limit, test_limit, last_error, error_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.table("crawl_sessions"))
	_, err := s.pool.Exec(ctx, query,
		sess.ID,
		string(sess.Status),
		sess.StartedAt,
		sess.CompletedAt,
		sess.TotalDocuments,
		sess.ProcessedDocuments,
		sess.SuccessfulDownloads,
		sess.FailedDocuments,
		sess.Config.Concurrency,
		sess.Config.RateLimit,
		sess.Config.TestLimit,
		sess.LastError,
		sess.ErrorCount,
	)
	return storeErr("create session", err)
}

// GetSession loads one session or crawler.ErrSessionNotFound.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (crawler.Session, error) {
	query := fmt.Sprintf(`
		SELECT id, status, started_at, completed_at, total_documents,
		       processed_documents, successful_downloads, failed_documents,
		       max_concurrency, rate_limit, test_limit, last_error, error_count
		FROM %s WHERE id = $1`, s.table("crawl_sessions"))

	var (
		sess   crawler.Session
		status string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&sess.ID,
		&status,
		&sess.StartedAt,
		&sess.CompletedAt,
		&sess.TotalDocuments,
		&sess.ProcessedDocuments,
		&sess.SuccessfulDownloads,
		&sess.FailedDocuments,
		&sess.Config.Concurrency,
		&sess.Config.RateLimit,
		&sess.Config.TestLimit,
		&sess.LastError,
		&sess.ErrorCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Session{}, crawler.ErrSessionNotFound
		}
		return crawler.Session{}, storeErr("get session", err)
	}
	sess.Status = crawler.SessionStatus(status)
	return sess, nil
}

// MarkSessionRunning reopens a session for resume.
func (s *Store) MarkSessionRunning(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`
		UPDATE %s SET status = $2, completed_at = NULL WHERE id = $1`,
		s.table("crawl_sessions"))
	tag, err := s.pool.Exec(ctx, query, id, string(crawler.SessionRunning))
	if err != nil {
		return storeErr("mark session running", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrSessionNotFound
	}
	return nil
}

// SetTotalDocuments records the discovered document count.
func (s *Store) SetTotalDocuments(ctx context.Context, id uuid.UUID, total int) error {
	query := fmt.Sprintf(`
		UPDATE %s SET total_documents = $2 WHERE id = $1`,
		s.table("crawl_sessions"))
	tag, err := s.pool.Exec(ctx, query, id, total)
	if err != nil {
		return storeErr("set total documents", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrSessionNotFound
	}
	return nil
}

// RecordOutcome increments the session counters in a single atomic UPDATE,
// so concurrent workers never lose a count.
func (s *Store) RecordOutcome(ctx context.Context, id uuid.UUID, success, downloaded bool, errText string) error {
	var query string
	var args []any
	switch {
	case success && downloaded:
		query = fmt.Sprintf(`
			UPDATE %s SET
				processed_documents = processed_documents + 1,
				successful_downloads = successful_downloads + 1
			WHERE id = $1`, s.table("crawl_sessions"))
		args = []any{id}
	case success:
		// Document finished without an attachment transfer; it counts as
		// processed but not as a download.
		query = fmt.Sprintf(`
			UPDATE %s SET
				processed_documents = processed_documents + 1
			WHERE id = $1`, s.table("crawl_sessions"))
		args = []any{id}
	default:
		query = fmt.Sprintf(`
			UPDATE %s SET
				processed_documents = processed_documents + 1,
				failed_documents = failed_documents + 1,
				error_count = error_count + 1,
				last_error = $2
			WHERE id = $1`, s.table("crawl_sessions"))
		args = []any{id, errText}
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return storeErr("record outcome", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrSessionNotFound
	}
	return nil
}

// FinalizeSession sets the terminal status once. The status guard makes a
// repeat call affect zero rows instead of overwriting the first result.
func (s *Store) FinalizeSession(ctx context.Context, id uuid.UUID, status crawler.SessionStatus, at time.Time) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET status = $2, completed_at = $3
		WHERE id = $1 AND status = $4`, s.table("crawl_sessions"))
	tag, err := s.pool.Exec(ctx, query, id, string(status), at, string(crawler.SessionRunning))
	if err != nil {
		return false, storeErr("finalize session", err)
	}
	return tag.RowsAffected() > 0, nil
}
