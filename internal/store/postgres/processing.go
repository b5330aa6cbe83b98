package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quriousri/fda-harvester/internal/crawler"
	"github.com/quriousri/fda-harvester/internal/processing"
)

// CreateProcessingSession inserts a second-stage session row.
func (s *Store) CreateProcessingSession(ctx context.Context, sess processing.Session) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
			(id, started_at, completed_at, status, product_type,
			 total_documents, processed_documents, failed_documents,
			 last_error, error_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.table("processing_sessions"))
	_, err := s.pool.Exec(ctx, query,
		sess.ID,
		sess.StartedAt,
		sess.CompletedAt,
		string(sess.Status),
		sess.ProductType,
		sess.TotalDocuments,
		sess.ProcessedDocuments,
		sess.FailedDocuments,
		sess.LastError,
		sess.ErrorCount,
	)
	return storeErr("create processing session", err)
}

// GetProcessingSession loads one second-stage session.
func (s *Store) GetProcessingSession(ctx context.Context, id uuid.UUID) (processing.Session, error) {
	query := fmt.Sprintf(`
		SELECT id, started_at, completed_at, status, product_type,
		       total_documents, processed_documents, failed_documents,
		       last_error, error_count
		FROM %s WHERE id = $1`, s.table("processing_sessions"))

	var (
		sess   processing.Session
		status string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&sess.ID,
		&sess.StartedAt,
		&sess.CompletedAt,
		&status,
		&sess.ProductType,
		&sess.TotalDocuments,
		&sess.ProcessedDocuments,
		&sess.FailedDocuments,
		&sess.LastError,
		&sess.ErrorCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return processing.Session{}, crawler.ErrSessionNotFound
		}
		return processing.Session{}, storeErr("get processing session", err)
	}
	sess.Status = processing.SessionStatus(status)
	return sess, nil
}

// SetProcessingTotal records how many documents the run will attempt.
func (s *Store) SetProcessingTotal(ctx context.Context, id uuid.UUID, total int) error {
	query := fmt.Sprintf(`UPDATE %s SET total_documents = $2 WHERE id = $1`,
		s.table("processing_sessions"))
	tag, err := s.pool.Exec(ctx, query, id, total)
	if err != nil {
		return storeErr("set processing total", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrSessionNotFound
	}
	return nil
}

// RecordProcessingOutcome increments the counters atomically.
func (s *Store) RecordProcessingOutcome(ctx context.Context, id uuid.UUID, success bool, errText string) error {
	var query string
	var args []any
	if success {
		query = fmt.Sprintf(`
			UPDATE %s SET processed_documents = processed_documents + 1
			WHERE id = $1`, s.table("processing_sessions"))
		args = []any{id}
	} else {
		query = fmt.Sprintf(`
			UPDATE %s SET
				processed_documents = processed_documents + 1,
				failed_documents = failed_documents + 1,
				error_count = error_count + 1,
				last_error = $2
			WHERE id = $1`, s.table("processing_sessions"))
		args = []any{id, errText}
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return storeErr("record processing outcome", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrSessionNotFound
	}
	return nil
}

// FinalizeProcessingSession sets the terminal status once.
func (s *Store) FinalizeProcessingSession(ctx context.Context, id uuid.UUID, status processing.SessionStatus, at time.Time) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET status = $2, completed_at = $3
		WHERE id = $1 AND status = $4`, s.table("processing_sessions"))
	tag, err := s.pool.Exec(ctx, query, id, string(status), at, string(processing.RunRunning))
	if err != nil {
		return false, storeErr("finalize processing session", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListPendingDocuments joins downloaded attachments against documents that
// have no feature row for this product type yet.
func (s *Store) ListPendingDocuments(ctx context.Context, productType string, limit int) ([]processing.PendingDocument, error) {
	query := fmt.Sprintf(`
		SELECT d.id, d.document_url, d.title, d.summary, d.issue_date,
		       d.fda_organization, d.topic, d.guidance_status,
		       a.id, a.source_url, a.filename, a.pdf_content, a.checksum,
		       a.size_bytes
		FROM %s d
		JOIN %s a ON a.document_id = d.id AND a.download_status = $1
		WHERE NOT EXISTS (
			SELECT 1 FROM %s f
			WHERE f.source_document_id = d.id AND f.product_type = $2
		)
		ORDER BY d.created_at
		LIMIT NULLIF($3, 0)`,
		s.table("documents"),
		s.table("document_attachments"),
		s.table("document_features"))

	rows, err := s.pool.Query(ctx, query, string(crawler.DownloadDone), productType, limit)
	if err != nil {
		return nil, storeErr("list pending documents", err)
	}
	defer rows.Close()

	var out []processing.PendingDocument
	for rows.Next() {
		var p processing.PendingDocument
		err := rows.Scan(
			&p.Document.ID,
			&p.Document.DocumentURL,
			&p.Document.Title,
			&p.Document.Summary,
			&p.Document.IssueDate,
			&p.Document.Organization,
			&p.Document.Topic,
			&p.Document.GuidanceStatus,
			&p.Attachment.ID,
			&p.Attachment.SourceURL,
			&p.Attachment.Filename,
			&p.Attachment.Content,
			&p.Attachment.Checksum,
			&p.Attachment.SizeBytes,
		)
		if err != nil {
			return nil, storeErr("scan pending document", err)
		}
		p.Attachment.DocumentID = p.Document.ID
		p.Attachment.DownloadStatus = crawler.DownloadDone
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list pending documents", err)
	}
	return out, nil
}

// UpsertDocumentFeatures inserts or updates by (source_document_id,
// product_type), keeping the original id and created_at.
func (s *Store) UpsertDocumentFeatures(ctx context.Context, rec processing.FeatureRecord) (uuid.UUID, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s
			(id, source_document_id, processing_session_id, product_type,
			 extracted_text, features, confidence_score, processing_status,
			 processing_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (source_document_id, product_type) DO UPDATE SET
			processing_session_id = EXCLUDED.processing_session_id,
			extracted_text = EXCLUDED.extracted_text,
			features = EXCLUDED.features,
			confidence_score = EXCLUDED.confidence_score,
			processing_status = EXCLUDED.processing_status,
			processing_error = EXCLUDED.processing_error,
			updated_at = EXCLUDED.updated_at
		RETURNING id`, s.table("document_features"))

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query,
		rec.ID,
		rec.SourceDocumentID,
		rec.ProcessingSessionID,
		rec.ProductType,
		rec.ExtractedText,
		rec.Features,
		rec.ConfidenceScore,
		rec.ProcessingStatus,
		rec.ProcessingError,
		rec.CreatedAt,
		rec.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, storeErr("upsert document features", err)
	}
	return id, nil
}

// InsertProcessingLog appends one log row.
func (s *Store) InsertProcessingLog(ctx context.Context, entry processing.LogEntry) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
			(id, processing_session_id, document_id, level, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, s.table("processing_logs"))
	_, err := s.pool.Exec(ctx, query,
		entry.ID,
		entry.ProcessingSessionID,
		entry.DocumentID,
		entry.Level,
		entry.Message,
		entry.CreatedAt,
	)
	return storeErr("insert processing log", err)
}
