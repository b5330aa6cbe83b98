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

const documentColumns = `
	id, crawl_session_id, document_url, title, summary, issue_date,
	fda_organization, topic, guidance_status, open_for_comment,
	comment_closing_date, docket_number, guidance_type, regulated_products,
	topics, content_current_date, processing_status, processed_at,
	processing_error, pdf_checksum, pdf_size_bytes, created_at, updated_at`

// UpsertDocument inserts or updates by document_url. The conflict branch
// keeps the original id and created_at, so concurrent upserts of the same
// URL converge on one row.
func (s *Store) UpsertDocument(ctx context.Context, rec crawler.DocumentRecord) (uuid.UUID, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (document_url) DO UPDATE SET
			crawl_session_id = EXCLUDED.crawl_session_id,
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			issue_date = EXCLUDED.issue_date,
			fda_organization = EXCLUDED.fda_organization,
			topic = EXCLUDED.topic,
			guidance_status = EXCLUDED.guidance_status,
			open_for_comment = EXCLUDED.open_for_comment,
			comment_closing_date = EXCLUDED.comment_closing_date,
			docket_number = EXCLUDED.docket_number,
			guidance_type = EXCLUDED.guidance_type,
			regulated_products = EXCLUDED.regulated_products,
			topics = EXCLUDED.topics,
			content_current_date = EXCLUDED.content_current_date,
			processing_status = EXCLUDED.processing_status,
			processed_at = EXCLUDED.processed_at,
			processing_error = EXCLUDED.processing_error,
			pdf_checksum = EXCLUDED.pdf_checksum,
			pdf_size_bytes = EXCLUDED.pdf_size_bytes,
			updated_at = EXCLUDED.updated_at
		RETURNING id`, s.table("documents"), documentColumns)

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query,
		rec.ID,
		rec.SessionID,
		rec.DocumentURL,
		rec.Title,
		rec.Summary,
		rec.IssueDate,
		rec.Organization,
		rec.Topic,
		rec.GuidanceStatus,
		rec.OpenForComment,
		rec.CommentClosingDate,
		rec.DocketNumber,
		rec.GuidanceType,
		rec.RegulatedProducts,
		rec.Topics,
		rec.ContentCurrentDate,
		string(rec.ProcessingStatus),
		rec.ProcessedAt,
		rec.ProcessingError,
		rec.PDFChecksum,
		rec.PDFSizeBytes,
		rec.CreatedAt,
		rec.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, storeErr("upsert document", err)
	}
	return id, nil
}

// GetDocumentByURL loads one document or crawler.ErrDocumentNotFound.
func (s *Store) GetDocumentByURL(ctx context.Context, url string) (crawler.DocumentRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE document_url = $1`,
		documentColumns, s.table("documents"))

	rec, err := scanDocument(s.pool.QueryRow(ctx, query, url))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.DocumentRecord{}, crawler.ErrDocumentNotFound
		}
		return crawler.DocumentRecord{}, storeErr("get document", err)
	}
	return rec, nil
}

// SetDocumentStatus updates the processing state of one document.
func (s *Store) SetDocumentStatus(ctx context.Context, id uuid.UUID, status crawler.ProcessingStatus, errText string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET processing_status = $2, processing_error = $3,
			processed_at = $4, updated_at = $4
		WHERE id = $1`, s.table("documents"))
	tag, err := s.pool.Exec(ctx, query, id, string(status), errText, at)
	if err != nil {
		return storeErr("set document status", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrDocumentNotFound
	}
	return nil
}

func scanDocument(row pgx.Row) (crawler.DocumentRecord, error) {
	var (
		rec       crawler.DocumentRecord
		sessionID *uuid.UUID
		status    string
	)
	err := row.Scan(
		&rec.ID,
		&sessionID,
		&rec.DocumentURL,
		&rec.Title,
		&rec.Summary,
		&rec.IssueDate,
		&rec.Organization,
		&rec.Topic,
		&rec.GuidanceStatus,
		&rec.OpenForComment,
		&rec.CommentClosingDate,
		&rec.DocketNumber,
		&rec.GuidanceType,
		&rec.RegulatedProducts,
		&rec.Topics,
		&rec.ContentCurrentDate,
		&status,
		&rec.ProcessedAt,
		&rec.ProcessingError,
		&rec.PDFChecksum,
		&rec.PDFSizeBytes,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return crawler.DocumentRecord{}, err
	}
	if sessionID != nil {
		rec.SessionID = *sessionID
	}
	rec.ProcessingStatus = crawler.ProcessingStatus(status)
	return rec, nil
}
