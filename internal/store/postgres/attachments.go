package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quriousri/fda-harvester/internal/crawler"
)

const attachmentColumns = `
	id, document_id, source_url, filename, file_type, pdf_content,
	checksum, size_bytes, download_status, download_error, downloaded_at,
	created_at`

// UpsertAttachment inserts or updates by (document_id, source_url),
// keeping the original id and created_at on conflict.
func (s *Store) UpsertAttachment(ctx context.Context, rec crawler.AttachmentRecord) (uuid.UUID, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (document_id, source_url) DO UPDATE SET
			filename = EXCLUDED.filename,
			file_type = EXCLUDED.file_type,
			pdf_content = EXCLUDED.pdf_content,
			checksum = EXCLUDED.checksum,
			size_bytes = EXCLUDED.size_bytes,
			download_status = EXCLUDED.download_status,
			download_error = EXCLUDED.download_error,
			downloaded_at = EXCLUDED.downloaded_at
		RETURNING id`, s.table("document_attachments"), attachmentColumns)

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query,
		rec.ID,
		rec.DocumentID,
		rec.SourceURL,
		rec.Filename,
		rec.FileType,
		rec.Content,
		rec.Checksum,
		rec.SizeBytes,
		string(rec.DownloadStatus),
		rec.DownloadError,
		rec.DownloadedAt,
		rec.CreatedAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, storeErr("upsert attachment", err)
	}
	return id, nil
}

// GetAttachment loads one attachment, without its content, or
// crawler.ErrAttachmentNotFound. Skipping a re-download only needs the
// status and checksum, so the BYTEA column stays on the server.
func (s *Store) GetAttachment(ctx context.Context, documentID uuid.UUID, sourceURL string) (crawler.AttachmentRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, document_id, source_url, filename, file_type, checksum,
		       size_bytes, download_status, download_error, downloaded_at,
		       created_at
		FROM %s WHERE document_id = $1 AND source_url = $2`,
		s.table("document_attachments"))

	var (
		rec    crawler.AttachmentRecord
		status string
	)
	err := s.pool.QueryRow(ctx, query, documentID, sourceURL).Scan(
		&rec.ID,
		&rec.DocumentID,
		&rec.SourceURL,
		&rec.Filename,
		&rec.FileType,
		&rec.Checksum,
		&rec.SizeBytes,
		&status,
		&rec.DownloadError,
		&rec.DownloadedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.AttachmentRecord{}, crawler.ErrAttachmentNotFound
		}
		return crawler.AttachmentRecord{}, storeErr("get attachment", err)
	}
	rec.DownloadStatus = crawler.DownloadStatus(status)
	return rec, nil
}

// ListDownloadedAttachments returns every downloaded attachment with its
// content, ordered by filename for stable exports.
func (s *Store) ListDownloadedAttachments(ctx context.Context) ([]crawler.AttachmentRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE download_status = $1
		ORDER BY filename`, attachmentColumns, s.table("document_attachments"))

	rows, err := s.pool.Query(ctx, query, string(crawler.DownloadDone))
	if err != nil {
		return nil, storeErr("list attachments", err)
	}
	defer rows.Close()

	var out []crawler.AttachmentRecord
	for rows.Next() {
		var (
			rec    crawler.AttachmentRecord
			status string
		)
		err := rows.Scan(
			&rec.ID,
			&rec.DocumentID,
			&rec.SourceURL,
			&rec.Filename,
			&rec.FileType,
			&rec.Content,
			&rec.Checksum,
			&rec.SizeBytes,
			&status,
			&rec.DownloadError,
			&rec.DownloadedAt,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, storeErr("scan attachment", err)
		}
		rec.DownloadStatus = crawler.DownloadStatus(status)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list attachments", err)
	}
	return out, nil
}
