// Package downloader transfers document attachments and records them with
// integrity checksums.
package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quriousri/fda-harvester/internal/crawler"
	"github.com/quriousri/fda-harvester/internal/hash/sha256"
	"github.com/quriousri/fda-harvester/internal/telemetry"
)

// Config bounds a single transfer.
type Config struct {
	UserAgent string
	// MaxBytes caps one attachment; zero means 100 MiB.
	MaxBytes int64
	Timeout  time.Duration
}

const defaultMaxBytes = 100 << 20

// Result reports one download. Skipped means the attachment was already
// stored with a checksum and no network request was made.
type Result struct {
	Attachment crawler.AttachmentRecord
	Skipped    bool
}

// Downloader streams PDFs through the hasher and upserts the result. The
// stored checksum makes re-crawls cheap: a document whose attachment is
// already downloaded is skipped without touching the network.
type Downloader struct {
	cfg    Config
	client *http.Client
	gate   crawler.RateGate
	store  crawler.Store
	clock  crawler.Clock
	ids    crawler.IDGenerator
	logger *zap.Logger
}

// New builds a Downloader.
func New(cfg Config, gate crawler.RateGate, store crawler.Store, clock crawler.Clock, ids crawler.IDGenerator, logger *zap.Logger) *Downloader {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		gate:   gate,
		store:  store,
		clock:  clock,
		ids:    ids,
		logger: logger,
	}
}

// Download fetches page.PDFURL for the document, hashes it in transit, and
// upserts the attachment row. A prior downloaded attachment with a checksum
// short-circuits the transfer entirely.
func (d *Downloader) Download(ctx context.Context, documentID uuid.UUID, page crawler.DocumentPage) (Result, error) {
	if page.PDFURL == "" {
		return Result{}, fmt.Errorf("document %s has no attachment url", page.DocumentURL)
	}

	existing, err := d.store.GetAttachment(ctx, documentID, page.PDFURL)
	switch {
	case err == nil:
		if existing.DownloadStatus == crawler.DownloadDone && existing.Checksum != "" {
			telemetry.ObserveAttachmentSkipped()
			d.logger.Debug("attachment already downloaded",
				zap.String("source_url", page.PDFURL),
				zap.String("checksum", existing.Checksum))
			return Result{Attachment: existing, Skipped: true}, nil
		}
	case errors.Is(err, crawler.ErrAttachmentNotFound):
	default:
		return Result{}, fmt.Errorf("check existing attachment: %w", err)
	}

	content, checksum, err := d.transfer(ctx, page.PDFURL)
	if err != nil {
		d.recordFailure(ctx, documentID, page, err)
		return Result{}, err
	}

	now := d.clock.Now()
	id, err := d.ids.NewRawID()
	if err != nil {
		return Result{}, fmt.Errorf("generate attachment id: %w", err)
	}
	rec := crawler.AttachmentRecord{
		ID:             id,
		DocumentID:     documentID,
		SourceURL:      page.PDFURL,
		Filename:       crawler.AttachmentFilename(page.IssueDate, page.Title, crawler.MediaID(page.PDFURL), "pdf"),
		FileType:       "pdf",
		Content:        content,
		Checksum:       checksum,
		SizeBytes:      int64(len(content)),
		DownloadStatus: crawler.DownloadDone,
		DownloadedAt:   &now,
		CreatedAt:      now,
	}
	if _, err := d.store.UpsertAttachment(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("persist attachment: %w", err)
	}

	telemetry.ObserveAttachmentBytes(rec.SizeBytes)
	d.logger.Info("attachment downloaded",
		zap.String("filename", rec.Filename),
		zap.Int64("size_bytes", rec.SizeBytes))
	return Result{Attachment: rec}, nil
}

// transfer performs the GET, hashing bytes as they arrive. A body larger
// than the configured cap aborts mid-stream.
func (d *Downloader) transfer(ctx context.Context, url string) ([]byte, string, error) {
	if d.gate != nil {
		if err := d.gate.Acquire(ctx, url); err != nil {
			return nil, "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request %s: %w", url, err)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download %s: unexpected status %d", url, resp.StatusCode)
	}

	digest := sha256.NewStream()
	var buf bytes.Buffer
	limited := io.LimitReader(resp.Body, d.cfg.MaxBytes+1)
	n, err := buf.ReadFrom(io.TeeReader(limited, digest))
	if err != nil {
		return nil, "", fmt.Errorf("download %s: read body: %w", url, err)
	}
	if n > d.cfg.MaxBytes {
		return nil, "", fmt.Errorf("download %s: attachment exceeds %d byte cap", url, d.cfg.MaxBytes)
	}
	return buf.Bytes(), digest.Sum(), nil
}

// recordFailure upserts a failed attachment row so resume can tell a
// never-attempted download from a broken one. Best effort: the original
// transfer error is what the caller reports.
func (d *Downloader) recordFailure(ctx context.Context, documentID uuid.UUID, page crawler.DocumentPage, cause error) {
	id, err := d.ids.NewRawID()
	if err != nil {
		return
	}
	rec := crawler.AttachmentRecord{
		ID:             id,
		DocumentID:     documentID,
		SourceURL:      page.PDFURL,
		Filename:       crawler.AttachmentFilename(page.IssueDate, page.Title, crawler.MediaID(page.PDFURL), "pdf"),
		FileType:       "pdf",
		DownloadStatus: crawler.DownloadFailed,
		DownloadError:  cause.Error(),
		CreatedAt:      d.clock.Now(),
	}
	if _, err := d.store.UpsertAttachment(ctx, rec); err != nil {
		d.logger.Warn("could not record failed download", zap.Error(err))
	}
}
