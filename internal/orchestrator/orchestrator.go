// Package orchestrator drives a crawl session: discovery, a bounded worker
// pool, and the per-document fetch, parse, download, persist pipeline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quriousri/fda-harvester/internal/crawler"
	"github.com/quriousri/fda-harvester/internal/downloader"
	"github.com/quriousri/fda-harvester/internal/parser"
	"github.com/quriousri/fda-harvester/internal/session"
	"github.com/quriousri/fda-harvester/internal/telemetry"
)

// Orchestrator wires the pipeline collaborators together for one run.
type Orchestrator struct {
	sessions   *session.Manager
	discoverer crawler.Discoverer
	fetcher    crawler.Fetcher
	parser     *parser.Parser
	downloader *downloader.Downloader
	store      crawler.Store
	clock      crawler.Clock
	ids        crawler.IDGenerator
	logger     *zap.Logger
}

// New builds an Orchestrator.
func New(
	sessions *session.Manager,
	discoverer crawler.Discoverer,
	fetcher crawler.Fetcher,
	p *parser.Parser,
	dl *downloader.Downloader,
	store crawler.Store,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		sessions:   sessions,
		discoverer: discoverer,
		fetcher:    fetcher,
		parser:     p,
		downloader: dl,
		store:      store,
		clock:      clock,
		ids:        ids,
		logger:     logger,
	}
}

// Run executes the session to completion. One document's failure never
// blocks the others; only a lost store or a canceled context ends the run
// early, finalizing the session as failed.
func (o *Orchestrator) Run(ctx context.Context, sess crawler.Session) error {
	urls, err := o.discoverer.Discover(ctx)
	if err != nil {
		ferr := fmt.Errorf("discover documents: %w", err)
		o.finalize(ctx, sess.ID, crawler.SessionFailed)
		return ferr
	}
	if limit := sess.Config.TestLimit; limit > 0 && len(urls) > limit {
		urls = urls[:limit]
		o.logger.Info("document list truncated for test run", zap.Int("limit", limit))
	}

	if err := o.sessions.SetTotal(ctx, sess.ID, len(urls)); err != nil {
		o.finalize(ctx, sess.ID, crawler.SessionFailed)
		return fmt.Errorf("record total documents: %w", err)
	}

	o.logger.Info("crawl starting",
		zap.String("session_id", sess.ID.String()),
		zap.Int("documents", len(urls)),
		zap.Int("concurrency", sess.Config.Concurrency))

	fatal := o.runPool(ctx, sess, urls)
	if fatal != nil {
		o.finalize(ctx, sess.ID, crawler.SessionFailed)
		return fatal
	}

	o.finalize(ctx, sess.ID, crawler.SessionCompleted)
	return nil
}

// runPool fans the URL list out to Concurrency workers. The first fatal
// error cancels admission; per-document errors are recorded and swallowed.
func (o *Orchestrator) runPool(ctx context.Context, sess crawler.Session, urls []string) error {
	workers := sess.Config.Concurrency
	if workers < 1 {
		workers = 1
	}

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan string)
	var (
		wg       sync.WaitGroup
		fatalMu  sync.Mutex
		fatalErr error
	)
	abort := func(err error) {
		fatalMu.Lock()
		if fatalErr == nil {
			fatalErr = err
		}
		fatalMu.Unlock()
		cancel()
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for url := range jobs {
				if poolCtx.Err() != nil {
					return
				}
				o.handleDocument(poolCtx, sess.ID, url, abort)
			}
		}()
	}

feed:
	for _, url := range urls {
		select {
		case jobs <- url:
		case <-poolCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	fatalMu.Lock()
	defer fatalMu.Unlock()
	if fatalErr != nil {
		return fatalErr
	}
	return ctx.Err()
}

// handleDocument runs one document pipeline and records its outcome. Store
// loss is escalated through abort; everything else stays per-document.
func (o *Orchestrator) handleDocument(ctx context.Context, sessionID uuid.UUID, url string, abort func(error)) {
	telemetry.WorkerStarted()
	defer telemetry.WorkerFinished()

	outcome, skipped, err := o.processDocument(ctx, sessionID, url)
	if err != nil {
		if errors.Is(err, crawler.ErrStoreUnavailable) {
			abort(err)
			return
		}
		outcome = crawler.Outcome{DocumentURL: url, Err: err}
	}
	if skipped {
		return
	}

	if rerr := o.sessions.RecordOutcome(ctx, sessionID, outcome); rerr != nil {
		if errors.Is(rerr, crawler.ErrStoreUnavailable) {
			abort(rerr)
			return
		}
		o.logger.Warn("could not record outcome", zap.String("url", url), zap.Error(rerr))
	}
	if outcome.Err != nil {
		o.logger.Warn("document failed", zap.String("url", url), zap.Error(outcome.Err))
	} else {
		o.logger.Debug("document processed", zap.String("url", url))
	}
}

// processDocument is the sequential per-document pipeline. A document that
// was already completed in a previous run is skipped without counting, so
// resume and re-crawl never inflate the session counters.
func (o *Orchestrator) processDocument(ctx context.Context, sessionID uuid.UUID, url string) (crawler.Outcome, bool, error) {
	existing, err := o.store.GetDocumentByURL(ctx, url)
	switch {
	case err == nil:
		if existing.ProcessingStatus == crawler.DocCompleted {
			o.logger.Debug("document already completed", zap.String("url", url))
			return crawler.Outcome{}, true, nil
		}
	case errors.Is(err, crawler.ErrDocumentNotFound):
	default:
		return crawler.Outcome{}, false, err
	}

	page, err := o.fetcher.Fetch(ctx, url)
	if err != nil {
		ferr := fmt.Errorf("fetch document: %w", err)
		if serr := o.markExistingFailed(ctx, existing.ID, ferr); serr != nil {
			return crawler.Outcome{}, false, serr
		}
		return crawler.Outcome{}, false, ferr
	}

	parsed, err := o.parser.Parse(page)
	if err != nil {
		perr := fmt.Errorf("parse document: %w", err)
		if serr := o.markExistingFailed(ctx, existing.ID, perr); serr != nil {
			return crawler.Outcome{}, false, serr
		}
		return crawler.Outcome{}, false, perr
	}

	recID := existing.ID
	if recID == uuid.Nil {
		recID, err = o.ids.NewRawID()
		if err != nil {
			return crawler.Outcome{}, false, fmt.Errorf("generate document id: %w", err)
		}
	}

	now := o.clock.Now()
	rec := documentRecord(sessionID, parsed, recID)
	rec.ProcessingStatus = crawler.DocProcessing
	rec.CreatedAt = now
	rec.UpdatedAt = now

	docID, err := o.store.UpsertDocument(ctx, rec)
	if err != nil {
		return crawler.Outcome{}, false, fmt.Errorf("persist document: %w", err)
	}

	downloaded := false
	if parsed.PDFURL != "" {
		res, derr := o.downloader.Download(ctx, docID, parsed)
		if derr != nil {
			if errors.Is(derr, crawler.ErrStoreUnavailable) {
				return crawler.Outcome{}, false, derr
			}
			if serr := o.store.SetDocumentStatus(ctx, docID, crawler.DocFailed, derr.Error(), o.clock.Now()); serr != nil {
				if errors.Is(serr, crawler.ErrStoreUnavailable) {
					return crawler.Outcome{}, false, serr
				}
				o.logger.Warn("could not mark document failed", zap.Error(serr))
			}
			return crawler.Outcome{}, false, fmt.Errorf("download attachment: %w", derr)
		}
		downloaded = true
		rec.PDFChecksum = res.Attachment.Checksum
		rec.PDFSizeBytes = res.Attachment.SizeBytes
	}

	done := o.clock.Now()
	rec.ID = docID
	rec.ProcessingStatus = crawler.DocCompleted
	rec.ProcessedAt = &done
	rec.UpdatedAt = done
	if _, err := o.store.UpsertDocument(ctx, rec); err != nil {
		return crawler.Outcome{}, false, fmt.Errorf("finish document: %w", err)
	}

	return crawler.Outcome{
		DocumentURL: url,
		DocumentID:  docID,
		Downloaded:  downloaded,
	}, false, nil
}

// markExistingFailed records a fetch or parse failure against a document
// row left over from a previous run, so its status never goes stale. New
// URLs have no row yet and nothing to mark. Only store loss propagates.
func (o *Orchestrator) markExistingFailed(ctx context.Context, id uuid.UUID, cause error) error {
	if id == uuid.Nil {
		return nil
	}
	err := o.store.SetDocumentStatus(ctx, id, crawler.DocFailed, cause.Error(), o.clock.Now())
	if err != nil {
		if errors.Is(err, crawler.ErrStoreUnavailable) {
			return err
		}
		o.logger.Warn("could not mark document failed", zap.Error(err))
	}
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, id uuid.UUID, status crawler.SessionStatus) {
	// Finalization must survive a canceled crawl context.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := o.sessions.Finalize(ctx, id, status); err != nil {
		o.logger.Error("could not finalize session", zap.String("session_id", id.String()), zap.Error(err))
	}
}

// documentRecord maps parsed page metadata onto a store row.
func documentRecord(sessionID uuid.UUID, p crawler.DocumentPage, existingID uuid.UUID) crawler.DocumentRecord {
	return crawler.DocumentRecord{
		ID:                 existingID,
		SessionID:          sessionID,
		DocumentURL:        p.DocumentURL,
		Title:              p.Title,
		Summary:            p.Summary,
		IssueDate:          p.IssueDate,
		Organization:       p.Organization,
		Topic:              p.Topic,
		GuidanceStatus:     p.GuidanceStatus,
		OpenForComment:     p.OpenForComment,
		CommentClosingDate: p.CommentClosingDate,
		DocketNumber:       p.DocketNumber,
		GuidanceType:       p.GuidanceType,
		RegulatedProducts:  p.RegulatedProducts,
		Topics:             p.Topics,
		ContentCurrentDate: p.ContentCurrentDate,
	}
}
