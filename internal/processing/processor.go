package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quriousri/fda-harvester/internal/crawler"
	"github.com/quriousri/fda-harvester/internal/llm"
	"github.com/quriousri/fda-harvester/internal/telemetry"
)

// TextExtractor pulls plain text out of stored PDF bytes.
type TextExtractor interface {
	ExtractText(ctx context.Context, content []byte) (string, error)
}

// FeatureExtractor turns document text into structured features.
type FeatureExtractor interface {
	Extract(ctx context.Context, req llm.ExtractionRequest) (llm.DeviceFeatures, error)
}

// RunOptions selects which slice of the corpus a processing run covers.
type RunOptions struct {
	ProductType string
	// Limit caps the number of documents; 0 means all pending.
	Limit int
}

// Summary reports what one processing run did.
type Summary struct {
	SessionID uuid.UUID     `json:"session_id"`
	Status    SessionStatus `json:"status"`
	Total     int           `json:"total_documents"`
	Processed int           `json:"processed_documents"`
	Failed    int           `json:"failed_documents"`
}

// Processor drives the second stage: for each downloaded document without
// a feature row, extract the PDF text and ask the model for features.
// Documents are processed one at a time; the model call dominates and the
// API has its own rate limits.
type Processor struct {
	store    Store
	texts    TextExtractor
	features FeatureExtractor
	clock    crawler.Clock
	ids      crawler.IDGenerator
	logger   *zap.Logger
}

// NewProcessor wires the second-stage collaborators.
func NewProcessor(
	store Store,
	texts TextExtractor,
	features FeatureExtractor,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	logger *zap.Logger,
) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:    store,
		texts:    texts,
		features: features,
		clock:    clock,
		ids:      ids,
		logger:   logger,
	}
}

// Run processes every pending document for the product type. One document's
// failure is counted and logged; only a lost store or a canceled context
// ends the run early, finalizing the session as failed.
func (p *Processor) Run(ctx context.Context, opts RunOptions) (Summary, error) {
	sessID, err := p.ids.NewRawID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate session id: %w", err)
	}

	sess := Session{
		ID:          sessID,
		StartedAt:   p.clock.Now(),
		Status:      RunRunning,
		ProductType: opts.ProductType,
	}
	if err := p.store.CreateProcessingSession(ctx, sess); err != nil {
		return Summary{}, fmt.Errorf("create processing session: %w", err)
	}

	pending, err := p.store.ListPendingDocuments(ctx, opts.ProductType, opts.Limit)
	if err != nil {
		p.finalize(ctx, sessID, RunFailed)
		return Summary{}, fmt.Errorf("list pending documents: %w", err)
	}
	if err := p.store.SetProcessingTotal(ctx, sessID, len(pending)); err != nil {
		p.finalize(ctx, sessID, RunFailed)
		return Summary{}, fmt.Errorf("record total documents: %w", err)
	}

	p.logger.Info("processing starting",
		zap.String("session_id", sessID.String()),
		zap.String("product_type", opts.ProductType),
		zap.Int("documents", len(pending)))

	processed, failed := 0, 0
	for _, doc := range pending {
		if ctx.Err() != nil {
			p.finalize(ctx, sessID, RunFailed)
			return Summary{}, ctx.Err()
		}

		err := p.processOne(ctx, sessID, opts.ProductType, doc)
		if err != nil && (errors.Is(err, crawler.ErrStoreUnavailable) || errors.Is(err, context.Canceled)) {
			p.finalize(ctx, sessID, RunFailed)
			return Summary{}, err
		}

		processed++
		success := err == nil
		if !success {
			failed++
			p.logger.Warn("document processing failed",
				zap.String("document_url", doc.Document.DocumentURL),
				zap.Error(err))
		}
		telemetry.ObserveFeatureExtraction(success)

		errText := ""
		if err != nil {
			errText = err.Error()
		}
		if rerr := p.store.RecordProcessingOutcome(ctx, sessID, success, errText); rerr != nil {
			if errors.Is(rerr, crawler.ErrStoreUnavailable) {
				p.finalize(ctx, sessID, RunFailed)
				return Summary{}, rerr
			}
			p.logger.Warn("could not record processing outcome", zap.Error(rerr))
		}
	}

	p.finalize(ctx, sessID, RunCompleted)
	p.logger.Info("processing finished",
		zap.String("session_id", sessID.String()),
		zap.Int("processed", processed),
		zap.Int("failed", failed))

	return Summary{
		SessionID: sessID,
		Status:    RunCompleted,
		Total:     len(pending),
		Processed: processed,
		Failed:    failed,
	}, nil
}

// processOne runs text extraction and the model call for a single document
// and persists the feature row. Failures leave no feature row so the
// document stays pending for the next run.
func (p *Processor) processOne(ctx context.Context, sessID uuid.UUID, productType string, doc PendingDocument) error {
	text, err := p.texts.ExtractText(ctx, doc.Attachment.Content)
	if err != nil {
		p.log(ctx, sessID, doc.Document.ID, "ERROR", fmt.Sprintf("text extraction failed: %v", err))
		return fmt.Errorf("extract text: %w", err)
	}

	features, err := p.features.Extract(ctx, llm.ExtractionRequest{
		Title:          doc.Document.Title,
		DocumentURL:    doc.Document.DocumentURL,
		Organization:   doc.Document.Organization,
		IssueDate:      doc.Document.IssueDate,
		Topic:          doc.Document.Topic,
		GuidanceStatus: doc.Document.GuidanceStatus,
		Text:           text,
	})
	if err != nil {
		p.log(ctx, sessID, doc.Document.ID, "ERROR", fmt.Sprintf("feature extraction failed: %v", err))
		return fmt.Errorf("extract features: %w", err)
	}

	payload, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}

	recID, err := p.ids.NewRawID()
	if err != nil {
		return fmt.Errorf("generate feature id: %w", err)
	}

	now := p.clock.Now()
	confidence := features.ConfidenceScore
	rec := FeatureRecord{
		ID:                  recID,
		SourceDocumentID:    doc.Document.ID,
		ProcessingSessionID: sessID,
		ProductType:         productType,
		ExtractedText:       text,
		Features:            payload,
		ConfidenceScore:     &confidence,
		ProcessingStatus:    "completed",
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if _, err := p.store.UpsertDocumentFeatures(ctx, rec); err != nil {
		return fmt.Errorf("persist features: %w", err)
	}

	p.log(ctx, sessID, doc.Document.ID, "INFO",
		fmt.Sprintf("extracted features (confidence %.2f)", features.ConfidenceScore))
	return nil
}

// log appends a processing log row, best effort.
func (p *Processor) log(ctx context.Context, sessID, docID uuid.UUID, level, message string) {
	id, err := p.ids.NewRawID()
	if err != nil {
		return
	}
	entry := LogEntry{
		ID:                  id,
		ProcessingSessionID: sessID,
		DocumentID:          &docID,
		Level:               level,
		Message:             message,
		CreatedAt:           p.clock.Now(),
	}
	if err := p.store.InsertProcessingLog(ctx, entry); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn("could not write processing log", zap.Error(err))
	}
}

func (p *Processor) finalize(ctx context.Context, id uuid.UUID, status SessionStatus) {
	// Finalization must survive a canceled run context.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	at := p.clock.Now()
	if _, err := p.store.FinalizeProcessingSession(ctx, id, status, at); err != nil {
		p.logger.Error("could not finalize processing session",
			zap.String("session_id", id.String()), zap.Error(err))
	}
}

// Status loads one processing session for reporting.
func (p *Processor) Status(ctx context.Context, id uuid.UUID) (Session, error) {
	return p.store.GetProcessingSession(ctx, id)
}
