// Package processing runs the second-stage pipeline: extract text from
// stored PDFs and ask the model for structured regulatory features.
package processing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/quriousri/fda-harvester/internal/crawler"
)

// SessionStatus mirrors the processing_sessions status column.
type SessionStatus string

// Processing session states.
const (
	RunRunning   SessionStatus = "running"
	RunCompleted SessionStatus = "completed"
	RunFailed    SessionStatus = "failed"
)

// Session is one second-stage run over the harvested corpus.
type Session struct {
	ID          uuid.UUID
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      SessionStatus

	ProductType        string
	TotalDocuments     *int
	ProcessedDocuments int
	FailedDocuments    int

	LastError  string
	ErrorCount int
}

// FeatureRecord is the extracted feature set for one source document.
type FeatureRecord struct {
	ID                  uuid.UUID
	SourceDocumentID    uuid.UUID
	ProcessingSessionID uuid.UUID

	ProductType     string
	ExtractedText   string
	Features        []byte // JSON document
	ConfidenceScore *float64

	ProcessingStatus string
	ProcessingError  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LogEntry is one structured processing log row.
type LogEntry struct {
	ID                  uuid.UUID
	ProcessingSessionID uuid.UUID
	DocumentID          *uuid.UUID
	Level               string
	Message             string
	CreatedAt           time.Time
}

// PendingDocument pairs a harvested document with its stored PDF bytes,
// ready for extraction.
type PendingDocument struct {
	Document   crawler.DocumentRecord
	Attachment crawler.AttachmentRecord
}

// Store is the persistence port for the second stage. It reads stage-one
// rows and appends its own; it never mutates the harvest.
type Store interface {
	CreateProcessingSession(ctx context.Context, s Session) error
	GetProcessingSession(ctx context.Context, id uuid.UUID) (Session, error)
	SetProcessingTotal(ctx context.Context, id uuid.UUID, total int) error
	RecordProcessingOutcome(ctx context.Context, id uuid.UUID, success bool, errText string) error
	FinalizeProcessingSession(ctx context.Context, id uuid.UUID, status SessionStatus, at time.Time) (bool, error)

	// ListPendingDocuments returns downloaded documents that have no
	// feature row for productType yet, oldest first, capped by limit
	// (0 means no cap).
	ListPendingDocuments(ctx context.Context, productType string, limit int) ([]PendingDocument, error)
	UpsertDocumentFeatures(ctx context.Context, rec FeatureRecord) (uuid.UUID, error)
	InsertProcessingLog(ctx context.Context, entry LogEntry) error
}
