package crawler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Fetcher retrieves a single page. Implementations exist for plain HTTP and
// for browser-driven retrieval; both must return ErrBotDetected (wrapped)
// when the response matches a block signature.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Discoverer produces the candidate document URLs for a run. Each call
// re-derives the full set; it does not consume a shared cursor.
type Discoverer interface {
	Discover(ctx context.Context) ([]string, error)
}

// Store is the persistence port for sessions, documents and attachments.
// Every mutation is durable when the call returns; that is what makes
// resume possible.
type Store interface {
	// Migrate applies the schema additively. Safe to run against both fresh
	// and previously-migrated databases.
	Migrate(ctx context.Context) error
	// Reset drops all harvester tables. Destructive; callers must confirm.
	Reset(ctx context.Context) error

	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id uuid.UUID) (Session, error)
	// MarkSessionRunning flips a failed session back to running for resume.
	MarkSessionRunning(ctx context.Context, id uuid.UUID) error
	SetTotalDocuments(ctx context.Context, id uuid.UUID, total int) error
	// RecordOutcome atomically increments processed_documents plus either
	// failed_documents (with error state) or, when the document's attachment
	// was actually transferred, successful_downloads.
	RecordOutcome(ctx context.Context, id uuid.UUID, success, downloaded bool, errText string) error
	// FinalizeSession sets the terminal status and completed_at exactly
	// once. It reports false when the session was already terminal.
	FinalizeSession(ctx context.Context, id uuid.UUID, status SessionStatus, at time.Time) (bool, error)

	// UpsertDocument inserts or updates by document_url, preserving the
	// row's id and created_at. Concurrent upserts of one URL converge to a
	// single row.
	UpsertDocument(ctx context.Context, rec DocumentRecord) (uuid.UUID, error)
	GetDocumentByURL(ctx context.Context, url string) (DocumentRecord, error)
	SetDocumentStatus(ctx context.Context, id uuid.UUID, status ProcessingStatus, errText string, at time.Time) error

	// UpsertAttachment inserts or updates by (document_id, source_url).
	UpsertAttachment(ctx context.Context, rec AttachmentRecord) (uuid.UUID, error)
	GetAttachment(ctx context.Context, documentID uuid.UUID, sourceURL string) (AttachmentRecord, error)
	// ListDownloadedAttachments returns downloaded attachments with their
	// bytes, for export.
	ListDownloadedAttachments(ctx context.Context) ([]AttachmentRecord, error)

	Close()
}

// Hasher computes digests for integrity checks.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record identifiers.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// RateGate paces outbound requests. Acquire blocks until the caller may
// issue the next request to the given URL's host.
type RateGate interface {
	Acquire(ctx context.Context, url string) error
}
