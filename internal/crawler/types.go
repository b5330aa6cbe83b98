package crawler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of a crawl session.
type SessionStatus string

// Session status values persisted in the sessions table.
const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// ProcessingStatus tracks the per-document pipeline outcome.
type ProcessingStatus string

// Document processing states. A document never regresses automatically.
const (
	DocPending    ProcessingStatus = "pending"
	DocProcessing ProcessingStatus = "processing"
	DocCompleted  ProcessingStatus = "completed"
	DocFailed     ProcessingStatus = "failed"
)

// DownloadStatus tracks an attachment's transfer state.
type DownloadStatus string

// Attachment download states. A partial transfer never reaches Downloaded.
const (
	DownloadPending DownloadStatus = "pending"
	DownloadDone    DownloadStatus = "downloaded"
	DownloadFailed  DownloadStatus = "failed"
)

// SessionConfig is the configuration snapshot recorded when a session is
// created, so a resumed run can report what it originally ran with.
type SessionConfig struct {
	Concurrency int
	RateLimit   float64
	TestLimit   int // 0 means no limit
}

// Session is one end-to-end run of the harvester.
type Session struct {
	ID          uuid.UUID
	Status      SessionStatus
	StartedAt   time.Time
	CompletedAt *time.Time

	TotalDocuments      *int
	ProcessedDocuments  int
	SuccessfulDownloads int
	FailedDocuments     int

	Config SessionConfig

	LastError  string
	ErrorCount int
}

// DocumentRecord is the persisted metadata for one guidance document.
// document_url is the natural identity; all source-page fields are optional
// because the pages vary.
type DocumentRecord struct {
	ID          uuid.UUID
	SessionID   uuid.UUID
	DocumentURL string

	Title              string
	Summary            string
	IssueDate          string
	Organization       string
	Topic              string
	GuidanceStatus     string
	OpenForComment     *bool
	CommentClosingDate string
	DocketNumber       string
	GuidanceType       string

	// Sidebar extras added after the initial schema shipped; the migration
	// path adds these columns with existence checks.
	RegulatedProducts  string
	Topics             string
	ContentCurrentDate string

	ProcessingStatus ProcessingStatus
	ProcessedAt      *time.Time
	ProcessingError  string

	PDFChecksum  string
	PDFSizeBytes int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AttachmentRecord is a binary file belonging to one document, unique per
// (document_id, source_url).
type AttachmentRecord struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	SourceURL  string
	Filename   string
	FileType   string

	Content   []byte
	Checksum  string
	SizeBytes int64

	DownloadStatus DownloadStatus
	DownloadError  string
	DownloadedAt   *time.Time
	CreatedAt      time.Time
}

// DocumentPage is the parser's view of a fetched detail page.
type DocumentPage struct {
	DocumentURL string

	Title              string
	Summary            string
	IssueDate          string
	Organization       string
	Topic              string
	GuidanceStatus     string
	OpenForComment     *bool
	CommentClosingDate string
	DocketNumber       string
	GuidanceType       string
	RegulatedProducts  string
	Topics             string
	ContentCurrentDate string

	// PDFURL is the attachment link found on the page, already absolute.
	PDFURL string
}

// Page is the raw result of fetching one URL.
type Page struct {
	URL         string
	FinalURL    string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
	UsedBrowser bool
}

// Outcome records how one document's pipeline ended. Downloaded reports
// whether an attachment was actually transferred; it drives the session's
// successful_downloads counter.
type Outcome struct {
	DocumentURL string
	DocumentID  uuid.UUID
	Downloaded  bool
	Err         error
}
