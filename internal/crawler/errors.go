package crawler

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline.
var (
	// ErrBotDetected means the source served a block/redirect signature
	// instead of content. Distinct from a transient fetch failure: it is
	// never retried, it triggers the fallback discovery path instead.
	ErrBotDetected = errors.New("bot detection triggered")

	// ErrSessionNotFound is returned by resume/status for an unknown id.
	ErrSessionNotFound = errors.New("crawl session not found")

	// ErrInvalidResumeState is returned when resuming a session that is
	// already completed.
	ErrInvalidResumeState = errors.New("crawl session already completed")

	ErrDocumentNotFound   = errors.New("document not found")
	ErrAttachmentNotFound = errors.New("attachment not found")

	// ErrStoreUnavailable marks persistence failures that are fatal to the
	// whole session, as opposed to per-document errors.
	ErrStoreUnavailable = errors.New("persistent store unavailable")
)

// FetchError wraps the last error after the retry budget for one URL is
// exhausted. The orchestrator treats it as a per-document failure.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
