// Package memory provides an in-memory crawler.Store used by tests and by
// dry runs that should not touch Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quriousri/fda-harvester/internal/crawler"
	"github.com/quriousri/fda-harvester/internal/processing"
)

type attachmentKey struct {
	documentID uuid.UUID
	sourceURL  string
}

// Store keeps all rows in maps guarded by one mutex. Semantics mirror the
// Postgres store: upserts converge on natural keys, counters increment
// atomically, finalize fires once.
type Store struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]crawler.Session
	documents   map[string]crawler.DocumentRecord // by document_url
	attachments map[attachmentKey]crawler.AttachmentRecord

	procSessions map[uuid.UUID]processing.Session
	features     map[featureKey]processing.FeatureRecord
	logs         []processing.LogEntry

	migrated bool
}

// New returns an empty Store.
func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.sessions = make(map[uuid.UUID]crawler.Session)
	s.documents = make(map[string]crawler.DocumentRecord)
	s.attachments = make(map[attachmentKey]crawler.AttachmentRecord)
	s.procSessions = make(map[uuid.UUID]processing.Session)
	s.features = make(map[featureKey]processing.FeatureRecord)
	s.logs = nil
}

// Migrate marks the store initialized.
func (s *Store) Migrate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrated = true
	return nil
}

// Reset drops everything.
func (s *Store) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

// CreateSession stores a new session row.
func (s *Store) CreateSession(_ context.Context, sess crawler.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

// GetSession returns the session or crawler.ErrSessionNotFound.
func (s *Store) GetSession(_ context.Context, id uuid.UUID) (crawler.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return crawler.Session{}, crawler.ErrSessionNotFound
	}
	return sess, nil
}

// MarkSessionRunning flips the session back to running for resume.
func (s *Store) MarkSessionRunning(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return crawler.ErrSessionNotFound
	}
	sess.Status = crawler.SessionRunning
	sess.CompletedAt = nil
	s.sessions[id] = sess
	return nil
}

// SetTotalDocuments records the discovered document count.
func (s *Store) SetTotalDocuments(_ context.Context, id uuid.UUID, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return crawler.ErrSessionNotFound
	}
	sess.TotalDocuments = &total
	s.sessions[id] = sess
	return nil
}

// RecordOutcome increments the counters for one finished document.
func (s *Store) RecordOutcome(_ context.Context, id uuid.UUID, success, downloaded bool, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return crawler.ErrSessionNotFound
	}
	sess.ProcessedDocuments++
	if success {
		if downloaded {
			sess.SuccessfulDownloads++
		}
	} else {
		sess.FailedDocuments++
		sess.ErrorCount++
		if errText != "" {
			sess.LastError = errText
		}
	}
	s.sessions[id] = sess
	return nil
}

// FinalizeSession sets the terminal state once; later calls are no-ops.
func (s *Store) FinalizeSession(_ context.Context, id uuid.UUID, status crawler.SessionStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false, crawler.ErrSessionNotFound
	}
	if sess.Status != crawler.SessionRunning {
		return false, nil
	}
	sess.Status = status
	sess.CompletedAt = &at
	s.sessions[id] = sess
	return true, nil
}

// UpsertDocument inserts or updates by document_url, keeping the original
// id and created_at.
func (s *Store) UpsertDocument(_ context.Context, rec crawler.DocumentRecord) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.documents[rec.DocumentURL]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	}
	s.documents[rec.DocumentURL] = rec
	return rec.ID, nil
}

// GetDocumentByURL returns the document or crawler.ErrDocumentNotFound.
func (s *Store) GetDocumentByURL(_ context.Context, url string) (crawler.DocumentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.documents[url]
	if !ok {
		return crawler.DocumentRecord{}, crawler.ErrDocumentNotFound
	}
	return rec, nil
}

// SetDocumentStatus updates the processing state of one document.
func (s *Store) SetDocumentStatus(_ context.Context, id uuid.UUID, status crawler.ProcessingStatus, errText string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for url, rec := range s.documents {
		if rec.ID == id {
			rec.ProcessingStatus = status
			rec.ProcessingError = errText
			rec.ProcessedAt = &at
			rec.UpdatedAt = at
			s.documents[url] = rec
			return nil
		}
	}
	return crawler.ErrDocumentNotFound
}

// UpsertAttachment inserts or updates by (document_id, source_url).
func (s *Store) UpsertAttachment(_ context.Context, rec crawler.AttachmentRecord) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attachmentKey{documentID: rec.DocumentID, sourceURL: rec.SourceURL}
	if existing, ok := s.attachments[key]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	}
	s.attachments[key] = rec
	return rec.ID, nil
}

// GetAttachment returns the attachment or crawler.ErrAttachmentNotFound.
func (s *Store) GetAttachment(_ context.Context, documentID uuid.UUID, sourceURL string) (crawler.AttachmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.attachments[attachmentKey{documentID: documentID, sourceURL: sourceURL}]
	if !ok {
		return crawler.AttachmentRecord{}, crawler.ErrAttachmentNotFound
	}
	return rec, nil
}

// ListDownloadedAttachments returns downloaded attachments ordered by
// filename for stable exports.
func (s *Store) ListDownloadedAttachments(context.Context) ([]crawler.AttachmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]crawler.AttachmentRecord, 0, len(s.attachments))
	for _, rec := range s.attachments {
		if rec.DownloadStatus == crawler.DownloadDone {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() {}
