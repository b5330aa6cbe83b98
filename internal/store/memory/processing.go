package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quriousri/fda-harvester/internal/crawler"
	"github.com/quriousri/fda-harvester/internal/processing"
)

type featureKey struct {
	documentID  uuid.UUID
	productType string
}

// CreateProcessingSession stores a new second-stage session row.
func (s *Store) CreateProcessingSession(_ context.Context, sess processing.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procSessions[sess.ID] = sess
	return nil
}

// GetProcessingSession returns the session or crawler.ErrSessionNotFound.
func (s *Store) GetProcessingSession(_ context.Context, id uuid.UUID) (processing.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.procSessions[id]
	if !ok {
		return processing.Session{}, crawler.ErrSessionNotFound
	}
	return sess, nil
}

// SetProcessingTotal records how many documents the run will attempt.
func (s *Store) SetProcessingTotal(_ context.Context, id uuid.UUID, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.procSessions[id]
	if !ok {
		return crawler.ErrSessionNotFound
	}
	sess.TotalDocuments = &total
	s.procSessions[id] = sess
	return nil
}

// RecordProcessingOutcome increments the counters for one finished document.
func (s *Store) RecordProcessingOutcome(_ context.Context, id uuid.UUID, success bool, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.procSessions[id]
	if !ok {
		return crawler.ErrSessionNotFound
	}
	sess.ProcessedDocuments++
	if !success {
		sess.FailedDocuments++
		sess.ErrorCount++
		if errText != "" {
			sess.LastError = errText
		}
	}
	s.procSessions[id] = sess
	return nil
}

// FinalizeProcessingSession sets the terminal state once.
func (s *Store) FinalizeProcessingSession(_ context.Context, id uuid.UUID, status processing.SessionStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.procSessions[id]
	if !ok {
		return false, crawler.ErrSessionNotFound
	}
	if sess.Status != processing.RunRunning {
		return false, nil
	}
	sess.Status = status
	sess.CompletedAt = &at
	s.procSessions[id] = sess
	return true, nil
}

// ListPendingDocuments pairs downloaded attachments with documents that
// have no feature row for the product type, oldest document first.
func (s *Store) ListPendingDocuments(_ context.Context, productType string, limit int) ([]processing.PendingDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []processing.PendingDocument
	for _, doc := range s.documents {
		if _, done := s.features[featureKey{documentID: doc.ID, productType: productType}]; done {
			continue
		}
		for key, att := range s.attachments {
			if key.documentID == doc.ID && att.DownloadStatus == crawler.DownloadDone {
				out = append(out, processing.PendingDocument{Document: doc, Attachment: att})
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Document.CreatedAt.Before(out[j].Document.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpsertDocumentFeatures inserts or updates by (source_document_id,
// product_type), keeping the original id and created_at.
func (s *Store) UpsertDocumentFeatures(_ context.Context, rec processing.FeatureRecord) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := featureKey{documentID: rec.SourceDocumentID, productType: rec.ProductType}
	if existing, ok := s.features[key]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	}
	s.features[key] = rec
	return rec.ID, nil
}

// InsertProcessingLog appends one log row.
func (s *Store) InsertProcessingLog(_ context.Context, entry processing.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

// ProcessingLogs returns a copy of the appended log rows.
func (s *Store) ProcessingLogs() []processing.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]processing.LogEntry(nil), s.logs...)
}

// FeatureRows returns a copy of the stored feature rows.
func (s *Store) FeatureRows() []processing.FeatureRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]processing.FeatureRecord, 0, len(s.features))
	for _, rec := range s.features {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
