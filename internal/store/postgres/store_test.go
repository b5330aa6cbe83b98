package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/quriousri/fda-harvester/internal/crawler"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, "source")
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPool_RejectsBadSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "bad-schema;drop")
	require.Error(t, err)

	_, err = NewWithPool(nil, "source")
	require.Error(t, err)
}

func TestMigrate_RunsEveryStatement(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	for range store.migrationStatements() {
		mock.ExpectExec(".*").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_StatementsAreExistenceChecked(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t)
	for _, stmt := range store.migrationStatements() {
		require.Regexp(t, `IF NOT EXISTS`, stmt)
	}
}

func TestCreateAndGetSession(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()
	id := uuid.New()
	started := time.Unix(1700000000, 0).UTC()

	sess := crawler.Session{
		ID:        id,
		Status:    crawler.SessionRunning,
		StartedAt: started,
		Config:    crawler.SessionConfig{Concurrency: 4, RateLimit: 1.0, TestLimit: 0},
	}

	mock.ExpectExec(`INSERT INTO source\.crawl_sessions`).
		WithArgs(id, "running", started, (*time.Time)(nil), (*int)(nil),
			0, 0, 0, 4, 1.0, 0, "", 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.CreateSession(ctx, sess))

	rows := pgxmock.NewRows([]string{
		"id", "status", "started_at", "completed_at", "total_documents",
		"processed_documents", "successful_downloads", "failed_documents",
		"max_concurrency", "rate_limit", "test_limit", "last_error", "error_count",
	}).AddRow(id, "running", started, (*time.Time)(nil), (*int)(nil), 0, 0, 0, 4, 1.0, 0, "", 0)
	mock.ExpectQuery(`SELECT .* FROM source\.crawl_sessions WHERE id`).
		WithArgs(id).
		WillReturnRows(rows)

	got, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, crawler.SessionRunning, got.Status)
	require.Equal(t, 4, got.Config.Concurrency)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSession_NotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectQuery(`SELECT .* FROM source\.crawl_sessions`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetSession(context.Background(), id)
	require.ErrorIs(t, err, crawler.ErrSessionNotFound)
}

func TestRecordOutcome_SuccessAndFailureSQL(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()
	id := uuid.New()

	mock.ExpectExec(`UPDATE source\.crawl_sessions SET\s+processed_documents = processed_documents \+ 1,\s+successful_downloads = successful_downloads \+ 1`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.RecordOutcome(ctx, id, true, true, ""))

	// Success without an attachment transfer must not touch the download
	// counter.
	mock.ExpectExec(`UPDATE source\.crawl_sessions SET\s+processed_documents = processed_documents \+ 1\s+WHERE id = \$1`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.RecordOutcome(ctx, id, true, false, ""))

	mock.ExpectExec(`UPDATE source\.crawl_sessions SET\s+processed_documents = processed_documents \+ 1,\s+failed_documents = failed_documents \+ 1`).
		WithArgs(id, "fetch failed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.RecordOutcome(ctx, id, false, false, "fetch failed"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordOutcome_UnknownSession(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectExec(`UPDATE source\.crawl_sessions`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.RecordOutcome(context.Background(), id, true, true, "")
	require.ErrorIs(t, err, crawler.ErrSessionNotFound)
}

func TestFinalizeSession_GuardsOnRunningStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()
	id := uuid.New()
	at := time.Unix(1700000100, 0).UTC()

	mock.ExpectExec(`UPDATE source\.crawl_sessions SET status = \$2, completed_at = \$3\s+WHERE id = \$1 AND status = \$4`).
		WithArgs(id, "completed", at, "running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	changed, err := store.FinalizeSession(ctx, id, crawler.SessionCompleted, at)
	require.NoError(t, err)
	require.True(t, changed)

	// Second call matches zero rows: already terminal.
	mock.ExpectExec(`UPDATE source\.crawl_sessions SET status`).
		WithArgs(id, "failed", at, "running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	changed, err = store.FinalizeSession(ctx, id, crawler.SessionFailed, at)
	require.NoError(t, err)
	require.False(t, changed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDocument_OnConflictPreservesIdentity(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()
	now := time.Unix(1700000000, 0).UTC()

	rec := crawler.DocumentRecord{
		ID:               id,
		SessionID:        uuid.New(),
		DocumentURL:      "https://www.fda.gov/doc",
		Title:            "Guidance",
		ProcessingStatus: crawler.DocCompleted,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	mock.ExpectQuery(`INSERT INTO source\.documents .*ON CONFLICT \(document_url\) DO UPDATE SET`).
		WithArgs(rec.ID, rec.SessionID, rec.DocumentURL, rec.Title, "", "",
			"", "", "", (*bool)(nil), "", "", "", "", "", "",
			"completed", (*time.Time)(nil), "", "", int64(0), now, now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(id))

	got, err := store.UpsertDocument(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, id, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetDocumentStatus_NotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()
	at := time.Now().UTC()
	mock.ExpectExec(`UPDATE source\.documents SET processing_status`).
		WithArgs(id, "failed", "boom", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.SetDocumentStatus(context.Background(), id, crawler.DocFailed, "boom", at)
	require.ErrorIs(t, err, crawler.ErrDocumentNotFound)
}

func TestUpsertAttachment_RoundTrip(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()
	docID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()

	rec := crawler.AttachmentRecord{
		ID:             id,
		DocumentID:     docID,
		SourceURL:      "https://www.fda.gov/media/176439/download",
		Filename:       "07-31-2025_guidance_176439.pdf",
		FileType:       "pdf",
		Content:        []byte("%PDF"),
		Checksum:       "abc",
		SizeBytes:      4,
		DownloadStatus: crawler.DownloadDone,
		DownloadedAt:   &now,
		CreatedAt:      now,
	}

	mock.ExpectQuery(`INSERT INTO source\.document_attachments .*ON CONFLICT \(document_id, source_url\) DO UPDATE SET`).
		WithArgs(rec.ID, rec.DocumentID, rec.SourceURL, rec.Filename,
			rec.FileType, rec.Content, rec.Checksum, rec.SizeBytes,
			"downloaded", "", &now, now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(id))

	got, err := store.UpsertAttachment(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, id, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAttachment_OmitsContentColumn(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	docID := uuid.New()
	attID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "document_id", "source_url", "filename", "file_type",
		"checksum", "size_bytes", "download_status", "download_error",
		"downloaded_at", "created_at",
	}).AddRow(attID, docID, "https://www.fda.gov/media/1/download",
		"a.pdf", "pdf", "abc", int64(4), "downloaded", "", &now, now)

	mock.ExpectQuery(`SELECT id, document_id, source_url, filename, file_type, checksum`).
		WithArgs(docID, "https://www.fda.gov/media/1/download").
		WillReturnRows(rows)

	got, err := store.GetAttachment(context.Background(), docID, "https://www.fda.gov/media/1/download")
	require.NoError(t, err)
	require.Equal(t, crawler.DownloadDone, got.DownloadStatus)
	require.Equal(t, "abc", got.Checksum)
	require.Nil(t, got.Content)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreErr_WrapsAsUnavailable(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectExec(`UPDATE source\.crawl_sessions`).
		WithArgs(id, 10).
		WillReturnError(errors.New("connection refused"))

	err := store.SetTotalDocuments(context.Background(), id, 10)
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)
}

func TestStoreErr_ContextCancellationPassesThrough(t *testing.T) {
	t.Parallel()

	err := storeErr("op", context.Canceled)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, crawler.ErrStoreUnavailable)
}
