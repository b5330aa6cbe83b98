package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/quriousri/fda-harvester/internal/clock/system"
	"github.com/quriousri/fda-harvester/internal/crawler"
	"github.com/quriousri/fda-harvester/internal/downloader"
	idgen "github.com/quriousri/fda-harvester/internal/id/uuid"
	"github.com/quriousri/fda-harvester/internal/parser"
	"github.com/quriousri/fda-harvester/internal/session"
	"github.com/quriousri/fda-harvester/internal/store/memory"
)

type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]crawler.Page
	errs    map[string]error
	fetched map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:   make(map[string]crawler.Page),
		errs:    make(map[string]error),
		fetched: make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (crawler.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched[url]++
	if err, ok := f.errs[url]; ok {
		return crawler.Page{}, err
	}
	page, ok := f.pages[url]
	if !ok {
		return crawler.Page{}, fmt.Errorf("no page for %s", url)
	}
	return page, nil
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetched[url]
}

type staticDiscoverer struct{ urls []string }

func (d staticDiscoverer) Discover(context.Context) ([]string, error) {
	return append([]string(nil), d.urls...), nil
}

type failingDiscoverer struct{ err error }

func (d failingDiscoverer) Discover(context.Context) ([]string, error) {
	return nil, d.err
}

func detailHTML(title, pdfURL string) []byte {
	return []byte(`<html><body>
		<h1>` + title + `</h1>
		<div class="field-item"><p>Summary of ` + title + `.</p></div>
		<a href="` + pdfURL + `">Download</a>
		<div class="region-sidebar-second"><dl>
			<dt>Issue Date</dt><dd>07/31/2025</dd>
			<dt>Guidance Status</dt><dd>Final</dd>
		</dl></div>
	</body></html>`)
}

type fixture struct {
	store    *memory.Store
	sessions *session.Manager
	fetcher  *fakeFetcher
	pdfHits  *atomic.Int32
	pdfURL   func(mediaID string) string
	orch     func(d crawler.Discoverer) *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	var pdfHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		pdfHits.Add(1)
		_, _ = w.Write([]byte("%PDF-1.7 content"))
	}))
	t.Cleanup(srv.Close)

	store := memory.New()
	clock := system.New()
	ids := idgen.New()
	sessions := session.NewManager(store, clock, ids, nil)
	fetcher := newFakeFetcher()
	p, err := parser.New("")
	require.NoError(t, err)
	dl := downloader.New(downloader.Config{}, nil, store, clock, ids, nil)

	return &fixture{
		store:    store,
		sessions: sessions,
		fetcher:  fetcher,
		pdfHits:  &pdfHits,
		pdfURL:   func(mediaID string) string { return srv.URL + "/media/" + mediaID + "/download" },
		orch: func(d crawler.Discoverer) *Orchestrator {
			return New(sessions, d, fetcher, p, dl, store, clock, ids, nil)
		},
	}
}

func (f *fixture) addDocument(url, title, mediaID string) {
	f.fetcher.pages[url] = crawler.Page{
		URL:        url,
		StatusCode: 200,
		Body:       detailHTML(title, f.pdfURL(mediaID)),
	}
}

func TestRun_FiveDocumentsOneFailure(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	urls := make([]string, 5)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://www.fda.gov/guidance/doc-%d", i)
		fx.addDocument(urls[i], fmt.Sprintf("Guidance %d", i), fmt.Sprintf("10000%d", i))
	}
	fx.fetcher.errs[urls[2]] = &crawler.FetchError{URL: urls[2], Attempts: 3, Err: errors.New("timeout")}

	sess, err := fx.sessions.Open(context.Background(), crawler.SessionConfig{Concurrency: 3, RateLimit: 100})
	require.NoError(t, err)
	require.NoError(t, fx.orch(staticDiscoverer{urls: urls}).Run(context.Background(), sess))

	got, err := fx.sessions.Status(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.SessionCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.TotalDocuments)
	require.Equal(t, 5, *got.TotalDocuments)
	require.Equal(t, 5, got.ProcessedDocuments)
	require.Equal(t, 4, got.SuccessfulDownloads)
	require.Equal(t, 1, got.FailedDocuments)
	require.Contains(t, got.LastError, "timeout")

	// The four healthy documents are stored completed with checksums.
	for i, url := range urls {
		if i == 2 {
			_, err := fx.store.GetDocumentByURL(context.Background(), url)
			require.ErrorIs(t, err, crawler.ErrDocumentNotFound)
			continue
		}
		doc, err := fx.store.GetDocumentByURL(context.Background(), url)
		require.NoError(t, err)
		require.Equal(t, crawler.DocCompleted, doc.ProcessingStatus)
		require.NotEmpty(t, doc.PDFChecksum)
	}
}

func TestRun_DocumentWithoutPDFCompletesWithoutDownloadCount(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	url := "https://www.fda.gov/guidance/metadata-only"
	fx.fetcher.pages[url] = crawler.Page{
		URL:        url,
		StatusCode: 200,
		Body: []byte(`<html><body>
			<h1>Metadata Only Guidance</h1>
			<div class="region-sidebar-second"><dl>
				<dt>Issue Date</dt><dd>07/31/2025</dd>
			</dl></div>
		</body></html>`),
	}

	ctx := context.Background()
	sess, err := fx.sessions.Open(ctx, crawler.SessionConfig{Concurrency: 1, RateLimit: 100})
	require.NoError(t, err)
	require.NoError(t, fx.orch(staticDiscoverer{urls: []string{url}}).Run(ctx, sess))

	got, err := fx.sessions.Status(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.SessionCompleted, got.Status)
	require.Equal(t, 1, got.ProcessedDocuments)
	require.Equal(t, 0, got.SuccessfulDownloads)
	require.Equal(t, 0, got.FailedDocuments)
	require.Equal(t, int32(0), fx.pdfHits.Load())

	doc, err := fx.store.GetDocumentByURL(ctx, url)
	require.NoError(t, err)
	require.Equal(t, crawler.DocCompleted, doc.ProcessingStatus)
}

func TestRun_RefetchFailureMarksExistingDocumentFailed(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	url := "https://www.fda.gov/guidance/stuck"
	ctx := context.Background()

	// A row left mid-pipeline by an interrupted run.
	docID := uuid.New()
	_, err := fx.store.UpsertDocument(ctx, crawler.DocumentRecord{
		ID:               docID,
		DocumentURL:      url,
		Title:            "Stuck Doc",
		ProcessingStatus: crawler.DocProcessing,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	})
	require.NoError(t, err)
	fx.fetcher.errs[url] = &crawler.FetchError{URL: url, Attempts: 3, Err: errors.New("timeout")}

	sess, err := fx.sessions.Open(ctx, crawler.SessionConfig{Concurrency: 1, RateLimit: 100})
	require.NoError(t, err)
	require.NoError(t, fx.orch(staticDiscoverer{urls: []string{url}}).Run(ctx, sess))

	doc, err := fx.store.GetDocumentByURL(ctx, url)
	require.NoError(t, err)
	require.Equal(t, docID, doc.ID)
	require.Equal(t, crawler.DocFailed, doc.ProcessingStatus)
	require.Contains(t, doc.ProcessingError, "fetch document")

	got, err := fx.sessions.Status(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.FailedDocuments)
}

// crashingStore drops the finalize call, emulating a process killed after
// the workers drained but before the session row went terminal.
type crashingStore struct {
	crawler.Store
	suppress atomic.Bool
}

func (s *crashingStore) FinalizeSession(ctx context.Context, id uuid.UUID, status crawler.SessionStatus, at time.Time) (bool, error) {
	if s.suppress.Load() {
		return false, nil
	}
	return s.Store.FinalizeSession(ctx, id, status, at)
}

func TestRun_ResumeProcessesOnlyRemainingDocuments(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	urls := make([]string, 4)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://www.fda.gov/guidance/resume-%d", i)
		fx.addDocument(urls[i], fmt.Sprintf("Resume Doc %d", i), fmt.Sprintf("20000%d", i))
	}
	fx.fetcher.errs[urls[3]] = errors.New("connection reset")

	crashing := &crashingStore{Store: fx.store}
	crashing.suppress.Store(true)

	clock := system.New()
	ids := idgen.New()
	sessions := session.NewManager(crashing, clock, ids, nil)
	p, err := parser.New("")
	require.NoError(t, err)
	dl := downloader.New(downloader.Config{}, nil, crashing, clock, ids, nil)
	orch := func(d crawler.Discoverer) *Orchestrator {
		return New(sessions, d, fx.fetcher, p, dl, crashing, clock, ids, nil)
	}

	ctx := context.Background()
	sess, err := sessions.Open(ctx, crawler.SessionConfig{Concurrency: 2, RateLimit: 100})
	require.NoError(t, err)
	require.NoError(t, orch(staticDiscoverer{urls: urls}).Run(ctx, sess))

	// The "crashed" session is still running; fix the broken document and
	// resume it with finalize working again.
	crashing.suppress.Store(false)
	delete(fx.fetcher.errs, urls[3])
	resumed, err := sessions.Resume(ctx, sess.ID)
	require.NoError(t, err)
	require.NoError(t, orch(staticDiscoverer{urls: urls}).Run(ctx, resumed))

	got, err := sessions.Status(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.SessionCompleted, got.Status)
	// First run counted 4, the resume counts only the repaired document.
	require.Equal(t, 5, got.ProcessedDocuments)
	require.Equal(t, 4, got.SuccessfulDownloads)
	require.Equal(t, 1, got.FailedDocuments)

	// Completed documents were not fetched again on resume.
	for _, url := range urls[:3] {
		require.Equal(t, 1, fx.fetcher.count(url))
	}
	require.Equal(t, 2, fx.fetcher.count(urls[3]))
}

func TestRun_RecrawlIsIdempotent(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	url := "https://www.fda.gov/guidance/idempotent"
	fx.addDocument(url, "Idempotent Doc", "300001")
	ctx := context.Background()

	first, err := fx.sessions.Open(ctx, crawler.SessionConfig{Concurrency: 1, RateLimit: 100})
	require.NoError(t, err)
	require.NoError(t, fx.orch(staticDiscoverer{urls: []string{url}}).Run(ctx, first))

	second, err := fx.sessions.Open(ctx, crawler.SessionConfig{Concurrency: 1, RateLimit: 100})
	require.NoError(t, err)
	require.NoError(t, fx.orch(staticDiscoverer{urls: []string{url}}).Run(ctx, second))

	// One fetch, one PDF transfer, one document row across both runs.
	require.Equal(t, 1, fx.fetcher.count(url))
	require.Equal(t, int32(1), fx.pdfHits.Load())

	doc, err := fx.store.GetDocumentByURL(ctx, url)
	require.NoError(t, err)
	require.Equal(t, crawler.DocCompleted, doc.ProcessingStatus)

	got, err := fx.sessions.Status(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.SessionCompleted, got.Status)
	require.Equal(t, 0, got.ProcessedDocuments)
}

func TestRun_TestLimitTruncatesDiscovery(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	urls := make([]string, 6)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://www.fda.gov/guidance/limited-%d", i)
		fx.addDocument(urls[i], fmt.Sprintf("Limited %d", i), fmt.Sprintf("40000%d", i))
	}

	ctx := context.Background()
	sess, err := fx.sessions.Open(ctx, crawler.SessionConfig{Concurrency: 2, RateLimit: 100, TestLimit: 2})
	require.NoError(t, err)
	require.NoError(t, fx.orch(staticDiscoverer{urls: urls}).Run(ctx, sess))

	got, err := fx.sessions.Status(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.TotalDocuments)
	require.Equal(t, 2, *got.TotalDocuments)
	require.Equal(t, 2, got.ProcessedDocuments)
}

func TestRun_DiscoveryFailureFinalizesFailed(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	sess, err := fx.sessions.Open(ctx, crawler.SessionConfig{Concurrency: 1, RateLimit: 100})
	require.NoError(t, err)

	err = fx.orch(failingDiscoverer{err: errors.New("listing unreachable")}).Run(ctx, sess)
	require.Error(t, err)

	got, err := fx.sessions.Status(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.SessionFailed, got.Status)
}

// lossyStore simulates the database vanishing mid-run.
type lossyStore struct {
	crawler.Store
	mu   sync.Mutex
	dead bool
}

func (s *lossyStore) kill() {
	s.mu.Lock()
	s.dead = true
	s.mu.Unlock()
}

func (s *lossyStore) alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dead
}

func (s *lossyStore) UpsertDocument(ctx context.Context, rec crawler.DocumentRecord) (uuid.UUID, error) {
	if !s.alive() {
		return uuid.Nil, crawler.ErrStoreUnavailable
	}
	return s.Store.UpsertDocument(ctx, rec)
}

func TestRun_StoreLossAbortsAndFinalizesFailed(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	urls := make([]string, 3)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://www.fda.gov/guidance/lossy-%d", i)
		fx.addDocument(urls[i], fmt.Sprintf("Lossy %d", i), fmt.Sprintf("50000%d", i))
	}

	lossy := &lossyStore{Store: fx.store}
	lossy.kill()

	clock := system.New()
	ids := idgen.New()
	sessions := session.NewManager(fx.store, clock, ids, nil)
	p, err := parser.New("")
	require.NoError(t, err)
	dl := downloader.New(downloader.Config{}, nil, lossy, clock, ids, nil)
	orch := New(sessions, staticDiscoverer{urls: urls}, fx.fetcher, p, dl, lossy, clock, ids, nil)

	ctx := context.Background()
	sess, err := sessions.Open(ctx, crawler.SessionConfig{Concurrency: 2, RateLimit: 100})
	require.NoError(t, err)

	err = orch.Run(ctx, sess)
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)

	require.Eventually(t, func() bool {
		got, gerr := sessions.Status(ctx, sess.ID)
		return gerr == nil && got.Status == crawler.SessionFailed
	}, time.Second, 10*time.Millisecond)
}
