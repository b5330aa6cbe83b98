package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quriousri/fda-harvester/internal/crawler"
)

func newTestFetcher() *Fetcher {
	return New(Config{
		UserAgent:      "harvester-test/1.0",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 5 * time.Second,
	}, crawler.NewBotDetector())
}

func TestFetch_ReturnsPageWithBodyAndStatus(t *testing.T) {
	t.Parallel()

	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>guidance</body></html>"))
	}))
	defer srv.Close()

	page, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Contains(t, string(page.Body), "guidance")
	require.Equal(t, "harvester-test/1.0", gotUA)
	require.False(t, page.UsedBrowser)
}

func TestFetch_FollowsRedirectsAndRecordsFinalURL(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/landing", http.StatusFound)
	})
	mux.HandleFunc("/landing", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>landed</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	page, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/start")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/start", page.URL)
	require.Equal(t, srv.URL+"/landing", page.FinalURL)
}

func TestFetch_BlockPageRedirectYieldsBotDetected(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/doc", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/apology_objects/abuse-detection-apology.html", http.StatusFound)
	})
	mux.HandleFunc("/apology_objects/abuse-detection-apology.html", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>We apologize for the inconvenience</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/doc")
	require.ErrorIs(t, err, crawler.ErrBotDetected)
}

func TestFetch_BlockBodyOn403YieldsBotDetected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<html><title>Pardon Our Interruption</title></html>"))
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, crawler.ErrBotDetected)
}

func TestFetch_ServerErrorIsNotBotDetection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.NotErrorIs(t, err, crawler.ErrBotDetected)
}
