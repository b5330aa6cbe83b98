package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quriousri/fda-harvester/internal/crawler"
)

type stubFetcher struct {
	body []byte
	err  error
	url  string
}

func (s *stubFetcher) Fetch(_ context.Context, url string) (crawler.Page, error) {
	s.url = url
	if s.err != nil {
		return crawler.Page{}, s.err
	}
	return crawler.Page{URL: url, StatusCode: 200, Body: s.body}, nil
}

const sampleListing = `[
  {"title": "<a href=\"/regulatory-information/search-fda-guidance-documents/doc-one\">Doc One</a>", "field_issue_datetime": "07/31/2025"},
  {"title": "<a href=\"/regulatory-information/search-fda-guidance-documents/doc-two\">Doc Two</a>"},
  {"title": "<a href=\"/regulatory-information/search-fda-guidance-documents/doc-one\">Doc One Again</a>"},
  {"title": "plain text row without a link"},
  {"title": ""}
]`

func TestListing_ExtractsResolvesAndDeduplicates(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{body: []byte(sampleListing)}
	l, err := NewListing(fetcher, "", "", nil)
	require.NoError(t, err)

	urls, err := l.Discover(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://www.fda.gov/regulatory-information/search-fda-guidance-documents/doc-one",
		"https://www.fda.gov/regulatory-information/search-fda-guidance-documents/doc-two",
	}, urls)
	require.Equal(t, DefaultListingURL, fetcher.url)
}

func TestListing_AbsoluteHrefsPassThrough(t *testing.T) {
	t.Parallel()

	body := `[{"title": "<a href=\"https://www.fda.gov/media/12345/download\">x</a>"}]`
	l, err := NewListing(&stubFetcher{body: []byte(body)}, "", "", nil)
	require.NoError(t, err)

	urls, err := l.Discover(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"https://www.fda.gov/media/12345/download"}, urls)
}

func TestListing_MalformedJSONFails(t *testing.T) {
	t.Parallel()

	l, err := NewListing(&stubFetcher{body: []byte("<html>not json</html>")}, "", "", nil)
	require.NoError(t, err)

	_, err = l.Discover(context.Background())
	require.Error(t, err)
}

func TestWithFallback_UsesPrimaryWhenHealthy(t *testing.T) {
	t.Parallel()

	primary, err := NewListing(&stubFetcher{body: []byte(sampleListing)}, "", "", nil)
	require.NoError(t, err)

	d := WithFallback{Primary: primary, Fallback: Fallback{}}
	urls, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, urls, 2)
}

func TestWithFallback_DegradesOnBotDetection(t *testing.T) {
	t.Parallel()

	blocked := &stubFetcher{err: crawler.ErrBotDetected}
	primary, err := NewListing(blocked, "", "", nil)
	require.NoError(t, err)

	d := WithFallback{Primary: primary, Fallback: Fallback{}}
	urls, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, urls, len(KnownDocuments))
	for i, doc := range KnownDocuments {
		require.Equal(t, doc.DocumentURL, urls[i])
	}
}

func TestWithFallback_CancelledContextDoesNotDegrade(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	primary, err := NewListing(&stubFetcher{err: errors.New("context canceled")}, "", "", nil)
	require.NoError(t, err)

	d := WithFallback{Primary: primary, Fallback: Fallback{}}
	_, err = d.Discover(ctx)
	require.Error(t, err)
}
