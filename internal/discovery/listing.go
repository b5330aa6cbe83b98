// Package discovery produces the set of guidance document URLs a crawl
// session will visit.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/quriousri/fda-harvester/internal/crawler"
)

// DefaultListingURL is the static datatables export backing the FDA
// guidance search page. It serves the full corpus in one response.
const DefaultListingURL = "https://www.fda.gov/files/api/datatables/static/search-for-guidance.json"

// DefaultBaseURL resolves the relative hrefs found in listing rows.
const DefaultBaseURL = "https://www.fda.gov"

// listingRow is one datatables record. Only the title cell matters: it
// carries the detail-page link as an HTML anchor.
type listingRow struct {
	Title string `json:"title"`
}

// Listing discovers document URLs from the JSON listing endpoint.
type Listing struct {
	fetcher    crawler.Fetcher
	listingURL string
	baseURL    *url.URL
	logger     *zap.Logger
}

// NewListing builds a Listing discoverer. Empty URLs fall back to the FDA
// defaults.
func NewListing(fetcher crawler.Fetcher, listingURL, baseURL string, logger *zap.Logger) (*Listing, error) {
	if listingURL == "" {
		listingURL = DefaultListingURL
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listing{
		fetcher:    fetcher,
		listingURL: listingURL,
		baseURL:    base,
		logger:     logger,
	}, nil
}

// Discover fetches the listing and returns the detail-page URLs in listing
// order, deduplicated.
func (l *Listing) Discover(ctx context.Context) ([]string, error) {
	page, err := l.fetcher.Fetch(ctx, l.listingURL)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}

	var rows []listingRow
	if err := json.Unmarshal(page.Body, &rows); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	seen := make(map[string]struct{}, len(rows))
	urls := make([]string, 0, len(rows))
	for _, row := range rows {
		u := l.anchorTarget(row.Title)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	l.logger.Info("listing discovered documents",
		zap.Int("rows", len(rows)),
		zap.Int("urls", len(urls)))
	return urls, nil
}

// anchorTarget extracts the href from a title cell's HTML fragment and
// resolves it against the base URL.
func (l *Listing) anchorTarget(titleHTML string) string {
	if !strings.Contains(titleHTML, "<a") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(titleHTML))
	if err != nil {
		return ""
	}
	href, ok := doc.Find("a").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return l.baseURL.ResolveReference(ref).String()
}
