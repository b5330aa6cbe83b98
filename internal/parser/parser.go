// Package parser extracts guidance document metadata from FDA detail pages.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/quriousri/fda-harvester/internal/crawler"
)

const summaryMaxLen = 1000

var mediaDownloadRe = regexp.MustCompile(`/media/\d+/download`)

// Parser turns detail-page HTML into a crawler.DocumentPage. FDA pages are
// Drupal renders with a stable sidebar of dt/dd pairs; everything else is
// best effort and missing fields stay empty.
type Parser struct {
	base *url.URL
}

// New builds a Parser. baseURL resolves relative attachment links; empty
// means the production FDA origin.
func New(baseURL string) (*Parser, error) {
	if baseURL == "" {
		baseURL = "https://www.fda.gov"
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	return &Parser{base: base}, nil
}

// Parse extracts metadata from one fetched detail page.
func (p *Parser) Parse(page crawler.Page) (crawler.DocumentPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return crawler.DocumentPage{}, fmt.Errorf("parse %s: %w", page.URL, err)
	}

	out := crawler.DocumentPage{DocumentURL: page.URL}
	out.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	out.PDFURL = p.findPDFLink(doc)
	p.parseSidebar(doc, &out)
	out.Summary = extractSummary(doc)
	return out, nil
}

// findPDFLink locates the first media download anchor and absolutizes it.
func (p *Parser) findPDFLink(doc *goquery.Document) string {
	var pdfURL string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if !mediaDownloadRe.MatchString(href) {
			return true
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		pdfURL = p.base.ResolveReference(ref).String()
		return false
	})
	return pdfURL
}

// parseSidebar walks the dt/dd pairs in the sidebar region and maps labels
// onto fields. Unknown labels are skipped.
func (p *Parser) parseSidebar(doc *goquery.Document, out *crawler.DocumentPage) {
	sidebar := doc.Find("div.region-sidebar-second").First()
	if sidebar.Length() == 0 {
		sidebar = doc.Find("aside").First()
	}
	if sidebar.Length() == 0 {
		return
	}

	sidebar.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(dt.Text()))
		dd := dt.NextFiltered("dd")
		if dd.Length() == 0 {
			return
		}
		value := strings.TrimSpace(dd.Text())
		if value == "" {
			return
		}

		switch {
		case strings.Contains(label, "issue date"), strings.Contains(label, "issued"):
			out.IssueDate = value
		case strings.Contains(label, "organization"), strings.Contains(label, "center"):
			out.Organization = value
		case strings.Contains(label, "regulated product"):
			out.RegulatedProducts = jsonList(value)
		case strings.Contains(label, "topic"):
			out.Topic = value
		case strings.Contains(label, "status"):
			out.GuidanceStatus = value
		case strings.Contains(label, "comment closing"):
			out.CommentClosingDate = value
		case strings.Contains(label, "docket"):
			out.DocketNumber = value
		case strings.Contains(label, "type"):
			out.GuidanceType = value
		case strings.Contains(label, "current as of"):
			out.ContentCurrentDate = value
		case strings.Contains(label, "open for comment"):
			open := strings.EqualFold(value, "yes")
			out.OpenForComment = &open
		}
	})
}

// extractSummary takes the first paragraph of the main content block,
// truncated so a bloated page cannot balloon the row.
func extractSummary(doc *goquery.Document) string {
	content := doc.Find("div.field-type-text-with-summary").First()
	if content.Length() == 0 {
		content = doc.Find("div.field-item").First()
	}
	if content.Length() == 0 {
		return ""
	}
	text := strings.TrimSpace(content.Find("p").First().Text())
	if runes := []rune(text); len(runes) > summaryMaxLen {
		text = string(runes[:summaryMaxLen])
	}
	return text
}

// jsonList stores a comma-separated sidebar value as a JSON array string so
// downstream consumers never reparse free text.
func jsonList(value string) string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return ""
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return ""
	}
	return string(encoded)
}
