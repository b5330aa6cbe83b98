package crawler

import (
	"bytes"
	"strings"
)

// The FDA site answers automated traffic with a redirect to a static
// apology page rather than an HTTP error.
const abuseRedirectSignature = "apology_objects/abuse-detection-apology.html"

var defaultBlockedBodyMarkers = [][]byte{
	[]byte("abuse-detection-apology"),
	[]byte("access denied"),
	[]byte("pardon our interruption"),
	[]byte("request unsuccessful. incapsula"),
}

// BotDetector recognizes block/redirect responses served to automated
// clients, so the fetchers can distinguish them from transient failures.
type BotDetector struct {
	urlSignatures []string
	bodyMarkers   [][]byte
}

// NewBotDetector builds a detector with the known FDA signatures plus any
// extra body markers from configuration.
func NewBotDetector(extraMarkers ...string) *BotDetector {
	markers := append([][]byte(nil), defaultBlockedBodyMarkers...)
	for _, m := range extraMarkers {
		m = strings.TrimSpace(strings.ToLower(m))
		if m != "" {
			markers = append(markers, []byte(m))
		}
	}
	return &BotDetector{
		urlSignatures: []string{abuseRedirectSignature},
		bodyMarkers:   markers,
	}
}

// Blocked reports whether the response matches a block signature.
func (d *BotDetector) Blocked(page Page) bool {
	if d == nil {
		return false
	}
	final := strings.ToLower(page.FinalURL)
	for _, sig := range d.urlSignatures {
		if strings.Contains(final, sig) {
			return true
		}
	}
	// The apology page is served with a 200, so the body markers are
	// checked regardless of status.
	lower := bytes.ToLower(page.Body)
	for _, marker := range d.bodyMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}
