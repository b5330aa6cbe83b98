package crawler

import (
	"fmt"
	"regexp"
	"strings"
)

const slugMaxLen = 50

var (
	nonAlnumRuns   = regexp.MustCompile(`[^a-z0-9]+`)
	nonDateChars   = regexp.MustCompile(`[^0-9/-]`)
	mediaIDPattern = regexp.MustCompile(`/media/(\d+)/`)
)

// AttachmentFilename derives the stored filename for an attachment from
// (issue_date, title, media_id). The function is pure: identical inputs
// always produce an identical name, so re-crawls are stable.
//
// The shape is {issue_date}_{slug(title)}_{media_id}.{ext}.
func AttachmentFilename(issueDate, title, mediaID, ext string) string {
	date := nonDateChars.ReplaceAllString(issueDate, "")
	date = strings.ReplaceAll(date, "/", "-")
	if strings.Trim(date, "-") == "" {
		date = "unknown"
	}
	if ext == "" {
		ext = "pdf"
	}
	return fmt.Sprintf("%s_%s_%s.%s", date, Slug(title), mediaID, ext)
}

// Slug renders a title as a lowercased, punctuation-stripped, bounded
// filesystem-safe token.
func Slug(title string) string {
	if title == "" {
		return "untitled"
	}
	s := nonAlnumRuns.ReplaceAllString(strings.ToLower(title), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "untitled"
	}
	if len(s) > slugMaxLen {
		s = strings.Trim(s[:slugMaxLen], "_")
	}
	return s
}

// MediaID extracts the numeric media identifier from an FDA download URL
// such as https://www.fda.gov/media/176439/download. Empty when absent.
func MediaID(sourceURL string) string {
	m := mediaIDPattern.FindStringSubmatch(sourceURL)
	if len(m) != 2 {
		return ""
	}
	return m[1]
}
