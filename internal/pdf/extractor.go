// Package pdf extracts text from stored PDF attachments.
package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
)

// Config bounds extraction so one degenerate PDF cannot stall a run.
type Config struct {
	// MaxPages caps how many pages are extracted; zero means 50.
	MaxPages int
	// MaxTextBytes caps the returned text; zero means 512 KiB.
	MaxTextBytes int
}

const (
	defaultMaxPages     = 50
	defaultMaxTextBytes = 512 << 10
)

// Extractor pulls text out of PDF bytes with pdfcpu. pdfcpu works on
// files, so each call round-trips through a private temp directory.
type Extractor struct {
	cfg    Config
	logger *zap.Logger
}

// New builds an Extractor.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = defaultMaxTextBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, logger: logger}
}

// ExtractText returns the concatenated page text of the document, bounded
// by the configured page and byte caps.
func (e *Extractor) ExtractText(ctx context.Context, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	workDir, err := os.MkdirTemp("", "fda-harvester-pdf-")
	if err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	pdfPath := filepath.Join(workDir, "doc.pdf")
	if err := os.WriteFile(pdfPath, content, 0o600); err != nil {
		return "", fmt.Errorf("write temp pdf: %w", err)
	}

	pdfCtx, err := api.ReadContextFile(pdfPath)
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}

	pageCount := pdfCtx.PageCount
	pages := pageCount
	if pages > e.cfg.MaxPages {
		pages = e.cfg.MaxPages
		e.logger.Debug("pdf truncated to page cap",
			zap.Int("pages", pageCount),
			zap.Int("cap", e.cfg.MaxPages))
	}

	outDir := filepath.Join(workDir, "content")
	if err := os.MkdirAll(outDir, 0o700); err != nil {
		return "", fmt.Errorf("create content dir: %w", err)
	}

	selection := []string{fmt.Sprintf("1-%d", pages)}
	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(pdfPath, outDir, selection, conf); err != nil {
		return "", fmt.Errorf("extract pdf content: %w", err)
	}

	text := e.assemble(outDir)
	if text == "" {
		return "", fmt.Errorf("pdf yielded no extractable text (%d pages)", pageCount)
	}
	return text, nil
}

// assemble concatenates the per-page content files in page order, stopping
// at the byte cap.
func (e *Extractor) assemble(outDir string) string {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return ""
	}

	type pageFile struct {
		num  int
		path string
	}
	var files []pageFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var num int
		if _, err := fmt.Sscanf(entry.Name(), "Content_page_%d", &num); err != nil {
			continue
		}
		files = append(files, pageFile{num: num, path: filepath.Join(outDir, entry.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].num < files[j].num })

	var b strings.Builder
	for _, f := range files {
		raw, err := os.ReadFile(f.path)
		if err != nil {
			continue
		}
		page := strings.TrimSpace(string(raw))
		if page == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(page)
		if b.Len() >= e.cfg.MaxTextBytes {
			break
		}
	}

	text := b.String()
	if len(text) > e.cfg.MaxTextBytes {
		text = text[:e.cfg.MaxTextBytes]
	}
	return text
}
