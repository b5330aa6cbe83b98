package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newExportPDFsCmd creates the 'export-pdfs' subcommand.
func newExportPDFsCmd() *cobra.Command {
	var outputDir string
	cmd := &cobra.Command{
		Use:   "export-pdfs",
		Short: "Write every downloaded PDF from the database to disk",
		Long: `Copies the stored PDF attachments into a directory, using each
attachment's deterministic filename. Existing files are overwritten so the
directory converges on the database contents.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			dir := outputDir
			if dir == "" {
				dir = a.cfg.Export.OutputDir
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}

			attachments, err := a.store.ListDownloadedAttachments(cmd.Context())
			if err != nil {
				return fmt.Errorf("list attachments: %w", err)
			}

			written := 0
			for _, att := range attachments {
				if len(att.Content) == 0 {
					a.logger.Warn("attachment has no content, skipping",
						zap.String("filename", att.Filename))
					continue
				}
				path := filepath.Join(dir, att.Filename)
				if err := os.WriteFile(path, att.Content, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", att.Filename, err)
				}
				written++
			}

			a.logger.Info("pdf export finished",
				zap.Int("written", written),
				zap.String("dir", dir))
			cmd.Printf("Exported %d PDFs to %s\n", written, dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "destination directory (overrides config)")
	return cmd
}
