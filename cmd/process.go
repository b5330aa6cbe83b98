package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/quriousri/fda-harvester/internal/clock/system"
	idgen "github.com/quriousri/fda-harvester/internal/id/uuid"
	"github.com/quriousri/fda-harvester/internal/llm"
	"github.com/quriousri/fda-harvester/internal/pdf"
	"github.com/quriousri/fda-harvester/internal/processing"
	"github.com/quriousri/fda-harvester/internal/telemetry"
)

// newProcessCmd creates the 'process' subcommand: the second-stage run
// that extracts structured features from the stored PDFs.
func newProcessCmd() *cobra.Command {
	var (
		productType string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Extract structured features from the harvested PDFs",
		Long: `For every downloaded document without a feature row for the product
type, extracts the PDF text and asks the model for structured regulatory
features. Failed documents stay pending and are retried on the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			extractor, err := llm.New(llm.Config{
				APIKey:      a.cfg.LLM.APIKey,
				Model:       a.cfg.LLM.Model,
				MaxTokens:   a.cfg.LLM.MaxTokens,
				Temperature: a.cfg.LLM.Temperature,
				Timeout:     time.Duration(a.cfg.LLM.TimeoutSeconds) * time.Second,
			}, a.logger.Named("llm"))
			if err != nil {
				return err
			}

			texts := pdf.New(pdf.Config{
				MaxPages:     a.cfg.PDF.MaxPages,
				MaxTextBytes: a.cfg.PDF.MaxTextBytes,
			}, a.logger.Named("pdf"))

			proc := processing.NewProcessor(
				a.store, texts, extractor,
				system.New(), idgen.New(),
				a.logger.Named("processing"),
			)

			var metrics *telemetry.Server
			if a.cfg.Telemetry.Enabled {
				metrics = telemetry.NewServer(a.cfg.Telemetry.Port, a.logger.Named("telemetry"))
				metrics.Start()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					metrics.Shutdown(shutdownCtx)
				}()
			}

			if productType == "" {
				productType = a.cfg.LLM.ProductType
			}
			summary, err := proc.Run(cmd.Context(), processing.RunOptions{
				ProductType: productType,
				Limit:       limit,
			})
			if err != nil {
				return err
			}
			printJSON(cmd, summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&productType, "product-type", "", "product type to extract features for (overrides config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "process at most N documents")
	return cmd
}
