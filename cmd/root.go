// Package cmd defines the CLI commands for the fda-harvester executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quriousri/fda-harvester/internal/config"
	"github.com/quriousri/fda-harvester/internal/logging"
	"github.com/quriousri/fda-harvester/internal/store/postgres"
)

var cfgFile string

// app bundles the services every subcommand needs. It is built once in
// PersistentPreRunE and carried through the command context.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	store  *postgres.Store
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

type appKeyType struct{}

var appKey appKeyType

func resolveApp(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey).(*app)
	if !ok || a == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fda-harvester",
		Short: "Harvests FDA guidance documents into Postgres.",
		Long: `fda-harvester crawls the FDA guidance document listing, stores each
document's metadata and PDF in Postgres, and can run a second stage that
extracts structured regulatory features from the stored PDFs.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := postgres.New(cmd.Context(), postgres.Config{
				DSN:      cfg.DB.URL,
				Schema:   cfg.DB.Schema,
				MaxConns: cfg.DB.MaxConns,
				MinConns: cfg.DB.MinConns,
			})
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("connect database: %w", err)
			}

			a := &app{cfg: cfg, logger: logger, store: store}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app); ok && a != nil {
				a.close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults to FDA_* environment variables)")

	cmd.AddCommand(
		newInitCmd(),
		newCrawlCmd(),
		newTestCmd(),
		newResumeCmd(),
		newStatusCmd(),
		newExportPDFsCmd(),
		newProcessCmd(),
		newConfigCmd(),
		newResetCmd(),
	)
	return cmd
}

// Execute is the main entry point. It installs signal-driven cancellation
// so an interrupted crawl still finalizes its session.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
