package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newInitCmd creates the 'init' subcommand.
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database schema and tables",
		Long: `Applies the schema migrations. Every statement is additive and
existence-checked, so init is safe to run against a populated database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate schema: %w", err)
			}
			a.logger.Info("database initialized", zap.String("schema", a.cfg.DB.Schema))
			cmd.Println("Database initialized.")
			return nil
		},
	}
}

// newConfigCmd creates the 'config' subcommand.
func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.cfg
			cfg.DB.URL = redactDSN(cfg.DB.URL)
			if cfg.LLM.APIKey != "" {
				cfg.LLM.APIKey = "[redacted]"
			}
			printJSON(cmd, cfg)
			return nil
		},
	}
}

// redactDSN strips the password from a connection string for display.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	scheme := strings.Index(dsn, "://")
	if scheme < 0 || scheme+3 > at {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		creds = creds[:colon] + ":[redacted]"
	}
	return dsn[:scheme+3] + creds + dsn[at:]
}

// newResetCmd creates the 'reset' subcommand.
func newResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop every harvester table",
		Long:  `Drops all crawl and processing tables. This destroys the harvested corpus.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if !yes {
				cmd.Printf("This drops every table in schema %q. Type 'yes' to continue: ", a.cfg.DB.Schema)
				reader := bufio.NewReader(cmd.InOrStdin())
				line, _ := reader.ReadString('\n')
				if strings.TrimSpace(line) != "yes" {
					cmd.Println("Aborted.")
					return nil
				}
			}
			if err := a.store.Reset(cmd.Context()); err != nil {
				return fmt.Errorf("reset database: %w", err)
			}
			a.logger.Info("database reset", zap.String("schema", a.cfg.DB.Schema))
			cmd.Println("Database reset.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}
