package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quriousri/fda-harvester/internal/clock/system"
	"github.com/quriousri/fda-harvester/internal/config"
	"github.com/quriousri/fda-harvester/internal/crawler"
	"github.com/quriousri/fda-harvester/internal/discovery"
	"github.com/quriousri/fda-harvester/internal/downloader"
	"github.com/quriousri/fda-harvester/internal/fetcher"
	collyfetcher "github.com/quriousri/fda-harvester/internal/fetcher/colly"
	headlessfetcher "github.com/quriousri/fda-harvester/internal/fetcher/headless"
	idgen "github.com/quriousri/fda-harvester/internal/id/uuid"
	"github.com/quriousri/fda-harvester/internal/orchestrator"
	"github.com/quriousri/fda-harvester/internal/parser"
	"github.com/quriousri/fda-harvester/internal/policy/ratelimit"
	"github.com/quriousri/fda-harvester/internal/session"
	"github.com/quriousri/fda-harvester/internal/telemetry"
)

// pipeline is the assembled crawl stack for one run.
type pipeline struct {
	sessions *session.Manager
	orch     *orchestrator.Orchestrator
}

// buildSessions wires the session manager alone; resume needs it before
// the rest of the stack exists.
func buildSessions(a *app) *session.Manager {
	return session.NewManager(a.store, system.New(), idgen.New(), a.logger.Named("session"))
}

// buildPipeline wires the crawl collaborators. rateLimit comes from the
// resolved session so a resumed crawl keeps its original pacing.
func buildPipeline(a *app, sessions *session.Manager, rateLimit float64) (*pipeline, error) {
	cfg := a.cfg
	if rateLimit <= 0 {
		rateLimit = cfg.Crawler.RateLimit
	}
	clock := system.New()
	ids := idgen.New()
	detector := crawler.NewBotDetector(cfg.Crawler.BlockMarkers...)

	var base crawler.Fetcher
	switch cfg.Crawler.Fetcher {
	case config.FetcherBrowser:
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		}, detector)
		if err != nil {
			return nil, fmt.Errorf("init browser fetcher: %w", err)
		}
		base = headless
	default:
		base = collyfetcher.New(collyfetcher.Config{
			UserAgent:      cfg.Crawler.UserAgent,
			ConnectTimeout: cfg.HTTP.ConnectTimeout(),
			RequestTimeout: cfg.HTTP.ReadTimeout(),
		}, detector)
	}

	gate := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: rateLimit,
		PerHostInterval:   time.Duration(float64(time.Second) / rateLimit),
	})
	retry := crawler.NewRetryPolicy(cfg.HTTP.MaxRetries, cfg.HTTP.BackoffInitial(), cfg.HTTP.BackoffMax())
	polite := fetcher.NewPolite(base, gate, retry, a.logger.Named("fetcher"))

	listing, err := discovery.NewListing(polite, cfg.Crawler.ListingURL, cfg.Crawler.BaseURL, a.logger.Named("discovery"))
	if err != nil {
		return nil, fmt.Errorf("init discovery: %w", err)
	}
	discoverer := discovery.WithFallback{
		Primary:  listing,
		Fallback: discovery.Fallback{},
		Logger:   a.logger.Named("discovery"),
	}

	p, err := parser.New(cfg.Crawler.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("init parser: %w", err)
	}

	dl := downloader.New(downloader.Config{
		UserAgent: cfg.Crawler.UserAgent,
		MaxBytes:  cfg.HTTP.MaxAttachmentBytes,
		Timeout:   cfg.HTTP.ReadTimeout(),
	}, gate, a.store, clock, ids, a.logger.Named("downloader"))

	orch := orchestrator.New(sessions, discoverer, polite, p, dl, a.store, clock, ids, a.logger.Named("orchestrator"))
	return &pipeline{sessions: sessions, orch: orch}, nil
}

// runCrawl opens (or resumes) a session and drives it to completion,
// printing the final session summary as JSON.
func runCrawl(cmd *cobra.Command, a *app, resume *uuid.UUID, sessCfg crawler.SessionConfig) error {
	sessions := buildSessions(a)

	ctx := cmd.Context()
	var (
		sess crawler.Session
		err  error
	)
	if resume != nil {
		sess, err = sessions.Resume(ctx, *resume)
	} else {
		sess, err = sessions.Open(ctx, sessCfg)
	}
	if err != nil {
		return err
	}

	pipe, err := buildPipeline(a, sessions, sess.Config.RateLimit)
	if err != nil {
		return err
	}

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

	runErr := pipe.orch.Run(ctx, sess)

	final, err := pipe.sessions.Status(context.WithoutCancel(ctx), sess.ID)
	if err != nil {
		a.logger.Warn("could not load final session state", zap.Error(err))
	} else {
		printJSON(cmd, session.Summarize(final))
	}
	return runErr
}

func printJSON(cmd *cobra.Command, v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	cmd.Println(string(out))
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var (
		concurrency int
		rateLimit   float64
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run a full harvest of the guidance document listing",
		Long: `Discovers every guidance document on the FDA listing, then fetches,
parses, and stores each one with its PDF. Already-completed documents are
skipped, so re-running converges instead of duplicating work.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := sessionConfig(a, concurrency, rateLimit, limit)
			return runCrawl(cmd, a, nil, cfg)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "worker count (overrides config)")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit", 0, "requests per second (overrides config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "process at most N documents")
	return cmd
}

// newTestCmd creates the 'test' subcommand, a small bounded crawl.
func newTestCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run a small crawl to verify connectivity and configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = 3
			}
			cfg := sessionConfig(a, 0, 0, limit)
			return runCrawl(cmd, a, nil, cfg)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 3, "number of documents to process")
	return cmd
}

// newResumeCmd creates the 'resume' subcommand.
func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume an interrupted crawl session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id %q: %w", args[0], err)
			}
			return runCrawl(cmd, a, &id, crawler.SessionConfig{})
		},
	}
}

// sessionConfig merges CLI overrides over the configured defaults.
func sessionConfig(a *app, concurrency int, rateLimit float64, limit int) crawler.SessionConfig {
	cfg := crawler.SessionConfig{
		Concurrency: a.cfg.Crawler.Concurrency,
		RateLimit:   a.cfg.Crawler.RateLimit,
		TestLimit:   a.cfg.Crawler.TestLimit,
	}
	if concurrency > 0 {
		cfg.Concurrency = concurrency
	}
	if rateLimit > 0 {
		cfg.RateLimit = rateLimit
	}
	if limit > 0 {
		cfg.TestLimit = limit
	}
	return cfg
}
