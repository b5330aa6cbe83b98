// Package postgres implements the persistence layer on pgx/pgxpool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quriousri/fda-harvester/internal/crawler"
)

var validSchemaName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Schema          string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pgxPool is the subset of pgxpool.Pool the store uses; pgxmock satisfies
// it in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists sessions, documents, attachments and second-stage
// processing rows in one Postgres schema.
type Store struct {
	pool   pgxPool
	schema string
}

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database url is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool, cfg.Schema)
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing with pgxmock).
func NewWithPool(pool pgxPool, schema string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if schema == "" {
		schema = "source"
	}
	if !validSchemaName.MatchString(schema) {
		return nil, fmt.Errorf("invalid schema name %q", schema)
	}
	return &Store{pool: pool, schema: schema}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) table(name string) string {
	return s.schema + "." + name
}

// storeErr wraps a write failure so callers can recognize the store as
// gone. Context cancellation passes through untouched.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, crawler.ErrStoreUnavailable, err)
}

// migrationStatements returns the additive schema migration. Every
// statement carries its own existence check, so the sequence is safe to run
// against fresh and already-migrated databases alike, in any order of
// harvester versions.
func (s *Store) migrationStatements() []string {
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s.schema),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'running',
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			total_documents INTEGER,
			processed_documents INTEGER NOT NULL DEFAULT 0,
			successful_downloads INTEGER NOT NULL DEFAULT 0,
			failed_documents INTEGER NOT NULL DEFAULT 0,
			max_concurrency INTEGER NOT NULL DEFAULT 1,
			rate_limit DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			test_limit INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			error_count INTEGER NOT NULL DEFAULT 0
		)`, s.table("crawl_sessions")),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			crawl_session_id UUID,
			document_url TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			issue_date TEXT NOT NULL DEFAULT '',
			fda_organization TEXT NOT NULL DEFAULT '',
			topic TEXT NOT NULL DEFAULT '',
			guidance_status TEXT NOT NULL DEFAULT '',
			open_for_comment BOOLEAN,
			comment_closing_date TEXT NOT NULL DEFAULT '',
			docket_number TEXT NOT NULL DEFAULT '',
			guidance_type TEXT NOT NULL DEFAULT '',
			processing_status TEXT NOT NULL DEFAULT 'pending',
			processed_at TIMESTAMPTZ,
			processing_error TEXT NOT NULL DEFAULT '',
			pdf_checksum TEXT NOT NULL DEFAULT '',
			pdf_size_bytes BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, s.table("documents")),

		// Sidebar columns added after the initial schema shipped.
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS regulated_products TEXT NOT NULL DEFAULT ''`, s.table("documents")),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS topics TEXT NOT NULL DEFAULT ''`, s.table("documents")),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS content_current_date TEXT NOT NULL DEFAULT ''`, s.table("documents")),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			document_id UUID NOT NULL,
			source_url TEXT NOT NULL,
			filename TEXT NOT NULL DEFAULT '',
			file_type TEXT NOT NULL DEFAULT 'pdf',
			pdf_content BYTEA,
			checksum TEXT NOT NULL DEFAULT '',
			size_bytes BIGINT NOT NULL DEFAULT 0,
			download_status TEXT NOT NULL DEFAULT 'pending',
			download_error TEXT NOT NULL DEFAULT '',
			downloaded_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (document_id, source_url)
		)`, s.table("document_attachments")),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			status TEXT NOT NULL DEFAULT 'running',
			product_type TEXT NOT NULL,
			total_documents INTEGER,
			processed_documents INTEGER NOT NULL DEFAULT 0,
			failed_documents INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			error_count INTEGER NOT NULL DEFAULT 0
		)`, s.table("processing_sessions")),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			source_document_id UUID NOT NULL,
			processing_session_id UUID NOT NULL,
			product_type TEXT NOT NULL,
			extracted_text TEXT,
			features JSONB NOT NULL,
			confidence_score DOUBLE PRECISION,
			processing_status TEXT NOT NULL DEFAULT 'completed',
			processing_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (source_document_id, product_type)
		)`, s.table("document_features")),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			processing_session_id UUID NOT NULL,
			document_id UUID,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`, s.table("processing_logs")),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_documents_processing_status ON %s (processing_status)`, s.table("documents")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_attachments_download_status ON %s (download_status)`, s.table("document_attachments")),
	}
}

// Migrate applies the schema. Idempotent and additive.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.migrationStatements() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return storeErr("migrate schema", err)
		}
	}
	return nil
}

// Reset drops every harvester table. Destructive; the CLI requires an
// explicit confirmation before calling it.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"processing_logs",
		"document_features",
		"processing_sessions",
		"document_attachments",
		"documents",
		"crawl_sessions",
	}
	for _, t := range tables {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s CASCADE`, s.table(t))); err != nil {
			return storeErr("reset schema", err)
		}
	}
	return nil
}
