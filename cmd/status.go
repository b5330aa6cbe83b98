package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quriousri/fda-harvester/internal/crawler"
	"github.com/quriousri/fda-harvester/internal/processing"
	"github.com/quriousri/fda-harvester/internal/session"
)

// newStatusCmd creates the 'status' subcommand. The id may name either a
// crawl session or a processing session.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show the state and counters of a session",
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

			sess, err := buildSessions(a).Status(cmd.Context(), id)
			if err == nil {
				printJSON(cmd, session.Summarize(sess))
				return nil
			}
			if !errors.Is(err, crawler.ErrSessionNotFound) {
				return err
			}

			proc, perr := a.store.GetProcessingSession(cmd.Context(), id)
			if perr != nil {
				if errors.Is(perr, crawler.ErrSessionNotFound) {
					return fmt.Errorf("session %s: %w", id, crawler.ErrSessionNotFound)
				}
				return perr
			}
			printJSON(cmd, processingSummary(proc))
			return nil
		},
	}
}

type processingStatus struct {
	ID                 string `json:"id"`
	Kind               string `json:"kind"`
	Status             string `json:"status"`
	ProductType        string `json:"product_type"`
	StartedAt          string `json:"started_at"`
	CompletedAt        string `json:"completed_at,omitempty"`
	TotalDocuments     *int   `json:"total_documents"`
	ProcessedDocuments int    `json:"processed_documents"`
	FailedDocuments    int    `json:"failed_documents"`
	ErrorCount         int    `json:"error_count"`
	LastError          string `json:"last_error,omitempty"`
}

func processingSummary(sess processing.Session) processingStatus {
	s := processingStatus{
		ID:                 sess.ID.String(),
		Kind:               "processing",
		Status:             string(sess.Status),
		ProductType:        sess.ProductType,
		StartedAt:          sess.StartedAt.Format(time.RFC3339),
		TotalDocuments:     sess.TotalDocuments,
		ProcessedDocuments: sess.ProcessedDocuments,
		FailedDocuments:    sess.FailedDocuments,
		ErrorCount:         sess.ErrorCount,
		LastError:          sess.LastError,
	}
	if sess.CompletedAt != nil {
		s.CompletedAt = sess.CompletedAt.Format(time.RFC3339)
	}
	return s
}
