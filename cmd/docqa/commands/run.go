package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/history"
	"github.com/54b3r/docqa-go/internal/ingest"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/search"
)

// NewRunCmd constructs the `docqa run` command: a one-shot pipeline run that
// ingests a document, answers the given questions against it, and purges the
// namespace before exiting.
func NewRunCmd() *cobra.Command {
	var questions []string

	cmd := &cobra.Command{
		Use:   "run <document-url>",
		Short: "Answer questions against a document in one shot",
		Long: `Run the full pipeline once from the command line: fetch and index the
document, answer each --question against it, print the answers, and clean
up the namespace.

Examples:
  docqa run https://example.com/policy.pdf -q "What is the grace period?"
  docqa run https://example.com/policy.pdf \
    -q "What is covered?" -q "What is excluded?"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(questions) == 0 {
				return fmt.Errorf("run: at least one --question is required")
			}

			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)
			documentURL := args[0]
			start := time.Now()

			s, err := buildStack(ctx, log)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			defer s.close()

			report, err := s.pipeline.ProcessDocument(ctx, documentURL)
			if err != nil && !errors.Is(err, ingest.ErrDegradedIngestion) {
				return fmt.Errorf("run: %w", err)
			}
			if err != nil {
				log.Warn("run: proceeding with degraded ingestion", slog.Any("error", err))
			}
			defer search.Cleanup(ctx, s.store, report.Namespace)

			if !s.gate.AwaitReady(ctx, report.Namespace) {
				log.Warn("run: namespace never reported ready, querying anyway")
			}

			results := s.retriever.Retrieve(ctx, report.Namespace, questions, 0)
			answers := s.generator.Answer(ctx, results)

			for i, ans := range answers {
				fmt.Printf("%d. %s\n   %s\n", i+1, questions[i], ans)
			}

			if s.history != nil {
				run := history.Run{
					Namespace:   report.Namespace,
					DocumentURL: documentURL,
					Pages:       report.Pages,
					Chunks:      report.Chunks,
					Questions:   len(questions),
					Duration:    time.Since(start),
				}
				if report.Write != nil {
					run.BatchesAttempted = report.Write.Attempted
					run.BatchesSucceeded = report.Write.Succeeded
				}
				if err := s.history.Record(ctx, run); err != nil {
					log.Warn("run: history record failed", slog.Any("error", err))
				}
			}

			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&questions, "question", "q", nil, "Question to answer (repeatable)")

	return cmd
}
