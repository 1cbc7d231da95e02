package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/logging"
)

// NewHistoryCmd constructs the `docqa history` command, which lists the most
// recent pipeline runs recorded in the local history database.
func NewHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent pipeline runs",
		Long: `List the most recent pipeline runs recorded in the local history
database (~/.docqa/history.db by default, DOCQA_HISTORY_DB to override).

Example:
  docqa history --limit 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()

			store := openHistory(log)
			if store == nil {
				return fmt.Errorf("history: no history database available")
			}
			defer store.Close()

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			for _, r := range runs {
				fmt.Printf("%s  %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"), r.DocumentURL)
				fmt.Printf("  namespace=%s pages=%d chunks=%d batches=%d/%d questions=%d duration=%s\n",
					r.Namespace, r.Pages, r.Chunks,
					r.BatchesSucceeded, r.BatchesAttempted,
					r.Questions, r.Duration.Round(time.Millisecond))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of runs to list")

	return cmd
}
