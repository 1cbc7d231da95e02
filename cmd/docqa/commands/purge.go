package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/embedder"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// NewPurgeCmd constructs the `docqa purge` command, which deletes all vectors
// under a namespace. Normal runs clean up after themselves; this is the
// manual escape hatch for namespaces left behind by crashed runs.
func NewPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <namespace>",
		Short: "Delete all vectors under a namespace",
		Long: `Delete every vector stored under the given namespace in the shared
collection. Use this to reclaim space from namespaces orphaned by
interrupted runs.

Example:
  docqa purge 1714690000000-2d9c0a7e-5b1f-4c3a-9f6d-8e7a1b2c3d4e`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)
			ns := args[0]

			dims := getEnvInt("EMBEDDING_DIMENSIONS", embedder.DefaultDimensions(embedder.Backend()))

			store, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
				Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
				Port:       getEnvInt("QDRANT_PORT", 6334),
				Collection: getEnvOrDefault("QDRANT_COLLECTION", "docqa"),
				VectorSize: uint64(dims),
				APIKey:     os.Getenv("QDRANT_API_KEY"),
				UseTLS:     os.Getenv("QDRANT_TLS") == "true",
			})
			if err != nil {
				return fmt.Errorf("purge: initialise vector store: %w", err)
			}
			defer store.Close()

			count, err := store.Count(ctx, ns)
			if err != nil {
				return fmt.Errorf("purge: count namespace %s: %w", ns, err)
			}

			if err := store.Purge(ctx, ns); err != nil {
				return fmt.Errorf("purge: namespace %s: %w", ns, err)
			}

			fmt.Printf("purged namespace %s (%d vectors)\n", ns, count)
			return nil
		},
	}
}
