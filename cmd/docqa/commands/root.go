// Package commands defines all Cobra CLI commands for the docqa binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/audit"
	"github.com/54b3r/docqa-go/internal/config"
	"github.com/54b3r/docqa-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docqa",
		Short: "docqa — retrieval-augmented question answering over documents",
		Long: `docqa ingests a document from a URL, indexes it into a per-request
namespace in a shared vector collection, answers questions against it via
similarity retrieval and an LLM, and purges the namespace afterwards.

Configuration is read from env vars or a YAML config file
(~/.docqa/config.yaml). A local .env file is loaded if present.
See 'docqa --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Load a local .env if present; real env vars are never overridden.
			_ = godotenv.Load()

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docqa/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewRunCmd(),
		NewPurgeCmd(),
		NewHistoryCmd(),
		NewVersionCmd(),
	)

	return root
}
