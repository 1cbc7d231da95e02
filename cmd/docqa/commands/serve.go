package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/server"
)

// NewServeCmd constructs the `docqa serve` command, which starts the HTTP
// server exposing the pipeline as a REST API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docqa HTTP server",
		Long: `Start the docqa HTTP server on localhost.

The server exposes POST /api/run ({documents, questions} -> {answers}),
liveness and readiness probes, and Prometheus metrics.

Examples:
  docqa serve
  docqa serve --port 9090
  EMBEDDING_PROVIDER=openai docqa serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("embedding_provider", os.Getenv("EMBEDDING_PROVIDER")))

			s, err := buildStack(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer s.close()

			srv, err := server.New(server.Deps{
				Processor: s.pipeline,
				Gate:      s.gate,
				Retriever: s.retriever,
				Answerer:  s.generator,
				Store:     s.store,
				History:   s.history,
			}, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: buildPingers(s),
				APIKey:  os.Getenv("DOCQA_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
