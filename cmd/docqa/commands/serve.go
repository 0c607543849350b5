package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/docqa-dev/docqa-go/internal/logging"
	"github.com/docqa-dev/docqa-go/internal/server"
)

// NewServeCmd constructs the `docqa serve` command, which starts the HTTP
// API server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docqa HTTP API server",
		Long: `Start the docqa HTTP server on localhost.

The server exposes POST /api/ask for question answering, POST /api/ingest to
trigger syncs, GET /api/documents (plus /{id} and /search) to browse the
source with index state, DELETE /api/documents/{id} to drop a document from
the index, GET /api/stats for index sizes, and the usual /api/health,
/api/ready and /metrics endpoints.

Examples:
  docqa serve
  docqa serve --port 9090
  DOCQA_API_KEY=s3cret docqa serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			reg := prometheus.NewRegistry()

			p, err := buildPipeline(ctx, log, reg)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer p.Close()

			syn, err := buildSynthesizer()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			srv, err := server.New(server.Deps{
				Retriever:   buildEngine(p),
				Synthesizer: syn,
				Ingestor:    p.orch,
				Catalog:     p.source,
				Index:       p.state,
				Stats:       &indexStats{state: p.state, store: p.store},
			}, &server.Config{
				Host:   host,
				Port:   port,
				Logger: log,
				Pingers: []server.Pinger{
					server.NewDependencyPinger("source", p.source),
					server.NewDependencyPinger("qdrant", p.store),
					server.NewDependencyPinger("state", p.state),
					server.NewEmbedderPinger(p.embedder),
					server.NewCompletionConfigPinger(os.Getenv("OPENROUTER_API_KEY")),
				},
				APIKey:   os.Getenv("DOCQA_API_KEY"),
				Registry: reg,
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
