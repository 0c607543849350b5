package commands

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/docqa-dev/docqa-go/internal/logging"
)

// NewStatsCmd constructs the `docqa stats` command, which prints index sizes.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the number of indexed documents and chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			p, err := buildPipeline(ctx, log, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer p.Close()

			stats := &indexStats{state: p.state, store: p.store}
			docs, err := stats.DocumentCount(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			chunks, err := stats.ChunkCount(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			fmt.Printf("documents: %d\nchunks:    %d\n", docs, chunks)
			return nil
		},
	}
}
