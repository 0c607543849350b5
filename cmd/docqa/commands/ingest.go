package commands

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/docqa-dev/docqa-go/internal/ingest"
	"github.com/docqa-dev/docqa-go/internal/logging"
)

// NewIngestCmd constructs the `docqa ingest` command, which syncs the
// document source into the vector store.
func NewIngestCmd() *cobra.Command {
	var full bool
	var force bool
	var documentID int
	var updatedAfter string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Sync documents from the source into the vector store",
		Long: `Fetch documents from the configured source, extract and chunk their text,
embed the chunks, and index them in Qdrant.

By default only documents modified since the last successful run are
considered (incremental sync). Unchanged documents are detected by content
hash and skipped without any embedding calls.

Required environment variables:
  SOURCE_BASE_URL      Document source API base URL
  SOURCE_API_TOKEN     Document source API token
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_COLLECTION    Collection name (default: docqa_chunks)
  EMBEDDING_PROVIDER   Embedding backend: ollama, openai, azure (default: ollama)

Examples:
  docqa ingest
  docqa ingest --full
  docqa ingest --full --force
  docqa ingest --document 42
  docqa ingest --updated-after 2026-08-01T00:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			p, err := buildPipeline(ctx, log, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer p.Close()

			if documentID > 0 {
				res := p.orch.IngestDocument(ctx, documentID, force)
				switch res.Status {
				case ingest.StatusFailed:
					return fmt.Errorf("ingest: document %s: %w", res.DocumentID, res.Err)
				case ingest.StatusSkipped:
					fmt.Printf("document %s skipped: %s\n", res.DocumentID, res.Reason)
				default:
					fmt.Printf("document %s indexed: %d chunks\n", res.DocumentID, res.Chunks)
				}
				return nil
			}

			var sum *ingest.Summary
			if updatedAfter != "" {
				since, perr := time.Parse(time.RFC3339, updatedAfter)
				if perr != nil {
					return fmt.Errorf("ingest: invalid --updated-after value %q: %w", updatedAfter, perr)
				}
				sum, err = p.orch.SyncSince(ctx, since, force)
			} else {
				sum, err = p.orch.Sync(ctx, full, force)
			}
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			fmt.Printf("sync finished in %s: %d documents (%d indexed, %d skipped, %d failed, %d pruned)\n",
				sum.Duration.Round(time.Millisecond), sum.Total, sum.Indexed, sum.Skipped, sum.Failed, sum.Pruned)
			for _, res := range sum.Results {
				if res.Status == ingest.StatusFailed {
					fmt.Printf("  failed: %s (%s): %v\n", res.DocumentID, res.Title, res.Err)
				}
			}
			if sum.Failed > 0 {
				return fmt.Errorf("ingest: %d documents failed", sum.Failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Walk the whole source listing and prune deleted documents")
	cmd.Flags().BoolVar(&force, "force", false, "Re-embed documents even when their content is unchanged")
	cmd.Flags().IntVarP(&documentID, "document", "d", 0, "Ingest a single document by source ID")
	cmd.Flags().StringVar(&updatedAfter, "updated-after", "", "Sync documents modified after this RFC3339 timestamp (overrides the stored watermark)")

	return cmd
}
