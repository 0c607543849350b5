package commands

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/docqa-dev/docqa-go/internal/logging"
	"github.com/docqa-dev/docqa-go/internal/query"
)

// NewAskCmd constructs the `docqa ask` command, which answers a single
// natural language question from the indexed documents.
func NewAskCmd() *cobra.Command {
	var topK int
	var tags []string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about your documents",
		Long: `Ask a natural language question about the indexed documents.

The question is embedded, the most relevant chunks are retrieved from the
vector store, and a completion model synthesizes an answer citing the source
document and page for every claim.

Examples:
  docqa ask "when does my home insurance expire?"
  docqa ask --tags invoices "what did I pay for hosting in 2025?"
  docqa ask --top-k 10 "summarise the terms of my rental contract"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			p, err := buildPipeline(ctx, log, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer p.Close()

			syn, err := buildSynthesizer()
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			question := strings.Join(args, " ")
			chunks, err := buildEngine(p).Retrieve(ctx, question, query.Options{
				TopK: topK,
				Tags: tags,
			})
			if err != nil {
				return fmt.Errorf("ask: retrieval failed: %w", err)
			}

			ans, err := syn.Synthesize(ctx, question, chunks)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Println(ans.Text)
			if len(ans.Citations) > 0 {
				fmt.Println("\nSources:")
				for _, c := range ans.Citations {
					line := fmt.Sprintf("  - %s, page %d (score %.2f)", c.Title, c.Page, c.Score)
					if c.URL != "" {
						line += " " + c.URL
					}
					fmt.Println(line)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (default from RAG_TOP_K)")
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "Restrict retrieval to documents carrying any of these tags")

	return cmd
}
