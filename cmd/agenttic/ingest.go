package agenttic

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/ingest"
)

var ingestDepth int

var ingestCmd = &cobra.Command{
	Use:   "ingest <url>",
	Short: "Ingest a web document",
	Long:  `Fetch, chunk, embed, and index one URL, printing pipeline progress.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, err := buildServices(context.Background(), cfg)
		if err != nil {
			return fmt.Errorf("initialize services: %w", err)
		}
		defer svcs.close()

		req := domain.IngestRequest{URL: args[0]}
		if cmd.Flags().Changed("depth") {
			req.RecursiveDepth = &ingestDepth
		}

		resp, err := svcs.ingest.Ingest(cmd.Context(), "", req, ingest.Progress{
			OnStatus: func(stage string) { fmt.Printf("-> %s\n", stage) },
			OnProgress: func(done, total int) {
				fmt.Printf("   embedded %d/%d chunks\n", done, total)
			},
		})
		if err != nil {
			return err
		}

		fmt.Printf("Ingested %q (%d chunks) into %s (source %d)\n",
			resp.DocumentName, resp.TotalChunks, resp.CollectionName, resp.SourceID)
		return nil
	},
}

func init() {
	ingestCmd.Flags().IntVar(&ingestDepth, "depth", 0, "recursion depth (overrides config)")
}
