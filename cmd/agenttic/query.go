package agenttic

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/orchestrator"
	"github.com/agenttic/agenttic/pkg/retrieval"
)

var (
	queryTopK   int
	queryHybrid bool
	queryAgent  bool
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question over the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, err := buildServices(context.Background(), cfg)
		if err != nil {
			return fmt.Errorf("initialize services: %w", err)
		}
		defer svcs.close()

		question := strings.Join(args, " ")
		ctx := cmd.Context()

		if !queryAgent {
			resp, err := svcs.retrieval.Answer(ctx, domain.QueryRequest{
				Query:     question,
				TopK:      queryTopK,
				UseHybrid: queryHybrid,
			}, domain.SessionIngest)
			if err != nil {
				return err
			}
			printAnswer(resp.Answer, len(resp.Sources))
			return nil
		}

		chunks, err := svcs.retrieval.Retrieve(ctx, question, queryTopK, domain.SessionIngest, nil, queryHybrid)
		if err != nil {
			return err
		}

		result, err := svcs.orchestrator.Run(ctx, question, retrieval.Contexts(chunks), domain.RunConfig{}, orchestrator.Events{
			OnStatus:    func(stage string) { fmt.Printf("-> %s\n", stage) },
			OnReasoning: func(text string) { fmt.Printf("   %s\n", text) },
		})
		if err != nil {
			return err
		}
		printAnswer(result.Answer, len(chunks))
		return nil
	},
}

func printAnswer(answer string, sources int) {
	fmt.Println()
	fmt.Println(answer)
	fmt.Printf("\n(%d source passages)\n", sources)
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "retrieval candidate budget (overrides config)")
	queryCmd.Flags().BoolVar(&queryHybrid, "hybrid", true, "use hybrid dense+sparse retrieval")
	queryCmd.Flags().BoolVar(&queryAgent, "agent", false, "answer through the agentic orchestrator")
}
