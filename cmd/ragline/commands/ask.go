package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kb4n0/ragline-go/internal/provider"
)

// NewAskCmd constructs the `ragline ask` command, which runs a single
// question through the retrieval workflow and prints the answer to stdout.
func NewAskCmd() *cobra.Command {
	var showTrace bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against the knowledge base",
		Long: `Ask a single natural language question and print the answer.

The workflow decides whether the question needs retrieval, grades the
retrieved chunks for relevance, and rewrites the question when the results
are off-topic before answering.

Examples:
  ragline ask "how does raft handle leader election?"
  ragline ask --trace "what are the tradeoffs of HNSW indexes?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			emb, kb, err := buildKnowledgeBase(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer kb.Close()

			ctrl, err := buildController(chatModel, emb, kb, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer ctrl.Close()

			eng, err := ctrl.Ensure(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to build workflow: %w", err)
			}

			trace, err := eng.Run(ctx, args[0])
			if err != nil {
				return fmt.Errorf("ask: workflow failed: %w", err)
			}

			if showTrace {
				fmt.Fprintln(os.Stderr, trace.Render())
			}
			fmt.Println(trace.FinalMessage())
			return nil
		},
	}

	cmd.Flags().BoolVar(&showTrace, "trace", false, "Print the step-by-step workflow trace to stderr")

	return cmd
}
