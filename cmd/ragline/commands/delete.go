package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// NewDeleteCmd constructs the `ragline delete` command, which removes all
// indexed chunks originating from a single source URL.
func NewDeleteCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete all indexed chunks for a source URL",
		Long: `Remove every chunk whose source metadata matches the given URL.

Deleting a source that was never ingested is not an error; the command
reports zero deletions.

Examples:
  ragline delete --source https://raft.github.io/raft.pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()

			if source == "" {
				return fmt.Errorf("delete: --source is required")
			}

			emb, kb, err := buildKnowledgeBase(ctx, log)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			defer kb.Close()

			pipeline, err := newPipeline(emb, kb)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}

			deleted, err := pipeline.DeleteBySource(ctx, source)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}

			if deleted == 0 {
				log.Info("no chunks matched source", slog.String("source", source))
				return nil
			}
			log.Info("chunks deleted",
				slog.String("source", source),
				slog.Int("deleted", deleted),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "Source URL whose chunks should be removed")

	return cmd
}
