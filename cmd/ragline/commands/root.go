// Package commands defines all Cobra CLI commands for the ragline binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/kb4n0/ragline-go/internal/audit"
	"github.com/kb4n0/ragline-go/internal/config"
	"github.com/kb4n0/ragline-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragline",
		Short: "ragline — adaptive retrieval-augmented question answering",
		Long: `ragline is a local-first question-answering service over a curated
knowledge base.

Questions are routed through an adaptive workflow: the model decides whether
to retrieve from the vector store, grades what it retrieved, and rephrases
the question when the results miss — before composing a grounded answer.
Content is ingested from URLs, chunked, embedded, and stored in Qdrant.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.ragline/config.yaml).
See 'ragline --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
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

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragline/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewDeleteCmd(),
		NewVersionCmd(),
	)

	return root
}
