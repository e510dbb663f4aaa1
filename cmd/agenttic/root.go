// Package agenttic holds the CLI commands: serve, ingest, query, and
// version.
package agenttic

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agenttic/agenttic/pkg/config"
	"github.com/agenttic/agenttic/pkg/log"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	viperV  *viper.Viper
	version = "dev"
)

var RootCmd = &cobra.Command{
	Use:   "agenttic",
	Short: "Agenttic - agentic RAG service",
	Long: `Agenttic ingests web documentation recursively, indexes it for
hybrid dense+sparse retrieval, and answers questions through an agentic
orchestrator with tool use and streaming synthesis.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, viperV, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		log.SetDebug(verbose)
		return nil
	},
}

func Execute() error {
	return RootCmd.Execute()
}

// SetVersion sets the version reported by the CLI.
func SetVersion(v string) {
	version = v
	RootCmd.Version = v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("agenttic version %s\n", version)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path (default: ./agenttic.toml)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging output")

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(ingestCmd)
	RootCmd.AddCommand(queryCmd)
}
