package agenttic

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agenttic/agenttic/api"
	"github.com/agenttic/agenttic/api/handlers"
	"github.com/agenttic/agenttic/pkg/config"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API service",
	Long:  `Start the HTTP server exposing ingestion, query, and collection endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if serveHost != "" {
			cfg.Server.Host = serveHost
		}

		svcs, err := buildServices(context.Background(), cfg)
		if err != nil {
			return fmt.Errorf("initialize services: %w", err)
		}
		defer svcs.close()

		handler := handlers.New(handlers.Options{
			Ingest:       svcs.ingest,
			Retrieval:    svcs.retrieval,
			Orchestrator: svcs.orchestrator,
			Meta:         svcs.meta,
			Store:        svcs.store,
			Collection:   svcs.collection,
			Reload:       func() { svcs.reloadOverrides(cfg) },
		})

		config.Watch(viperV, func(fresh *config.Config) {
			svcs.applyHotReload(fresh)
		})

		server := api.NewServer(cfg.Server, handler)
		return server.Start()
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "server port (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "server host (overrides config)")
}
