package cmd

import (
	"github.com/runninghub-studio/studio/internal/config"
	"github.com/runninghub-studio/studio/internal/logger"
	"github.com/runninghub-studio/studio/internal/runninghub"
	"github.com/runninghub-studio/studio/internal/server"
	"github.com/runninghub-studio/studio/internal/server/handler"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var host, port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the RunningHub proxy server",
		Long: `Starts the HTTP proxy in front of the RunningHub workflow API.

RunningHub settings are read from the environment (a .env file is loaded
first) or from config.yaml. Every RUNNINGHUB_* key may be suffixed with a
workflow type, e.g. RUNNINGHUB_WORKFLOW_ID_IMAGE_REPAIR.`,
		Example: `  # Listen on the default 127.0.0.1:8788
  studio serve

  # Listen on every interface
  studio serve --host 0.0.0.0 --port 9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Server(a.v)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cfg.Production {
				server.SetReleaseMode()
			}

			rh := runninghub.NewClient(runninghub.Options{
				Resolver:       config.NewResolver(config.NewViperSource(a.v)),
				RequestTimeout: cfg.RequestTimeout,
			})
			logger.Infof("service is starting, host: %s, port: %s", cfg.Host, cfg.Port)
			return server.Start(cmd.Context(), cfg, handler.New(rh))
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "address to bind (overrides config)")
	cmd.Flags().StringVarP(&port, "port", "p", "", "port to listen on (overrides config)")
	return cmd
}
