package main

import (
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/crewbridge/internal/app"
	"github.com/dgnsrekt/crewbridge/internal/notify"
)

func serveCmd() *cobra.Command {
	var (
		noPoll bool
		addr   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, status endpoint and dashboard WebSocket",
		Long: `Serve the HTTP API: GET /status, /api/health, /api/info, /api/snapshot,
/api/vars and /api/vars/{name}; POST /api/vars/{name} and /api/clear; and
the dashboard WebSocket on /ws. The configured variables are polled in the
background unless --no-poll is given.

Examples:
  crewbridge serve
  crewbridge serve --addr :9090 --no-poll`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Server.Addr = addr
			}

			notifyCfg := notify.LoadConfig()
			if err := notifyCfg.Validate(); err != nil {
				return err
			}

			return app.RunService(cmd.Context(), cfg, app.ServiceOptions{
				Poll:     !noPoll,
				Notifier: notify.New(notifyCfg, logger),
			}, logger)
		},
	}

	cmd.Flags().BoolVar(&noPoll, "no-poll", false, "serve the API without the poll loop")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}
