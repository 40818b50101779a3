package main

import (
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/crewbridge/internal/app"
)

func relayCmd() *cobra.Command {
	var (
		useZMQ bool
		addr   string
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Expose the local bridge to remote brokers",
		Long: `Drive the local bridge transport on behalf of remote brokers. Remote
processes connect with --transport ws to ws://HOST:PORT/bridge, or with
--transport zmq when the relay runs with --zmq (requires a zmq build).

Only one remote broker should be connected at a time: variable ids are
allocated per broker and would collide on a shared host.

Examples:
  crewbridge -t sim relay --addr :8765
  crewbridge -t sim relay --zmq`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Server.RelayAddr = addr
			}
			return app.RunRelay(cmd.Context(), cfg, useZMQ, logger)
		},
	}

	cmd.Flags().BoolVar(&useZMQ, "zmq", false, "serve over ZeroMQ on bridge.zmq_request/bridge.zmq_data")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.relay_addr)")

	return cmd
}
