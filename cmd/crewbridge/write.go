package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/lvar"
)

func writeCmd() *cobra.Command {
	var code bool

	cmd := &cobra.Command{
		Use:   "write TARGET [TYPE:VALUE]",
		Short: "Assign a variable or trigger an event",
		Long: `Assign a value to a simulator variable, or trigger an event when no
value is given.

Typed values: bool:ON|OFF|TRUE|FALSE|UP|DOWN|1|0, signal:UP|DOWN|1|0,
int:N, float:X. Untyped values are sent as is.

Examples:
  # Put the gear lever down
  crewbridge write L:A32NX_GEAR_LEVER_POSITION_REQUEST signal:DOWN

  # Set the flaps handle
  crewbridge write L:A32NX_FLAPS_HANDLE_INDEX int:3

  # Trigger an event
  crewbridge write K:TOGGLE_TAXI_LIGHTS

  # Send raw calculator code
  crewbridge write --code "1 (>L:A32NX_OVHD_ELEC_BAT_1_PB_IS_AUTO)"`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if code && len(args) > 1 {
				return fmt.Errorf("--code takes exactly one argument")
			}

			value := ""
			if len(args) == 2 {
				value = args[1]
			}
			if !code {
				if _, err := lvar.WriteCode(args[0], value); err != nil {
					return err
				}
			}

			broker, closeFn, err := openBroker(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			if code {
				broker.Execute(ctx, args[0])
				logger.Info("code sent", zap.String("code", args[0]))
				return nil
			}

			if err := broker.Write(ctx, args[0], value); err != nil {
				return err
			}

			logger.Info("write sent", zap.String("target", args[0]), zap.String("value", value))
			return nil
		},
	}

	cmd.Flags().BoolVar(&code, "code", false, "treat TARGET as raw calculator code")

	return cmd
}
