package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/app"
	"github.com/dgnsrekt/crewbridge/internal/config"
	"github.com/dgnsrekt/crewbridge/internal/lvar"
)

func readCmd() *cobra.Command {
	var (
		timeout time.Duration
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "read NAME...",
		Short: "Read one or more variables",
		Long: `Read the current value of one or more simulator variables.

Names are sent as host expressions; bare names are wrapped in parentheses.
A variable that does not answer within the timeout reads as 0.

Examples:
  # Read a single local variable
  crewbridge read L:A32NX_GEAR_LEVER_POSITION_REQUEST

  # Read several at once as JSON
  crewbridge read --json L:A32NX_AUTOPILOT_1_ACTIVE L:A32NX_AUTOTHRUST_STATUS

  # Read against the in-process simulated host
  crewbridge -t sim read L:A32NX_PARK_BRAKE_LEVER_POS`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := config.ValidateVariables(args); err != nil {
				return err
			}

			broker, closeFn, err := openBroker(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			if timeout <= 0 {
				timeout = cfg.Broker.Timeout
			}

			values := make(map[string]float64, len(args))
			if len(args) == 1 {
				v, err := broker.Lookup(ctx, lvar.Expr(args[0]), timeout)
				if err != nil {
					logger.Warn("read failed", zap.String("name", args[0]), zap.Error(err))
				}
				values[args[0]] = v
			} else {
				pollCfg := cfg.Poll
				pollCfg.TimeoutPerVar = timeout
				res, err := app.NewManager(broker, pollCfg, logger).Execute(ctx, args)
				if err != nil {
					return err
				}
				for _, e := range res.Errors {
					logger.Warn("read failed", zap.String("error", e))
				}
				values = res.Values
				if res.Cancelled {
					return fmt.Errorf("read cancelled after %d/%d variables", res.Completed, res.Total)
				}
			}

			return printValues(os.Stdout, values, asJSON)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "wait per variable (defaults to broker.timeout)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print values as JSON")

	return cmd
}
