package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/app"
	"github.com/dgnsrekt/crewbridge/internal/notify"
	"github.com/dgnsrekt/crewbridge/internal/poll"
)

func pollCmd() *cobra.Command {
	var (
		once     bool
		interval time.Duration
		varsFile string
	)

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Poll the configured variables and write snapshots to the sinks",
		Long: `Read every configured variable in batches on a fixed interval and hand
each snapshot to the enabled sinks (JSONL journal, MQTT, AMQP).

Degraded and recovered notifications are sent through ntfy when
NTFY_ENABLED=true.

Examples:
  # Poll forever with the configured interval
  crewbridge poll

  # Take one snapshot and print it
  crewbridge poll --once

  # Poll a different variable list every 500ms
  crewbridge poll --variables vars/a32nx.yaml --interval 500ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if varsFile != "" {
				if err := cfg.UseVariablesFile(varsFile); err != nil {
					return err
				}
			}
			if interval > 0 {
				cfg.Poll.Interval = interval
			}

			notifyCfg := notify.LoadConfig()
			if err := notifyCfg.Validate(); err != nil {
				return err
			}

			broker, closeFn, err := openBroker(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			out, err := app.BuildSink(cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := out.Close(); err != nil {
					logger.Warn("failed to close sinks", zap.Error(err))
				}
			}()

			manager := app.NewManager(broker, cfg.Poll, logger)
			loop := poll.NewLoop(manager, app.LoopConfig(cfg), out, notify.New(notifyCfg, logger), logger.Named("loop"))

			if once {
				snap, err := loop.RunOnce(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			return loop.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and print the snapshot")
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between cycles (overrides poll.interval)")
	cmd.Flags().StringVar(&varsFile, "variables", "", "YAML variable list (overrides poll.variables_file)")

	return cmd
}
