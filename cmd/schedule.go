package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/refpulse/refpulse/internal/observability"
	"github.com/refpulse/refpulse/internal/service"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run as a daemon, collecting on the daily schedule with hourly catch-up.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		defer observability.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engine, err := service.NewEngine(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer engine.Close()

		return engine.Scheduler.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
