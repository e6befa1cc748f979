package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/refpulse/refpulse/internal/observability"
	"github.com/refpulse/refpulse/internal/service"
)

var runForce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one collection run immediately and exit.",
	Long: `Runs a single collection pass over the enabled accounts for today.
Accounts already collected today are skipped unless --force is given.`,
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

		if err := engine.Orchestrator.Run(ctx, runForce); err != nil {
			logger.Error("Collection run failed", zap.Error(err))
			return err
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runForce, "force", false, "re-collect accounts already recorded successful today")
	rootCmd.AddCommand(runCmd)
}
