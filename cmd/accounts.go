package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/refpulse/refpulse/internal/browser"
	"github.com/refpulse/refpulse/internal/observability"
	"github.com/refpulse/refpulse/internal/scrape"
)

var accountsLive bool

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List the accounts enabled for collection.",
	Long: `Prints the allow-listed account names. With --live, opens the browser
session and prints the enabled accounts actually visible in the app's
account menu, including their contact emails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		defer observability.Sync()

		if !accountsLive {
			names, err := scrape.NewAllowList(cfg.Scrape.AccountsFile).Enabled()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		manager := browser.NewManager(cfg, logger, func(string) {})
		defer manager.Close()

		tabCtx, err := manager.EnsureSession(ctx)
		if err != nil {
			return err
		}
		identities, err := scrape.NewDirectory(cfg, logger).ListAccounts(tabCtx)
		if err != nil {
			return err
		}
		for _, id := range identities {
			fmt.Printf("%s\t%s\n", id.DisplayName, id.ContactEmail)
		}
		return nil
	},
}

func init() {
	accountsCmd.Flags().BoolVar(&accountsLive, "live", false, "query the app's account menu instead of the allow-list file")
	rootCmd.AddCommand(accountsCmd)
}
