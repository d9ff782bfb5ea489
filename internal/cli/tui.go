package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vpnpanel/internal/logging"
	"vpnpanel/internal/tui"
)

// tuiLogs receives log output while the full-screen UI owns the terminal.
var tuiLogs *logging.Buffer

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the interactive dashboard",
	Long: `Launch the full-screen dashboard for the VPN connection: live status,
feature toggles, server selection, kill switch control and recent activity.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		loadState(ctx)

		if err := appInstance.Watcher.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := appInstance.Watcher.Stop(); err != nil {
				appInstance.Logger.Warn("failed to stop session watcher", zap.Error(err))
			}
		}()

		deps := tui.Deps{
			Store:      appInstance.Store,
			KillSwitch: appInstance.KillSwitch,
			Toggles:    appInstance.Toggles,
			Storage:    appInstance.Storage,
			Logs:       tuiLogs,
		}

		p := tui.NewProgram(deps)
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}
