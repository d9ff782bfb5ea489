package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"vpnpanel/internal/connection"
	"vpnpanel/internal/killswitch"
)

const loadTimeout = 15 * time.Second

// loadState seeds the store. A failed load is reported but not fatal; the
// defaults are shown instead.
func loadState(ctx context.Context) connection.ConnectionState {
	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	if err := appInstance.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: showing defaults, settings could not be loaded: %v\n\n", err)
	}
	return appInstance.Store.Snapshot()
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection status and settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st := loadState(ctx)

		printState(st, appInstance.KillSwitch.Phase())

		history, _ := cmd.Flags().GetInt("history")
		if history > 0 {
			return printHistory(ctx, history)
		}
		return nil
	},
}

func printState(st connection.ConnectionState, phase killswitch.Phase) {
	fmt.Println("Connection:")
	if st.Connected {
		since := "-"
		if st.ConnectTime != nil {
			since = fmt.Sprintf("%s (%s)", st.ConnectTime.Local().Format(time.DateTime),
				time.Since(*st.ConnectTime).Round(time.Second))
		}
		fmt.Printf("  Status:      connected\n")
		fmt.Printf("  Since:       %s\n", since)
	} else {
		fmt.Printf("  Status:      disconnected")
		if st.DisconnectReason == connection.DisconnectDropped {
			fmt.Printf(" (dropped)")
		}
		fmt.Println()
	}
	if st.SelectedServer != nil {
		fmt.Printf("  Server:      %s (%s)\n", st.SelectedServer.Name, st.SelectedServer.ID)
	}
	fmt.Printf("  Kill switch: %s\n", phase)
	fmt.Printf("  Plan:        %s\n", st.Subscription)

	fmt.Println("\nSettings:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  protocol\t%s\n", st.Protocol)
	fmt.Fprintf(w, "  encryption\t%s\n", st.Encryption)
	for _, f := range connection.BoolFields {
		fmt.Fprintf(w, "  %s\t%s\n", f, onOff(st.Bool(f)))
	}
	w.Flush()
}

func printHistory(ctx context.Context, limit int) error {
	records, err := appInstance.Storage.GetUpdateHistory(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to read update history: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("\nNo updates recorded.")
		return nil
	}

	fmt.Println("\nRecent updates:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tFIELDS\tRESULT\tERROR")
	for _, r := range records {
		errText := r.ErrorKind
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
			r.SettledAt.Local().Format(time.DateTime), strings.Join(r.Fields, ","), r.Phase, errText)
	}
	return w.Flush()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func init() {
	statusCmd.Flags().Int("history", 0, "also show the last N settings updates")
	rootCmd.AddCommand(statusCmd)
}
