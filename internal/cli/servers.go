package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"vpnpanel/internal/storage"
	"vpnpanel/internal/storage/models"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		region, _ := cmd.Flags().GetString("region")
		premiumOnly, _ := cmd.Flags().GetBool("premium")
		cached, _ := cmd.Flags().GetBool("cached")

		filter := storage.ServerFilter{Region: region, PremiumOnly: premiumOnly}

		var selectedID string
		if !cached {
			st := loadState(ctx)
			if st.SelectedServer != nil {
				selectedID = st.SelectedServer.ID
			}
		} else if id, err := appInstance.Storage.GetPreference(ctx, storage.PrefSelectedServer); err == nil {
			selectedID = id
		}

		// Load refreshes the cache, so both paths read it for filtering.
		servers, err := appInstance.Storage.GetServers(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to get servers: %w", err)
		}

		if len(servers) == 0 {
			fmt.Println("No servers found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  \tID\tNAME\tLOCATION\tREGION\tLATENCY\tLOAD\tPLAN")
		fmt.Fprintln(w, "  \t--\t----\t--------\t------\t-------\t----\t----")
		for _, s := range servers {
			marker := " "
			if s.ID == selectedID {
				marker = "*"
			}
			plan := "all"
			if s.Premium {
				plan = "premium"
			}
			fmt.Fprintf(w, "%s \t%s\t%s\t%s\t%s\t%d ms\t%d%%\t%s\n",
				marker, s.ID, s.Name, location(s), s.Region, s.Latency, s.Load, plan)
		}
		w.Flush()

		fmt.Printf("\nTotal: %d servers\n", len(servers))
		return nil
	},
}

var selectCmd = &cobra.Command{
	Use:               "select <server-id>",
	Short:             "Select the server for the next connection",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeServerIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st := loadState(ctx)

		for _, s := range st.AvailableServers {
			if strings.EqualFold(s.ID, args[0]) {
				appInstance.Store.SelectServer(s)
				fmt.Printf("Selected %s (%s)\n", s.Name, location(s))
				return nil
			}
		}
		return fmt.Errorf("server not found: %s", args[0])
	},
}

func location(s models.ServerRef) string {
	switch {
	case s.City != "" && s.Country != "":
		return s.City + ", " + s.Country
	case s.Country != "":
		return s.Country
	}
	return "-"
}

func init() {
	serversCmd.Flags().StringP("region", "r", "", "only servers in this region")
	serversCmd.Flags().Bool("premium", false, "only premium servers")
	serversCmd.Flags().Bool("cached", false, "use the local catalog without calling the API")

	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(selectCmd)
}
