package cli

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"vpnpanel/internal/app"
	"vpnpanel/internal/connection"
	"vpnpanel/internal/storage"
	"vpnpanel/internal/storage/models"
)

var settingNames = []string{
	"protocol", "encryption", "kill-switch", "dns-leak-protection",
	"double-vpn", "obfuscation", "anti-censorship",
}

// ensureApp lazily initializes appInstance for shell completion.
// Cobra may invoke ValidArgsFunction without running PersistentPreRunE.
func ensureApp(cmd *cobra.Command) error {
	if appInstance != nil {
		return nil
	}
	opts, err := appOptions(cmd)
	if err != nil {
		return err
	}
	appInstance, err = app.New(opts)
	return err
}

func filterPrefix(candidates []string, toComplete string) []string {
	var completions []string
	for _, c := range candidates {
		if strings.HasPrefix(strings.ToLower(c), strings.ToLower(toComplete)) {
			completions = append(completions, c)
		}
	}
	return completions
}

// completeSettings completes alternating setting names and values.
func completeSettings(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args)%2 == 0 {
		return filterPrefix(settingNames, toComplete), cobra.ShellCompDirectiveNoFileComp
	}

	field, err := connection.ParseField(args[len(args)-1])
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	var values []string
	switch field {
	case connection.FieldProtocol:
		for _, p := range models.Protocols {
			values = append(values, string(p))
		}
	case connection.FieldEncryption:
		for _, e := range models.Encryptions {
			values = append(values, string(e))
		}
	default:
		values = []string{"on", "off"}
	}
	return filterPrefix(values, toComplete), cobra.ShellCompDirectiveNoFileComp
}

// completeToggles completes boolean setting names, then on/off.
func completeToggles(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	switch len(args) {
	case 0:
		return filterPrefix(settingNames[2:], toComplete), cobra.ShellCompDirectiveNoFileComp
	case 1:
		return filterPrefix([]string{"on", "off"}, toComplete), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

// completeServerIDs completes server IDs from the local catalog.
func completeServerIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	if err := ensureApp(cmd); err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	servers, err := appInstance.Storage.GetServers(context.Background(), storage.ServerFilter{})
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	var completions []string
	for _, s := range servers {
		if strings.HasPrefix(strings.ToLower(s.ID), strings.ToLower(toComplete)) {
			completions = append(completions, s.ID+"\t"+s.Name)
		}
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate a shell completion script for vpnpanel.

  $ source <(vpnpanel completion bash)
  $ vpnpanel completion zsh > "${fpath[1]}/_vpnpanel"
  $ vpnpanel completion fish | source

Setting names, values and cached server IDs are completed.`,
	DisableFlagsInUseLine: true,
	Annotations:           map[string]string{skipApp: ""},
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(os.Stdout, true)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
