package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"vpnpanel/internal/app"
	"vpnpanel/internal/logging"
)

var (
	appInstance *app.App
	version     = "dev"
)

// skipApp marks commands that run without the application context.
const skipApp = "skip-app"

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vpnpanel",
	Short: "vpnpanel - VPN dashboard settings from your terminal",
	Long: `vpnpanel - VPN dashboard settings from your terminal

  Inspect and change the VPN account settings that the dashboard API stores,
  follow the session status and keep an eye on the kill switch.

  Quick start:
    vpnpanel status
    vpnpanel set protocol wireguard
    vpnpanel toggle kill-switch on
    vpnpanel servers --region europe
    vpnpanel watch --metrics 127.0.0.1:9109`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := cmd.Annotations[skipApp]; ok {
			return nil
		}
		if appInstance != nil {
			return nil
		}

		opts, err := appOptions(cmd)
		if err != nil {
			return err
		}
		appInstance, err = app.New(opts)
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if appInstance != nil {
			err := appInstance.Close()
			appInstance = nil
			return err
		}
		return nil
	},
}

// appOptions reads the global flags.
func appOptions(cmd *cobra.Command) (app.Options, error) {
	configPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")
	apiURL, _ := cmd.Flags().GetString("api")
	opts := app.Options{
		ConfigPath: configPath,
		LogLevel:   logLevel,
		APIURL:     apiURL,
	}
	// The TUI owns the terminal, so its logs go to an in-memory buffer.
	if cmd.Name() == tuiCmd.Name() {
		level := logLevel
		if level == "" {
			level = "info"
		}
		logger, buf, err := logging.NewBuffered(level)
		if err != nil {
			return opts, err
		}
		opts.Logger = logger
		tuiLogs = buf
	}
	return opts, nil
}

// SetVersion sets the version string (called from main).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("api", "", "dashboard API base URL")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print version information",
	Annotations: map[string]string{skipApp: ""},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vpnpanel %s\n", version)
	},
}
