package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"vpnpanel/internal/connection"
	"vpnpanel/internal/storage/models"
	pkgerrors "vpnpanel/pkg/errors"
)

var setCmd = &cobra.Command{
	Use:   "set <setting> <value> [<setting> <value>...]",
	Short: "Change one or more settings",
	Long: `Change settings on the dashboard. All pairs are sent as a single update.

Settings: protocol, encryption, kill-switch, dns-leak-protection, double-vpn,
obfuscation, anti-censorship. Boolean settings take on/off.

Protocol, encryption, double-vpn and obfuscation can only be changed while
disconnected.`,
	Example: `  vpnpanel set protocol openvpn-udp encryption aes-256-gcm
  vpnpanel set dns-leak-protection on`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 || len(args)%2 != 0 {
			return fmt.Errorf("expected <setting> <value> pairs")
		}
		return nil
	},
	ValidArgsFunction: completeSettings,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		patch := connection.Patch{}
		for i := 0; i < len(args); i += 2 {
			field, err := connection.ParseField(args[i])
			if err != nil {
				return err
			}
			value, err := parseValue(field, args[i+1])
			if err != nil {
				return err
			}
			patch[field] = value
		}

		loadState(ctx)
		u, err := appInstance.Store.UpdateSettings(ctx, patch)
		if err != nil {
			return userError(err)
		}

		timeout, _ := cmd.Flags().GetDuration("timeout")
		return waitUpdate(ctx, u, timeout)
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle <setting> [on|off]",
	Short: "Flip a boolean setting",
	Long: `Flip a boolean setting, or set it explicitly with on/off.

Toggles are debounced: a second request inside the cooldown window is dropped.`,
	Example:           `  vpnpanel toggle kill-switch on`,
	Args:              cobra.RangeArgs(1, 2),
	ValidArgsFunction: completeToggles,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		field, err := connection.ParseField(args[0])
		if err != nil {
			return err
		}
		control, ok := appInstance.Toggles[field]
		if !ok {
			return fmt.Errorf("%s is not a toggle, use 'vpnpanel set'", field)
		}

		loadState(ctx)
		value := !control.Value()
		if len(args) == 2 {
			if value, err = parseBool(args[1]); err != nil {
				return err
			}
		}

		u, err := control.Request(ctx, value)
		if err != nil {
			return userError(err)
		}

		timeout, _ := cmd.Flags().GetDuration("timeout")
		return waitUpdate(ctx, u, timeout)
	},
}

func parseValue(field connection.Field, s string) (any, error) {
	switch field {
	case connection.FieldProtocol:
		return models.ParseProtocol(s)
	case connection.FieldEncryption:
		return models.ParseEncryption(s)
	}
	return parseBool(s)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "yes", "enable", "enabled":
		return true, nil
	case "off", "no", "disable", "disabled":
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
	return v, nil
}

// waitUpdate blocks until u settles and reports the outcome.
func waitUpdate(ctx context.Context, u *connection.Update, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := u.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("no answer from the API after %s, update %s is still pending", timeout, u.ID())
		}
		return userError(err)
	}

	names := make([]string, 0, len(u.Fields()))
	st := appInstance.Store.Snapshot()
	for _, f := range u.Fields() {
		v := st.Value(f)
		if b, ok := v.(bool); ok {
			v = onOff(b)
		}
		names = append(names, fmt.Sprintf("%s=%v", f, v))
	}
	fmt.Printf("Updated %s\n", strings.Join(names, ", "))
	return nil
}

// userError pairs the user-facing notice with the underlying error.
func userError(err error) error {
	msg := pkgerrors.UserMessage(err)
	if msg == "" {
		return fmt.Errorf("request ignored: %w", err)
	}
	return fmt.Errorf("%s (%w)", msg, err)
}

func init() {
	setCmd.Flags().Duration("timeout", 20*time.Second, "how long to wait for the API")
	toggleCmd.Flags().Duration("timeout", 20*time.Second, "how long to wait for the API")

	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(toggleCmd)
}
