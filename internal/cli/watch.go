package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"vpnpanel/internal/connection"
	"vpnpanel/internal/killswitch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow session status and log every change",
	Long: `Run headless: poll the session-status API, refresh the server catalog and
log state, kill switch and update events until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := appInstance.Logger.Named("watch")

		listen, _ := cmd.Flags().GetString("metrics")
		if listen == "" {
			listen = appInstance.Config.Metrics.Listen
		}
		if listen != "" {
			srv := metricsServer(listen)
			go func() {
				logger.Info("serving metrics", zap.String("addr", listen))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", zap.Error(err))
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
		}

		loadState(ctx)

		defer appInstance.Store.Subscribe(func(st connection.ConnectionState) {
			logger.Info("state",
				zap.Bool("connected", st.Connected),
				zap.String("reason", string(st.DisconnectReason)),
				zap.String("protocol", string(st.Protocol)),
				zap.String("encryption", string(st.Encryption)),
				zap.Bool("kill_switch", st.KillSwitch),
				zap.Int("servers", len(st.AvailableServers)))
		})()
		defer appInstance.Store.SubscribeErrors(func(e connection.UpdateError) {
			logger.Warn("update rolled back",
				zap.String("update", e.UpdateID),
				zap.String("kind", string(e.Kind)),
				zap.String("notice", e.Message),
				zap.Error(e.Err))
		})()
		defer appInstance.KillSwitch.Subscribe(func(s killswitch.Status) {
			logger.Info("kill switch", zap.String("phase", string(s.Phase)))
		})()

		if err := appInstance.Watcher.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Watching, press Ctrl+C to stop.")

		<-ctx.Done()
		return nil
	},
}

func metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(appInstance.Registry, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func init() {
	watchCmd.Flags().String("metrics", "", "serve Prometheus metrics on this address")
	rootCmd.AddCommand(watchCmd)
}
