package cli

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kunhuang12345/atwf/internal/dashboard"
	"github.com/kunhuang12345/atwf/internal/mux"
	"github.com/kunhuang12345/atwf/internal/watcher"
)

const shutdownGrace = 5 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the tick loop: sample worker output, sweep requests, and fire anti-stall drive nudges",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("dashboard-addr", "", "serve the read-only status dashboard on this address, e.g. :8080 (disabled if empty)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")

	timeout := time.Duration(a.Cfg.SubprocessTimeoutSeconds) * time.Second
	m := mux.New(timeout, 10)
	w := watcher.New(a.Cfg, cfgPath, a.Clock, m, a.Logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dashboardAddr, _ := cmd.Flags().GetString("dashboard-addr")
	if dashboardAddr != "" {
		h := dashboard.NewHandler(a.Cfg, a.Registry, a.Agent, a.Requests, a.Drive)
		srvMux := http.NewServeMux()
		h.RegisterRoutes(srvMux)
		srv := &http.Server{Addr: dashboardAddr, Handler: srvMux}
		go func() {
			a.Logger.Printf("dashboard listening on %s", dashboardAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.Logger.Printf("dashboard server error: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	fmt.Printf("watching %s (interval=%ds)\n", a.Cfg.TeamDir, a.Cfg.WatchIntervalSeconds)
	w.Run(ctx)
	return nil
}
