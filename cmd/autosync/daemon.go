package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/autosync/internal/autosync/daemon"
	"github.com/mschirtzinger/autosync/internal/autosync/dashboard"
	"github.com/mschirtzinger/autosync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "run",
	Short:   "Run the autosync daemon (foreground)",
	Long: `Run the autosync daemon in the foreground.

The daemon will:
  1. Re-arm a countdown left pending by a previous run
  2. Run one reconciliation pass to catch up on anything missed
  3. Watch the logind session for lock and unlock
  4. Turn sync off once the session has stayed locked for the delay
  5. Turn sync back on at unlock

Logs go to the configured log file, and to stderr when it is a terminal.
With --listen (or status.listen) a WebSocket status feed is served:
  ws://<addr>/ws     record and action messages
  http://<addr>/status  current record as JSON`,
	Run: func(cmd *cobra.Command, args []string) {
		listen, _ := cmd.Flags().GetString("listen")
		if err := runDaemon(listen); err != nil {
			fatalf("%v", err)
		}
	},
}

func init() {
	daemonCmd.Flags().String("listen", "", "Serve the status feed on this address (e.g. 127.0.0.1:8765)")
	rootCmd.AddCommand(daemonCmd)
}

// runDaemon returns instead of exiting so deferred cleanup checkpoints the
// store and flushes the log file.
func runDaemon(listen string) error {
	logs := daemonLogSink()
	a, err := newApp(logs)
	if err != nil {
		return err
	}
	defer a.Close()

	// Settings follow the file; the next decision sees an edit
	a.manager.Watch(nil)

	if listen == "" {
		listen = a.cfg.Status.Listen
	}
	if listen != "" {
		server := dashboard.NewServer(&dashboard.Config{
			Addr: listen,
			Status: func(ctx context.Context) (interface{}, error) {
				return a.store.Read(ctx)
			},
			Logger: logs.logger("status"),
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start status feed: %w", err)
		}
		defer server.Stop()
		dashboard.NewHandler(server, logs.logger("status")).Attach(a.store)
		fmt.Printf("Status feed: ws://%s/ws\n", server.GetAddr())
	}

	dc := daemon.DefaultConfig()
	dc.SessionDir = a.logind.SessionDir()
	dc.Session = a.logind.SessionID()
	dc.PollInterval = a.cfg.Session.PollInterval
	dc.MonitorSignals = a.cfg.Session.MonitorSignals
	dc.Signals.Logger = logs.logger("signals")
	dc.Logger = logs.logger("daemon")

	d, err := daemon.NewWithConfig(daemon.Deps{
		Detector:   a.detector,
		Timer:      a.timer,
		Reconciler: a.reconciler,
	}, dc)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	fmt.Printf("%s Starting autosync daemon\n", ui.RenderAccent("▶"))
	fmt.Printf("   Session: %s\n", a.logind.SessionID())
	fmt.Printf("   Enabled: %v, delay %d min\n", a.cfg.Enabled, a.cfg.DelayMinutes)
	fmt.Printf("   State: %s\n", a.cfg.State.Path)
	fmt.Printf("   Log: %s\n", a.cfg.Log.Path)
	fmt.Printf("\nPress Ctrl+C to stop\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("daemon stopped with error: %w", err)
	}
	return nil
}
