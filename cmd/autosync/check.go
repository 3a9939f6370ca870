package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/autosync/internal/autosync/detector"
	"github.com/mschirtzinger/autosync/internal/autosync/reconcile"
	"github.com/mschirtzinger/autosync/internal/ui"
)

var checkCmd = &cobra.Command{
	Use:     "check",
	GroupID: "run",
	Short:   "Evaluate the session lock state once",
	Long: `Query the session lock state now and act on any edge, exactly as the
daemon does when an event arrives (without the throttle).

A lock edge with a short delay arms the countdown in this process; check then
waits for it. Press Ctrl+C to leave the countdown to a running daemon, which
re-arms it on its next reconciliation pass.`,
	Run: func(cmd *cobra.Command, args []string) {
		withApp(cliLogSink(), func(a *app) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			edge, err := a.detector.Observe(ctx)
			if err != nil {
				return err
			}
			switch edge {
			case detector.EdgeNone:
				fmt.Printf("%s No change\n", ui.RenderPass("✓"))
			default:
				fmt.Printf("%s Edge: %s\n", ui.RenderAccent("→"), edge)
			}

			a.waitForCountdown(ctx)
			return nil
		})
	},
}

var reconcileCmd = &cobra.Command{
	Use:     "reconcile",
	GroupID: "run",
	Short:   "Run one reconciliation pass now",
	Long: `Run one reconciliation pass now: compare the persisted record with the
live lock state and the clock, and correct any drift.

Cases:
  deadline-passed  locked past the deadline; sync is disabled now
  missed-unlock    record locked but session unlocked; record cleared
  missed-lock      session locked but record unlocked; deadline from now
  rearm            short deadline pending with no countdown; re-armed
  retry-enable     an unlock failed to re-enable sync; retried`,
	Run: func(cmd *cobra.Command, args []string) {
		withApp(cliLogSink(), func(a *app) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			passCtx, cancel := context.WithTimeout(ctx, time.Minute)
			c, err := a.reconciler.RunOnce(passCtx)
			cancel()
			if err != nil {
				return err
			}
			if c == reconcile.CaseNone {
				fmt.Printf("%s Record is consistent\n", ui.RenderPass("✓"))
			} else {
				fmt.Printf("%s Reconciled: %s\n", ui.RenderWarn("!"), c)
			}

			a.waitForCountdown(ctx)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(reconcileCmd)
}
