package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/autosync/internal/autosync/state"
	"github.com/mschirtzinger/autosync/internal/ui"
)

var injectCmd = &cobra.Command{
	Use:     "inject",
	GroupID: "maint",
	Short:   "Write synthetic records for recovery testing",
}

var injectLockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Record a lock that began at a given time",
	Long: `Write a locked record whose lock began at --at, with the deadline computed
from the configured delay, exactly as the detector would have written it.

Nothing is armed and sync is not touched. Use it to exercise recovery: start
the daemon, or run 'autosync reconcile', and watch the deadline be honoured.

--at accepts RFC 3339 or natural language:
  autosync inject lock --at "10 minutes ago"
  autosync inject lock --at "yesterday at 11pm"
  autosync inject lock --at 2026-01-02T15:04:05Z`,
	Run: func(cmd *cobra.Command, args []string) {
		at, _ := cmd.Flags().GetString("at")

		lockedAt, err := parseWhen(at, time.Now())
		if err != nil {
			fatalf("%v", err)
		}

		withApp(cliLogSink(), func(a *app) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			delay := a.manager.Settings().Delay
			rec, err := a.store.Update(ctx, func(rec *state.LockRecord) error {
				rec.MarkLocked(lockedAt, delay, uuid.NewString())
				return nil
			})
			if err != nil {
				return err
			}
			_ = a.store.AppendAction(ctx, state.Action{
				Kind:   state.ActionLocked,
				Source: "cli",
				Detail: "injected at " + lockedAt.Format(time.RFC3339),
			})

			fmt.Printf("%s Injected lock\n", ui.RenderAccent("✎"))
			fmt.Printf("   Locked at: %s\n", ui.FormatTime(rec.LockTimestamp))
			fmt.Printf("   Disable at: %s (%s)\n", ui.FormatTime(rec.ScheduledDisableTime),
				ui.FormatRelative(*rec.ScheduledDisableTime, time.Now()))
			return nil
		})
	},
}

func init() {
	injectLockCmd.Flags().String("at", "now", "When the lock began")
	injectCmd.AddCommand(injectLockCmd)
	rootCmd.AddCommand(injectCmd)
}

// parseWhen parses an RFC 3339 timestamp or a natural language time relative
// to now. Times in the future are rejected.
func parseWhen(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" || strings.EqualFold(text, "now") {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return checkPast(t, now)
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand time %q", text)
	}
	return checkPast(r.Time, now)
}

func checkPast(t, now time.Time) (time.Time, error) {
	if t.After(now) {
		return time.Time{}, fmt.Errorf("lock time %s is in the future", t.Format(time.RFC3339))
	}
	return t, nil
}
