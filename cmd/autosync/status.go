package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/autosync/internal/autosync"
	"github.com/mschirtzinger/autosync/internal/autosync/state"
	"github.com/mschirtzinger/autosync/internal/ui"
)

// statusReport is everything `autosync status` shows.
type statusReport struct {
	Enabled           bool             `json:"enabled" yaml:"enabled"`
	DelayMinutes      int              `json:"delayMinutes" yaml:"delayMinutes"`
	ReenablePolicy    string           `json:"reenablePolicy" yaml:"reenablePolicy"`
	PermissionGranted bool             `json:"permissionGranted" yaml:"permissionGranted"`
	Session           string           `json:"session" yaml:"session"`
	SessionLocked     *bool            `json:"sessionLocked,omitempty" yaml:"sessionLocked,omitempty"`
	SyncEnabled       *bool            `json:"syncEnabled,omitempty" yaml:"syncEnabled,omitempty"`
	Strategy          string           `json:"strategy" yaml:"strategy"`
	Record            state.LockRecord `json:"record" yaml:"record"`
	RecentActions     []state.Action   `json:"recentActions" yaml:"recentActions"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "inspect",
	Short:   "Show the lock record, settings and recent actions",
	Long: `Show the persisted lock record, the effective settings, the live session
and sync state, and the most recent actions.

The strategy is how the pending deadline (or, with nothing pending, the
configured delay) would be carried: "exact" by the in-process timer or
"reconcile-only" by the periodic reconciliation pass.`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		limit, _ := cmd.Flags().GetInt("actions")

		withApp(cliLogSink(), func(a *app) error {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			report, err := a.status(ctx, limit)
			if err != nil {
				return err
			}
			return render(format, report, func() { printStatus(report) })
		})
	},
}

func init() {
	statusCmd.Flags().StringP("format", "f", formatText, "Output format: text, json or yaml")
	statusCmd.Flags().IntP("actions", "n", 5, "Number of recent actions to show")
	rootCmd.AddCommand(statusCmd)
}

func (a *app) status(ctx context.Context, limit int) (*statusReport, error) {
	rec, err := a.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	actions, err := a.store.RecentActions(ctx, limit)
	if err != nil {
		return nil, err
	}

	settings := a.manager.Settings()
	report := &statusReport{
		Enabled:           settings.Enabled,
		DelayMinutes:      a.cfg.DelayMinutes,
		ReenablePolicy:    string(settings.Reenable),
		PermissionGranted: a.logind.Granted(ctx),
		Session:           a.logind.SessionID(),
		Record:            rec,
		RecentActions:     actions,
	}

	window := settings.Delay
	if rec.DisablePending {
		window = rec.Remaining(time.Now())
	}
	report.Strategy = autosync.Classify(window, autosync.ReconcileFloor).String()

	if locked, err := a.logind.Locked(ctx); err == nil {
		report.SessionLocked = &locked
	}
	if enabled, err := a.applier.Enabled(ctx); err == nil {
		report.SyncEnabled = &enabled
	}
	return report, nil
}

func optionalBool(b *bool) string {
	if b == nil {
		return ui.RenderWarn("unknown")
	}
	return ui.RenderBool(*b)
}

func printStatus(r *statusReport) {
	now := time.Now()

	feature := ui.RenderMuted("disabled")
	if r.Enabled {
		feature = ui.RenderPass("enabled")
	}
	fmt.Print(ui.Section("Settings",
		ui.KeyValue("feature", feature),
		ui.KeyValue("delay", fmt.Sprintf("%d min", r.DelayMinutes)),
		ui.KeyValue("reenable", r.ReenablePolicy),
		ui.KeyValue("permission", ui.RenderBool(r.PermissionGranted)),
	))
	fmt.Println()

	fmt.Print(ui.Section("Live",
		ui.KeyValue("session", r.Session),
		ui.KeyValue("locked", optionalBool(r.SessionLocked)),
		ui.KeyValue("sync enabled", optionalBool(r.SyncEnabled)),
	))
	fmt.Println()

	deadline := ui.FormatTime(r.Record.ScheduledDisableTime)
	if r.Record.ScheduledDisableTime != nil && r.Record.DisablePending {
		deadline += " (" + ui.FormatRelative(*r.Record.ScheduledDisableTime, now) + ")"
	}
	fmt.Print(ui.Section("Record",
		ui.KeyValue("locked", ui.RenderBool(r.Record.IsLocked)),
		ui.KeyValue("locked since", ui.FormatTime(r.Record.LockTimestamp)),
		ui.KeyValue("disable at", deadline),
		ui.KeyValue("pending", ui.RenderBool(r.Record.DisablePending)),
		ui.KeyValue("strategy", r.Strategy),
		ui.KeyValue("disabled by us", ui.RenderBool(r.Record.DisabledByFeature)),
		ui.KeyValue("reenable owed", ui.RenderBool(r.Record.ReenablePending)),
	))

	if len(r.RecentActions) > 0 {
		fmt.Println()
		fmt.Println(ui.RenderBold("Recent actions"))
		for _, act := range r.RecentActions {
			fmt.Println("  " + formatAction(act))
		}
	}
}
