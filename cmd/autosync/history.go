package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/autosync/internal/autosync/state"
	"github.com/mschirtzinger/autosync/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "inspect",
	Short:   "Show the action log",
	Long: `Show the most recent lock edges and sync toggles, newest first.

Every edge and side effect is logged with the component that made it:
detector, timer, reconciler or cli.`,
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")
		if limit <= 0 || limit > state.MaxActions {
			fatalf("--limit must be between 1 and %d", state.MaxActions)
		}

		withApp(cliLogSink(), func(a *app) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			actions, err := a.store.RecentActions(ctx, limit)
			if err != nil {
				return err
			}

			return render(format, actions, func() {
				if len(actions) == 0 {
					fmt.Println(ui.RenderMuted("No actions recorded"))
					return
				}
				for _, act := range actions {
					fmt.Println(formatAction(act))
				}
			})
		})
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "Number of actions to show")
	historyCmd.Flags().StringP("format", "f", formatText, "Output format: text, json or yaml")
	rootCmd.AddCommand(historyCmd)
}

// formatAction renders one action log row.
func formatAction(act state.Action) string {
	kind := string(act.Kind)
	switch act.Kind {
	case state.ActionFired:
		kind = ui.RenderWarn(kind)
	case state.ActionEnabled:
		kind = ui.RenderPass(kind)
	case state.ActionDisableFailed, state.ActionEnableFailed:
		kind = ui.RenderFail(kind)
	case state.ActionLocked, state.ActionUnlocked:
		kind = ui.RenderAccent(kind)
	}

	line := fmt.Sprintf("%s  %-14s %-10s", act.At.Local().Format("2006-01-02 15:04:05"), kind, act.Source)
	if act.Detail != "" {
		line += " " + ui.RenderMuted(act.Detail)
	}
	return line
}
