package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/autosync/internal/ui"
)

var resetCmd = &cobra.Command{
	Use:     "reset",
	GroupID: "maint",
	Short:   "Restore the lock record to defaults",
	Long: `Restore the lock record to the unlocked defaults. Any pending disable is
dropped. Sync itself is not touched, and the action log is kept.

Stop the daemon first; a running daemon keeps its in-memory countdown until
the record check at expiry finds it superseded.`,
	Run: func(cmd *cobra.Command, args []string) {
		withApp(cliLogSink(), func(a *app) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if _, err := a.store.Reset(ctx); err != nil {
				return err
			}
			fmt.Printf("%s Lock record reset (%s)\n", ui.RenderPass("✓"), a.cfg.State.Path)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
