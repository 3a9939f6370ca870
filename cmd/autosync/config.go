package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/autosync/internal/autosync"
	"github.com/mschirtzinger/autosync/internal/config"
	"github.com/mschirtzinger/autosync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Manage the autosync configuration",
	Long: `Manage the autosync configuration file.

A running daemon watches the file; every change applies to the next decision.
A deadline already scheduled keeps the delay it was computed with.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		interactive, _ := cmd.Flags().GetBool("interactive")
		force, _ := cmd.Flags().GetBool("force")

		manager := config.NewManager(configPath, cliLogSink().logger("config"))
		if err := config.WriteDefault(manager.Path(), force); err != nil {
			fatalf("%v (use --force to overwrite)", err)
		}

		if interactive {
			if err := runConfigForm(manager); err != nil {
				fatalf("%v", err)
			}
		}

		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), manager.Path())
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration: file values over defaults, with
AUTOSYNC_* environment overrides applied. Unknown keys in the file are
reported, since they are otherwise ignored.`,
	Run: func(cmd *cobra.Command, args []string) {
		manager, cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		data, err := cfg.TOML()
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("# %s\n", manager.Path())
		os.Stdout.Write(data)

		if _, err := os.Stat(manager.Path()); err != nil {
			return
		}
		unknown, err := config.UnknownKeys(manager.Path())
		if err != nil {
			fatalf("%v", err)
		}
		for _, key := range unknown {
			fmt.Fprintf(os.Stderr, "%s unknown key %q ignored\n", ui.RenderWarn("⚠"), key)
		}
	},
}

var configSetDelayCmd = &cobra.Command{
	Use:   "set-delay <minutes>",
	Short: "Set the lock delay before sync is disabled",
	Long:  fmt.Sprintf("Set the lock delay in minutes. Allowed: %v.", autosync.AllowedDelayMinutes),
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		minutes, err := strconv.Atoi(args[0])
		if err != nil {
			fatalf("invalid minutes %q", args[0])
		}

		manager, _, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		if err := manager.SetDelayMinutes(minutes); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Delay set to %d min\n", ui.RenderPass("✓"), minutes)
	},
}

var configEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Turn the feature on",
	Run:   func(cmd *cobra.Command, args []string) { setEnabled(true) },
}

var configDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Turn the feature off",
	Long: `Turn the feature off. A pending disable is dropped by the next decision;
sync is left as it is.`,
	Run: func(cmd *cobra.Command, args []string) { setEnabled(false) },
}

func init() {
	configInitCmd.Flags().BoolP("interactive", "i", false, "Choose settings interactively")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetDelayCmd)
	configCmd.AddCommand(configEnableCmd)
	configCmd.AddCommand(configDisableCmd)
	rootCmd.AddCommand(configCmd)
}

func setEnabled(enabled bool) {
	manager, _, err := loadConfig()
	if err != nil {
		fatalf("%v", err)
	}
	if err := manager.SetEnabled(enabled); err != nil {
		fatalf("%v", err)
	}
	if enabled {
		fmt.Printf("%s Sync will be suspended while the session is locked\n", ui.RenderPass("✓"))
	} else {
		fmt.Printf("%s Feature disabled\n", ui.RenderPass("✓"))
	}
}

// runConfigForm asks for the main settings and persists the answers.
func runConfigForm(manager *config.Manager) error {
	cfg, err := manager.Load()
	if err != nil {
		return err
	}

	enabled := true
	delay := cfg.DelayMinutes
	backend := cfg.Sync.Backend
	policy := cfg.Sync.ReenablePolicy

	delayOptions := make([]huh.Option[int], 0, len(autosync.AllowedDelayMinutes))
	for _, m := range autosync.AllowedDelayMinutes {
		delayOptions = append(delayOptions, huh.NewOption(fmt.Sprintf("%d minutes", m), m))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Suspend sync while the session is locked?").
				Value(&enabled),
			huh.NewSelect[int]().
				Title("Locked for how long before sync is turned off?").
				Options(delayOptions...).
				Value(&delay),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("How is sync toggled?").
				Options(
					huh.NewOption("Flag file", config.BackendFile),
					huh.NewOption("Shell commands (systemctl by default)", config.BackendCommand),
				).
				Value(&backend),
			huh.NewSelect[string]().
				Title("At unlock, turn sync back on").
				Options(
					huh.NewOption("Whenever it is off", string(autosync.ReenableAlways)),
					huh.NewOption("Only if autosync turned it off", string(autosync.ReenableOwned)),
				).
				Value(&policy),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	if err := manager.SetEnabled(enabled); err != nil {
		return err
	}
	if err := manager.SetDelayMinutes(delay); err != nil {
		return err
	}
	if err := manager.Set("sync.backend", backend); err != nil {
		return err
	}
	return manager.Set("sync.reenable_policy", policy)
}
