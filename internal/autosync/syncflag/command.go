// Package syncflag provides adapters over the system-wide sync toggle.
//
// Appliers hold no state; every call goes to the OS. Two backends exist:
//
//   - CommandApplier runs user-configured shell commands, typically
//     systemctl --user is-active / start / stop on a sync service.
//   - FileApplier keeps the flag in a file holding "1" or "0", for sync
//     tools that poll a flag file.
//
// Permission failures are reported wrapping autosync.ErrPermissionDenied and
// missing facilities wrapping autosync.ErrUnavailable.
package syncflag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/autosync/internal/autosync"
)

// CommandConfig holds the shell command lines of the command backend.
type CommandConfig struct {
	// StatusCmd exits 0 when sync is enabled and non-zero when disabled
	StatusCmd string

	// EnableCmd turns sync on
	EnableCmd string

	// DisableCmd turns sync off
	DisableCmd string

	// Shell runs the command lines (default /bin/sh)
	Shell string

	// Timeout bounds every command
	Timeout time.Duration
}

// DefaultCommandConfig returns commands for a Syncthing user service.
func DefaultCommandConfig() *CommandConfig {
	return &CommandConfig{
		StatusCmd:  "systemctl --user is-active --quiet syncthing.service",
		EnableCmd:  "systemctl --user start syncthing.service",
		DisableCmd: "systemctl --user stop syncthing.service",
		Shell:      "/bin/sh",
		Timeout:    10 * time.Second,
	}
}

// CommandApplier toggles sync by running shell commands.
type CommandApplier struct {
	config *CommandConfig
	run    Runner
}

// NewCommandApplier creates a command backend.
func NewCommandApplier(config *CommandConfig) (*CommandApplier, error) {
	if config == nil {
		config = DefaultCommandConfig()
	}
	return NewCommandApplierWithRunner(config, ShellRunner(config.Shell, config.Timeout))
}

// NewCommandApplierWithRunner creates a command backend executing through run.
func NewCommandApplierWithRunner(config *CommandConfig, run Runner) (*CommandApplier, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.StatusCmd == "" || config.EnableCmd == "" || config.DisableCmd == "" {
		return nil, fmt.Errorf("status, enable and disable commands are required")
	}
	if run == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	return &CommandApplier{config: config, run: run}, nil
}

// Enabled implements autosync.SyncApplier. A plain non-zero exit of the
// status command means disabled; permission and availability failures are
// errors.
func (a *CommandApplier) Enabled(ctx context.Context) (bool, error) {
	_, err := a.run(ctx, a.config.StatusCmd)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, autosync.ErrPermissionDenied) || errors.Is(err, autosync.ErrUnavailable) {
		return false, fmt.Errorf("failed to read sync state: %w", err)
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode() > 0 {
		return false, nil
	}
	return false, fmt.Errorf("failed to read sync state: %w", err)
}

// Enable implements autosync.SyncApplier.
func (a *CommandApplier) Enable(ctx context.Context) error {
	if _, err := a.run(ctx, a.config.EnableCmd); err != nil {
		return fmt.Errorf("failed to enable sync: %w", err)
	}
	return nil
}

// Disable implements autosync.SyncApplier.
func (a *CommandApplier) Disable(ctx context.Context) error {
	if _, err := a.run(ctx, a.config.DisableCmd); err != nil {
		return fmt.Errorf("failed to disable sync: %w", err)
	}
	return nil
}
