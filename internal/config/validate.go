package config

import (
	"errors"
	"fmt"

	"github.com/mschirtzinger/autosync/internal/autosync"
)

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if err := autosync.ValidateDelayMinutes(c.DelayMinutes); err != nil {
		errs = append(errs, fmt.Errorf("delay_minutes: %w", err))
	}
	if !autosync.ReenablePolicy(c.Sync.ReenablePolicy).Valid() {
		errs = append(errs, fmt.Errorf("sync.reenable_policy: %q is not one of always, owned", c.Sync.ReenablePolicy))
	}

	switch c.Sync.Backend {
	case BackendFile:
		if c.Sync.FlagPath == "" {
			errs = append(errs, errors.New("sync.flag_path is required for the file backend"))
		}
	case BackendCommand:
		if c.Sync.StatusCmd == "" || c.Sync.EnableCmd == "" || c.Sync.DisableCmd == "" {
			errs = append(errs, errors.New("sync.status_cmd, sync.enable_cmd and sync.disable_cmd are required for the command backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("sync.backend: %q is not one of file, command", c.Sync.Backend))
	}

	if c.Sync.Timeout <= 0 {
		errs = append(errs, errors.New("sync.timeout must be positive"))
	}
	if c.Detector.Throttle < 0 {
		errs = append(errs, errors.New("detector.throttle cannot be negative"))
	}
	if c.Reconcile.Interval < 0 || c.Reconcile.Tolerance < 0 || c.Reconcile.IdleRetry < 0 {
		errs = append(errs, errors.New("reconcile durations cannot be negative"))
	}
	if c.Session.PollInterval < 0 {
		errs = append(errs, errors.New("session.poll_interval cannot be negative"))
	}
	if c.State.Path == "" {
		errs = append(errs, errors.New("state.path is required"))
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		errs = append(errs, errors.New("log rotation limits cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
