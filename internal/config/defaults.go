package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	BackendFile    = "file"
	BackendCommand = "command"
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	stateDir := StateDir()
	return &Config{
		Enabled:      false,
		DelayMinutes: 15,
		Detector: DetectorConfig{
			Throttle: time.Second,
		},
		Reconcile: ReconcileConfig{
			Interval:  15 * time.Minute,
			Tolerance: 30 * time.Second,
			IdleRetry: time.Minute,
		},
		Session: SessionConfig{
			Dir:            "/run/systemd/sessions",
			MonitorSignals: true,
			PollInterval:   30 * time.Second,
			Inhibit:        true,
		},
		Sync: SyncConfig{
			Backend:        BackendFile,
			FlagPath:       filepath.Join(stateDir, "sync.flag"),
			StatusCmd:      "systemctl --user is-active --quiet syncthing.service",
			EnableCmd:      "systemctl --user start syncthing.service",
			DisableCmd:     "systemctl --user stop syncthing.service",
			Timeout:        10 * time.Second,
			ReenablePolicy: "always",
		},
		State: StateConfig{
			Path: filepath.Join(stateDir, "state.db"),
		},
		Log: LogConfig{
			Path:       filepath.Join(stateDir, "autosync.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// defaults flattens DefaultConfig into viper keys.
func defaults() map[string]interface{} {
	return DefaultConfig().Flatten()
}

// DefaultPath returns $XDG_CONFIG_HOME/autosync/config.toml.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "autosync", "config.toml")
}

// StateDir returns $XDG_STATE_HOME/autosync.
func StateDir() string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "autosync")
}

// WriteDefault writes a commented default configuration to path. An existing
// file is left alone unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	d := DefaultConfig()
	content := fmt.Sprintf(`# autosync configuration

# Suspend sync while the session is locked
enabled = false

# Minutes the session must stay locked before sync is disabled.
# One of 1, 5, 10, 15, 20, 30, 45, 60
delay_minutes = %d

[detector]
throttle = "1s"

[reconcile]
# Raised to 15m when lower
interval = "15m"
tolerance = "30s"
idle_retry = "1m"

[session]
# id = "2"  # defaults to $XDG_SESSION_ID
dir = %q
monitor_signals = true
poll_interval = "30s"
inhibit = true

[sync]
# "file" writes a flag file; "command" runs the commands below
backend = "file"
flag_path = %q
status_cmd = %q
enable_cmd = %q
disable_cmd = %q
timeout = "10s"
# "always" re-enables sync on unlock whenever it is off;
# "owned" only when autosync turned it off
reenable_policy = "always"

[state]
path = %q

[log]
path = %q
max_size_mb = %d
max_backups = %d
max_age_days = %d

[status]
# listen = "127.0.0.1:8765"
`, d.DelayMinutes, d.Session.Dir, d.Sync.FlagPath, d.Sync.StatusCmd, d.Sync.EnableCmd,
		d.Sync.DisableCmd, d.State.Path, d.Log.Path, d.Log.MaxSizeMB, d.Log.MaxBackups, d.Log.MaxAgeDays)

	return os.WriteFile(path, []byte(content), 0o644)
}
