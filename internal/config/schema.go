// Package config loads and writes the autosync configuration file.
//
// The file is TOML at $XDG_CONFIG_HOME/autosync/config.toml. Every key has a
// default set in code and can be overridden from the environment as
// AUTOSYNC_<SECTION>_<KEY>, for example AUTOSYNC_DELAY_MINUTES=10 or
// AUTOSYNC_SYNC_BACKEND=command.
package config

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the full autosync configuration
type Config struct {
	// Enabled is the feature switch: suspend sync while the session is locked
	Enabled bool `mapstructure:"enabled"`

	// DelayMinutes is how long the session stays locked before sync is
	// disabled; one of 1, 5, 10, 15, 20, 30, 45, 60
	DelayMinutes int `mapstructure:"delay_minutes"`

	Detector  DetectorConfig  `mapstructure:"detector"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Session   SessionConfig   `mapstructure:"session"`
	Sync      SyncConfig      `mapstructure:"sync"`
	State     StateConfig     `mapstructure:"state"`
	Log       LogConfig       `mapstructure:"log"`
	Status    StatusConfig    `mapstructure:"status"`
}

// DetectorConfig configures lock edge detection
type DetectorConfig struct {
	Throttle time.Duration `mapstructure:"throttle"`
}

// ReconcileConfig configures the periodic reconciliation pass
type ReconcileConfig struct {
	// Interval between passes; raised to 15m when lower
	Interval  time.Duration `mapstructure:"interval"`
	Tolerance time.Duration `mapstructure:"tolerance"`
	IdleRetry time.Duration `mapstructure:"idle_retry"`
}

// SessionConfig configures how the logind session is observed
type SessionConfig struct {
	// ID is the logind session; empty uses $XDG_SESSION_ID
	ID             string        `mapstructure:"id"`
	Dir            string        `mapstructure:"dir"`
	MonitorSignals bool          `mapstructure:"monitor_signals"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Inhibit        bool          `mapstructure:"inhibit"`
}

// SyncConfig configures the sync toggle backend
type SyncConfig struct {
	// Backend is "file" or "command"
	Backend        string        `mapstructure:"backend"`
	FlagPath       string        `mapstructure:"flag_path"`
	StatusCmd      string        `mapstructure:"status_cmd"`
	EnableCmd      string        `mapstructure:"enable_cmd"`
	DisableCmd     string        `mapstructure:"disable_cmd"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ReenablePolicy string        `mapstructure:"reenable_policy"`
}

// StateConfig configures the state database
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig configures the daemon log file
type LogConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// StatusConfig configures the optional WebSocket status feed
type StatusConfig struct {
	// Listen address; empty disables the feed
	Listen string `mapstructure:"listen"`
}

// Delay returns DelayMinutes as a duration.
func (c *Config) Delay() time.Duration {
	return time.Duration(c.DelayMinutes) * time.Minute
}

// Flatten returns the configuration keyed by dotted config key. Durations
// are rendered as strings such as "30s".
func (c *Config) Flatten() map[string]interface{} {
	return map[string]interface{}{
		"enabled":                 c.Enabled,
		"delay_minutes":           c.DelayMinutes,
		"detector.throttle":       c.Detector.Throttle.String(),
		"reconcile.interval":      c.Reconcile.Interval.String(),
		"reconcile.tolerance":     c.Reconcile.Tolerance.String(),
		"reconcile.idle_retry":    c.Reconcile.IdleRetry.String(),
		"session.id":              c.Session.ID,
		"session.dir":             c.Session.Dir,
		"session.monitor_signals": c.Session.MonitorSignals,
		"session.poll_interval":   c.Session.PollInterval.String(),
		"session.inhibit":         c.Session.Inhibit,
		"sync.backend":            c.Sync.Backend,
		"sync.flag_path":          c.Sync.FlagPath,
		"sync.status_cmd":         c.Sync.StatusCmd,
		"sync.enable_cmd":         c.Sync.EnableCmd,
		"sync.disable_cmd":        c.Sync.DisableCmd,
		"sync.timeout":            c.Sync.Timeout.String(),
		"sync.reenable_policy":    c.Sync.ReenablePolicy,
		"state.path":              c.State.Path,
		"log.path":                c.Log.Path,
		"log.max_size_mb":         c.Log.MaxSizeMB,
		"log.max_backups":         c.Log.MaxBackups,
		"log.max_age_days":        c.Log.MaxAgeDays,
		"status.listen":           c.Status.Listen,
	}
}

// TOML renders the configuration as a config file.
func (c *Config) TOML() ([]byte, error) {
	nested := make(map[string]interface{})
	for key, value := range c.Flatten() {
		section, name, ok := strings.Cut(key, ".")
		if !ok {
			nested[key] = value
			continue
		}
		table, _ := nested[section].(map[string]interface{})
		if table == nil {
			table = make(map[string]interface{})
			nested[section] = table
		}
		table[name] = value
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(nested); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}
