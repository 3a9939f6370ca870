package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/mschirtzinger/autosync/internal/autosync"
)

// Manager owns the loaded configuration and keeps it current while the
// daemon runs. It implements autosync.SettingsSource, so every decision sees
// the latest file contents.
type Manager struct {
	path   string
	logger *log.Logger

	mu  sync.RWMutex
	v   *viper.Viper
	cfg *Config
}

// NewManager creates a manager for the file at path (DefaultPath when empty).
func NewManager(path string, logger *log.Logger) *Manager {
	if path == "" {
		path = DefaultPath()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[config] ", log.LstdFlags)
	}
	return &Manager{
		path:   path,
		logger: logger,
		cfg:    DefaultConfig(),
	}
}

// Path returns the config file location.
func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(m.path)
	v.SetConfigType("toml")
	v.SetEnvPrefix("AUTOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	return v
}

// Load reads the file and the environment. A missing file yields the
// defaults plus environment overrides. The result is validated; an invalid
// configuration is returned as an error and not installed.
func (m *Manager) Load() (*Config, error) {
	v := m.newViper()
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read %s: %w", m.path, err)
			}
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.v = v
	m.cfg = cfg
	m.mu.Unlock()
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.State.Path = expandHome(cfg.State.Path)
	cfg.Log.Path = expandHome(cfg.Log.Path)
	cfg.Sync.FlagPath = expandHome(cfg.Sync.FlagPath)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Current returns the last successfully loaded configuration.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := *m.cfg
	return &c
}

// Settings implements autosync.SettingsSource.
func (m *Manager) Settings() autosync.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return autosync.Settings{
		Enabled:  m.cfg.Enabled,
		Delay:    m.cfg.Delay(),
		Reenable: autosync.ReenablePolicy(m.cfg.Sync.ReenablePolicy),
	}
}

// Watch reloads the configuration whenever the file changes. An invalid edit
// is logged and the previous configuration stays in effect. onChange, if
// set, receives each configuration that was installed.
func (m *Manager) Watch(onChange func(*Config)) {
	m.mu.Lock()
	v := m.v
	m.mu.Unlock()
	if v == nil {
		if _, err := m.Load(); err != nil {
			m.logger.Printf("Warning: %v", err)
			return
		}
		m.mu.Lock()
		v = m.v
		m.mu.Unlock()
	}

	v.OnConfigChange(func(ev fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			m.logger.Printf("Ignoring config change (%s): %v", ev.Op, err)
			return
		}
		m.mu.Lock()
		m.cfg = cfg
		m.mu.Unlock()
		m.logger.Printf("Config reloaded: enabled=%v delay=%dm", cfg.Enabled, cfg.DelayMinutes)
		if onChange != nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()
}

// SetDelayMinutes validates and persists a new delay.
func (m *Manager) SetDelayMinutes(minutes int) error {
	if err := autosync.ValidateDelayMinutes(minutes); err != nil {
		return err
	}
	return m.Set("delay_minutes", minutes)
}

// SetEnabled persists the feature switch.
func (m *Manager) SetEnabled(enabled bool) error {
	return m.Set("enabled", enabled)
}

// Set writes one key to the file, keeping every other key the file already
// has and nothing it does not, then reloads. A value that makes the
// configuration invalid is rolled back.
func (m *Manager) Set(key string, value interface{}) error {
	if _, ok := defaults()[key]; !ok {
		return fmt.Errorf("unknown config key %q", key)
	}

	previous, readErr := os.ReadFile(m.path)
	exists := readErr == nil

	fv := viper.New()
	fv.SetConfigFile(m.path)
	fv.SetConfigType("toml")
	if exists {
		if err := fv.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read %s: %w", m.path, err)
		}
	}
	fv.Set(key, value)

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := fv.WriteConfigAs(m.path); err != nil {
		return fmt.Errorf("failed to write %s: %w", m.path, err)
	}

	if _, err := m.Load(); err != nil {
		if exists {
			_ = os.WriteFile(m.path, previous, 0o644)
		} else {
			_ = os.Remove(m.path)
		}
		return err
	}
	return nil
}

// UnknownKeys reports keys in the file at path that autosync does not
// recognise, usually typos that would otherwise be ignored silently.
func UnknownKeys(path string) ([]string, error) {
	var raw map[string]interface{}
	md, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	known := make(map[string]bool)
	for key := range defaults() {
		known[key] = true
		if i := strings.IndexByte(key, '.'); i > 0 {
			known[key[:i]] = true
		}
	}

	var unknown []string
	for _, k := range md.Keys() {
		if !known[k.String()] {
			unknown = append(unknown, k.String())
		}
	}
	sort.Strings(unknown)
	return unknown, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
