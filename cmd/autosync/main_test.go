package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mschirtzinger/autosync/internal/autosync/syncflag"
	"github.com/mschirtzinger/autosync/internal/config"
)

func TestParseWhen(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		text    string
		want    time.Time
		wantErr bool
	}{
		{"empty is now", "", now, false},
		{"now", "now", now, false},
		{"rfc3339", "2026-03-10T13:00:00Z", now.Add(-time.Hour), false},
		{"minutes ago", "10 minutes ago", now.Add(-10 * time.Minute), false},
		{"future rfc3339", "2026-03-10T15:00:00Z", time.Time{}, true},
		{"gibberish", "banana", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWhen(tt.text, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseWhen(%q) error = %v, wantErr %v", tt.text, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("parseWhen(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestNewApplier(t *testing.T) {
	cfg := config.DefaultConfig().Sync
	cfg.FlagPath = filepath.Join(t.TempDir(), "sync.flag")

	applier, err := newApplier(cfg)
	if err != nil {
		t.Fatalf("newApplier(file) failed: %v", err)
	}
	if _, ok := applier.(*syncflag.FileApplier); !ok {
		t.Errorf("file backend built %T", applier)
	}

	cfg.Backend = config.BackendCommand
	applier, err = newApplier(cfg)
	if err != nil {
		t.Fatalf("newApplier(command) failed: %v", err)
	}
	if _, ok := applier.(*syncflag.CommandApplier); !ok {
		t.Errorf("command backend built %T", applier)
	}

	cfg.Backend = "dbus"
	if _, err := newApplier(cfg); err == nil {
		t.Error("newApplier() with an unknown backend should fail")
	}
}

func TestRender_UnknownFormat(t *testing.T) {
	called := false
	if err := render("xml", struct{}{}, func() { called = true }); err == nil {
		t.Error("render() with an unknown format should fail")
	}
	if called {
		t.Error("text renderer called for an unknown format")
	}

	if err := render(formatText, struct{}{}, func() { called = true }); err != nil || !called {
		t.Errorf("render(text) err = %v, called = %v", err, called)
	}
}

func TestNewApp_WiresFromConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)
	configPath = filepath.Join(dir, "config.toml")
	t.Cleanup(func() { configPath = "" })

	a, err := newApp(cliLogSink())
	if err != nil {
		t.Fatalf("newApp() failed: %v", err)
	}
	defer a.Close()

	if a.store.Path() != filepath.Join(dir, "autosync", "state.db") {
		t.Errorf("store at %s", a.store.Path())
	}
	if a.timer.Armed() {
		t.Error("fresh app has an armed countdown")
	}
	if a.manager.Settings().Enabled {
		t.Error("feature enabled without a config file")
	}
}

// The daemon's sink follows the log file named by the config it loads, so
// output from the config manager itself lands there too.
func TestNewApp_DaemonSinkUsesConfiguredLogFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)
	logPath := filepath.Join(dir, "logs", "daemon.log")
	t.Setenv("AUTOSYNC_LOG_PATH", logPath)
	configPath = filepath.Join(dir, "config.toml")
	t.Cleanup(func() { configPath = "" })

	logs := daemonLogSink()
	a, err := newApp(logs)
	if err != nil {
		t.Fatalf("newApp() failed: %v", err)
	}
	if a.manager.Path() != configPath {
		t.Errorf("manager path = %s, want %s", a.manager.Path(), configPath)
	}
	if a.cfg.Log.Path != logPath {
		t.Errorf("log path = %s, want %s", a.cfg.Log.Path, logPath)
	}

	logs.logger("daemon").Println("started")
	a.Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if !strings.Contains(string(data), "[daemon] started") {
		t.Errorf("log file = %q, want daemon line", data)
	}
}

func TestNewApp_InvalidConfigReturnsError(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)
	configPath = filepath.Join(dir, "config.toml")
	t.Cleanup(func() { configPath = "" })

	if err := os.WriteFile(configPath, []byte("delay_minutes = 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := newApp(daemonLogSink()); err == nil {
		t.Error("newApp() accepted an unsupported delay")
	}
}
