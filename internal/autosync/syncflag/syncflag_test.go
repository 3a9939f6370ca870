package syncflag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mschirtzinger/autosync/internal/autosync"
)

func TestShellRunner_Classification(t *testing.T) {
	run := ShellRunner("/bin/sh", 5*time.Second)

	tests := []struct {
		name      string
		cmd       string
		wantErr   bool
		wantPerm  bool
		wantUnavl bool
	}{
		{"success", "true", false, false, false},
		{"plain failure", "exit 3", true, false, false},
		{"exit 126", "exit 126", true, true, false},
		{"exit 127", "exit 127", true, false, true},
		{"missing binary", "autosync-no-such-binary-xyz", true, false, true},
		{"stderr permission", "echo 'Failed: Permission denied' >&2; exit 1", true, true, false},
		{"stderr access denied", "echo 'Access denied' >&2; exit 4", true, true, false},
		{"polkit", "echo 'Interactive authentication required.' >&2; exit 1", true, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(context.Background(), tt.cmd)
			if (err != nil) != tt.wantErr {
				t.Fatalf("run(%q) error = %v, wantErr %v", tt.cmd, err, tt.wantErr)
			}
			if got := errors.Is(err, autosync.ErrPermissionDenied); got != tt.wantPerm {
				t.Errorf("permission = %v, want %v (err %v)", got, tt.wantPerm, err)
			}
			if got := errors.Is(err, autosync.ErrUnavailable); got != tt.wantUnavl {
				t.Errorf("unavailable = %v, want %v (err %v)", got, tt.wantUnavl, err)
			}
		})
	}
}

func TestShellRunner_Timeout(t *testing.T) {
	run := ShellRunner("/bin/sh", 50*time.Millisecond)

	_, err := run(context.Background(), "sleep 5")
	if !errors.Is(err, autosync.ErrUnavailable) {
		t.Errorf("run() error = %v, want ErrUnavailable", err)
	}
}

func TestNewCommandApplierWithRunner_Validation(t *testing.T) {
	noop := func(context.Context, string) ([]byte, error) { return nil, nil }

	tests := []struct {
		name    string
		config  *CommandConfig
		run     Runner
		wantErr bool
	}{
		{"valid", DefaultCommandConfig(), noop, false},
		{"nil config", nil, noop, true},
		{"missing disable", &CommandConfig{StatusCmd: "a", EnableCmd: "b"}, noop, true},
		{"nil runner", DefaultCommandConfig(), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCommandApplierWithRunner(tt.config, tt.run)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewCommandApplierWithRunner() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// A flag file driven through real shell commands.
func TestCommandApplier_RoundTrip(t *testing.T) {
	flag := filepath.Join(t.TempDir(), "on")

	a, err := NewCommandApplier(&CommandConfig{
		StatusCmd:  fmt.Sprintf("test -e %q", flag),
		EnableCmd:  fmt.Sprintf("touch %q", flag),
		DisableCmd: fmt.Sprintf("rm -f %q", flag),
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewCommandApplier() failed: %v", err)
	}
	ctx := context.Background()

	enabled, err := a.Enabled(ctx)
	if err != nil {
		t.Fatalf("Enabled() failed: %v", err)
	}
	if enabled {
		t.Error("Enabled() = true before enable")
	}

	if err := a.Enable(ctx); err != nil {
		t.Fatalf("Enable() failed: %v", err)
	}
	if enabled, _ := a.Enabled(ctx); !enabled {
		t.Error("Enabled() = false after enable")
	}

	if err := a.Disable(ctx); err != nil {
		t.Fatalf("Disable() failed: %v", err)
	}
	if enabled, _ := a.Enabled(ctx); enabled {
		t.Error("Enabled() = true after disable")
	}
}

func TestCommandApplier_PermissionDenied(t *testing.T) {
	run := func(_ context.Context, cmd string) ([]byte, error) {
		return nil, Classify(&CommandError{Command: cmd, Stderr: "Permission denied", Err: errors.New("exit status 1")})
	}
	a, err := NewCommandApplierWithRunner(DefaultCommandConfig(), run)
	if err != nil {
		t.Fatalf("NewCommandApplierWithRunner() failed: %v", err)
	}

	if err := a.Disable(context.Background()); !autosync.IsPermission(err) {
		t.Errorf("Disable() error = %v, want permission error", err)
	}
	if _, err := a.Enabled(context.Background()); !autosync.IsPermission(err) {
		t.Errorf("Enabled() error = %v, want permission error", err)
	}
}

func TestFileApplier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sync.flag")
	a, err := NewFileApplier(path)
	if err != nil {
		t.Fatalf("NewFileApplier() failed: %v", err)
	}
	ctx := context.Background()

	// Missing file means enabled
	if enabled, err := a.Enabled(ctx); err != nil || !enabled {
		t.Fatalf("Enabled() = %v, %v; want true, nil", enabled, err)
	}

	if err := a.Disable(ctx); err != nil {
		t.Fatalf("Disable() failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if string(data) != "0\n" {
		t.Errorf("flag = %q, want %q", data, "0\n")
	}
	if enabled, _ := a.Enabled(ctx); enabled {
		t.Error("Enabled() = true after disable")
	}

	if err := a.Enable(ctx); err != nil {
		t.Fatalf("Enable() failed: %v", err)
	}
	if enabled, _ := a.Enabled(ctx); !enabled {
		t.Error("Enabled() = false after enable")
	}

	// No temp files left behind
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("flag directory has %d entries, want 1", len(entries))
	}
}

func TestFileApplier_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.flag")
	if err := os.WriteFile(path, []byte("maybe\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	a, _ := NewFileApplier(path)
	if _, err := a.Enabled(context.Background()); err == nil {
		t.Error("Enabled() accepted an unparseable flag")
	}
}

func TestFileApplier_PermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	dir := filepath.Join(t.TempDir(), "ro")
	if err := os.Mkdir(dir, 0o500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	a, _ := NewFileApplier(filepath.Join(dir, "sync.flag"))
	if err := a.Disable(context.Background()); !autosync.IsPermission(err) {
		t.Errorf("Disable() error = %v, want permission error", err)
	}
}
