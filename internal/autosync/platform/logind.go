// Package platform adapts systemd-logind to the autosync interfaces: the
// session lock query, the permission probe, the idle probe, and the
// privileged context held while an exact countdown runs.
package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mschirtzinger/autosync/internal/autosync"
	"github.com/mschirtzinger/autosync/internal/autosync/syncflag"
)

// DefaultSessionDir is where logind publishes per-session state files.
const DefaultSessionDir = "/run/systemd/sessions"

// Runner executes a binary with arguments and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner returns a Runner backed by os/exec. Failures are classified as
// permission or availability errors where possible.
func ExecRunner(timeout time.Duration) Runner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, name, args...)
		var stderr strings.Builder
		cmd.Stderr = &stderr

		out, err := cmd.Output()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s timed out", autosync.ErrUnavailable, name)
			}
			return nil, syncflag.Classify(&syncflag.CommandError{
				Command: name + " " + strings.Join(args, " "),
				Stderr:  strings.TrimSpace(stderr.String()),
				Err:     err,
			})
		}
		return out, nil
	}
}

// LogindConfig holds configuration for the logind adapter.
type LogindConfig struct {
	// SessionID is the logind session; defaults to $XDG_SESSION_ID, then "auto"
	SessionID string

	// SessionDir is probed for read access
	SessionDir string

	// Timeout bounds each loginctl call
	Timeout time.Duration

	// Runner overrides command execution
	Runner Runner
}

// Logind queries session state through loginctl.
type Logind struct {
	sessionID  string
	sessionDir string
	run        Runner
}

// NewLogind creates a logind adapter. A nil config uses the defaults.
func NewLogind(config *LogindConfig) *Logind {
	if config == nil {
		config = &LogindConfig{}
	}

	l := &Logind{
		sessionID:  config.SessionID,
		sessionDir: config.SessionDir,
		run:        config.Runner,
	}
	if l.sessionID == "" {
		l.sessionID = os.Getenv("XDG_SESSION_ID")
	}
	if l.sessionID == "" {
		l.sessionID = "auto"
	}
	if l.sessionDir == "" {
		l.sessionDir = DefaultSessionDir
	}
	if l.run == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		l.run = ExecRunner(timeout)
	}
	return l
}

// SessionID returns the session being observed.
func (l *Logind) SessionID() string {
	return l.sessionID
}

// SessionDir returns the directory logind publishes session files in.
func (l *Logind) SessionDir() string {
	return l.sessionDir
}

// Locked implements autosync.LockQuerier using the session's LockedHint.
func (l *Logind) Locked(ctx context.Context) (bool, error) {
	return l.hint(ctx, "LockedHint")
}

// Busy reports whether the session is not idle. Any failure counts as idle so
// a pass is never held back by a broken probe.
func (l *Logind) Busy(ctx context.Context) bool {
	idle, err := l.hint(ctx, "IdleHint")
	if err != nil {
		return false
	}
	return !idle
}

// Granted implements autosync.PermissionProbe: the lock query must succeed
// and the session directory must be readable.
func (l *Logind) Granted(ctx context.Context) bool {
	if _, err := l.Locked(ctx); err != nil {
		return false
	}
	if _, err := os.ReadDir(l.sessionDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false
	}
	return true
}

func (l *Logind) hint(ctx context.Context, property string) (bool, error) {
	out, err := l.run(ctx, "loginctl", "show-session", l.sessionID, "-p", property, "--value")
	if err != nil {
		return false, fmt.Errorf("failed to read %s of session %s: %w", property, l.sessionID, err)
	}
	return parseBool(property, out)
}

func parseBool(property string, out []byte) (bool, error) {
	switch v := strings.TrimSpace(string(out)); v {
	case "yes", "true", "1":
		return true, nil
	case "no", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected %s value %q", property, v)
	}
}
