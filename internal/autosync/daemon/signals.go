package daemon

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// Signal is a logind D-Bus signal that may indicate a lock change.
type Signal int

const (
	// SignalLock is org.freedesktop.login1.Session.Lock.
	SignalLock Signal = iota
	// SignalUnlock is org.freedesktop.login1.Session.Unlock.
	SignalUnlock
	// SignalLockedHint is a PropertiesChanged carrying LockedHint.
	SignalLockedHint
)

// String returns a human-readable representation of the signal.
func (s Signal) String() string {
	switch s {
	case SignalLock:
		return "lock"
	case SignalUnlock:
		return "unlock"
	case SignalLockedHint:
		return "locked-hint"
	default:
		return "unknown"
	}
}

// Matches both the header line and the property name inside a
// PropertiesChanged body, e.g.:
//
//	signal time=1700000000.1 sender=:1.3 -> destination=(null destination) serial=812 path=/org/freedesktop/login1/session/_32; interface=org.freedesktop.login1.Session; member=Lock
//	      string "LockedHint"
var (
	memberPattern = regexp.MustCompile(`\bmember=(Lock|Unlock)\b`)
	hintPattern   = regexp.MustCompile(`^\s*string "LockedHint"\s*$`)
)

// ParseMonitorLine classifies one line of dbus-monitor output.
// Returns (signal, true) if the line announces a possible lock change.
func ParseMonitorLine(line string) (Signal, bool) {
	if m := memberPattern.FindStringSubmatch(line); m != nil {
		if !strings.Contains(line, "interface=org.freedesktop.login1.Session") {
			return 0, false
		}
		if m[1] == "Lock" {
			return SignalLock, true
		}
		return SignalUnlock, true
	}
	if hintPattern.MatchString(line) {
		return SignalLockedHint, true
	}
	return 0, false
}

// ScanSignals reads dbus-monitor output from r and calls fn for every lock
// related line until r is exhausted.
func ScanSignals(r io.Reader, fn func(Signal)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if sig, ok := ParseMonitorLine(scanner.Text()); ok {
			fn(sig)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan monitor output: %w", err)
	}
	return nil
}

// SignalMonitorConfig configures the D-Bus signal source.
type SignalMonitorConfig struct {
	// Binary is the dbus-monitor executable (default: dbus-monitor)
	Binary string

	// RestartDelay is how long to wait before restarting an exited monitor
	// (default: 5s)
	RestartDelay time.Duration

	// Logger for monitor activity
	Logger *log.Logger
}

// monitorRules subscribe to session Lock/Unlock and LockedHint changes.
var monitorRules = []string{
	"type='signal',sender='org.freedesktop.login1',interface='org.freedesktop.login1.Session'",
	"type='signal',sender='org.freedesktop.login1',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged'",
}

// WatchSignals runs dbus-monitor on the system bus and calls fn for every
// lock related signal. It restarts the monitor when it exits and blocks until
// ctx is cancelled. A missing binary returns immediately with an error; the
// other sources keep working without it.
//
// Example:
//
//	err := WatchSignals(ctx, SignalMonitorConfig{}, func(sig Signal) {
//	    log.Printf("logind: %s", sig)
//	})
func WatchSignals(ctx context.Context, config SignalMonitorConfig, fn func(Signal)) error {
	if config.Binary == "" {
		config.Binary = "dbus-monitor"
	}
	if config.RestartDelay == 0 {
		config.RestartDelay = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[signals] ", log.LstdFlags)
	}

	path, err := exec.LookPath(config.Binary)
	if err != nil {
		return fmt.Errorf("signal monitor unavailable: %w", err)
	}

	for {
		if err := runMonitor(ctx, path, fn); err != nil && ctx.Err() == nil {
			// Log error but keep watching
			config.Logger.Printf("Warning: monitor exited: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(config.RestartDelay):
		}
	}
}

func runMonitor(ctx context.Context, path string, fn func(Signal)) error {
	args := append([]string{"--system"}, monitorRules...)
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.WaitDelay = time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open monitor output: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	scanErr := ScanSignals(stdout, fn)
	waitErr := cmd.Wait()
	if scanErr != nil {
		return scanErr
	}
	return waitErr
}
