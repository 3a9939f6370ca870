package platform

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// InhibitorConfig holds configuration for the inhibitor hold.
type InhibitorConfig struct {
	// Binary is the systemd-inhibit executable
	Binary string

	// What lists the inhibited operations
	What string

	// Who names the holder in systemd-inhibit --list
	Who string

	// Logger for inhibitor activity
	Logger *log.Logger
}

// DefaultInhibitorConfig returns sensible defaults.
func DefaultInhibitorConfig() *InhibitorConfig {
	return &InhibitorConfig{
		Binary: "systemd-inhibit",
		What:   "sleep:idle",
		Who:    "autosync",
		Logger: log.New(os.Stderr, "[inhibit] ", log.LstdFlags),
	}
}

// Inhibitor holds a systemd inhibitor lock while an exact countdown runs. The
// lock keeps the machine from sleeping through the deadline and shows up in
// systemd-inhibit --list as the status indicator. It implements
// autosync.Foreground.
type Inhibitor struct {
	config *InhibitorConfig

	mu            sync.Mutex
	cancel        context.CancelFunc
	done          chan struct{}
	missingLogged bool
}

// NewInhibitor creates an inhibitor. A nil config uses the defaults.
func NewInhibitor(config *InhibitorConfig) *Inhibitor {
	if config == nil {
		config = DefaultInhibitorConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[inhibit] ", log.LstdFlags)
	}
	return &Inhibitor{config: config}
}

// Enter starts the hold. Entering while held is a no-op. A missing binary is
// logged once and the hold degrades to nothing.
func (i *Inhibitor) Enter(_ context.Context, reason string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cancel != nil {
		return nil
	}

	path, err := exec.LookPath(i.config.Binary)
	if err != nil {
		if !i.missingLogged {
			i.config.Logger.Printf("Warning: %s not found, countdowns run without an inhibitor: %v", i.config.Binary, err)
			i.missingLogged = true
		}
		return nil
	}

	// The hold outlives the caller's context; only Exit ends it
	holdCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(holdCtx, path,
		"--what="+i.config.What,
		"--who="+i.config.Who,
		"--why="+reason,
		"--mode=block",
		"sleep", "infinity")
	cmd.Cancel = func() error { return cmd.Process.Signal(unix.SIGTERM) }
	cmd.WaitDelay = 2 * time.Second
	setParentDeathSignal(cmd)

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start %s: %w", i.config.Binary, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = cmd.Wait()
	}()

	i.cancel = cancel
	i.done = done
	return nil
}

// Exit ends the hold and waits for the holder process to go away. Safe when
// not held.
func (i *Inhibitor) Exit() {
	i.mu.Lock()
	cancel, done := i.cancel, i.done
	i.cancel, i.done = nil, nil
	i.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Held reports whether a holder process is running.
func (i *Inhibitor) Held() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.done == nil {
		return false
	}
	select {
	case <-i.done:
		return false
	default:
		return true
	}
}
