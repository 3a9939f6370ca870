package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mschirtzinger/autosync/internal/autosync"
	"github.com/mschirtzinger/autosync/internal/autosync/detector"
	"github.com/mschirtzinger/autosync/internal/autosync/reconcile"
	"github.com/mschirtzinger/autosync/internal/autosync/timer"
)

// Config holds configuration for the daemon.
type Config struct {
	// SessionDir is the logind session directory to watch; empty disables
	// the watcher
	SessionDir string

	// Session limits the watcher to one session file; empty or "auto"
	// watches all
	Session string

	// PollInterval is how often a poll event is emitted; zero disables polling
	PollInterval time.Duration

	// MonitorSignals enables the dbus-monitor signal source
	MonitorSignals bool

	// Signals configures the dbus-monitor source
	Signals SignalMonitorConfig

	// EventBuffer is the capacity of the shared event channel
	EventBuffer int

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SessionDir:     "/run/systemd/sessions",
		PollInterval:   30 * time.Second,
		MonitorSignals: true,
		EventBuffer:    64,
		Logger:         log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Deps are the components the daemon drives.
type Deps struct {
	Detector   *detector.Detector
	Timer      *timer.Executor
	Reconciler *reconcile.Reconciler
}

// Daemon orchestrates the event sources, the detector, the exact timer and
// the reconciler.
type Daemon struct {
	deps   Deps
	config *Config

	events chan autosync.Event

	// mu guards watcher and goroutine launch against a concurrent Stop
	mu      sync.Mutex
	watcher *SessionWatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New creates a daemon with the default configuration.
func New(deps Deps) (*Daemon, error) {
	return NewWithConfig(deps, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(deps Deps, config *Config) (*Daemon, error) {
	if deps.Detector == nil {
		return nil, fmt.Errorf("detector cannot be nil")
	}
	if deps.Timer == nil {
		return nil, fmt.Errorf("timer cannot be nil")
	}
	if deps.Reconciler == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}
	if config.Signals.Logger == nil {
		config.Signals.Logger = config.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		deps:   deps,
		config: config,
		events: make(chan autosync.Event, config.EventBuffer),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start runs the daemon.
//
// The daemon will:
// 1. Re-arm a pending countdown from the persisted deadline
// 2. Run one reconciliation pass to recover from anything missed while down
// 3. Start the event sources (session watcher, signal monitor, poller)
// 4. Run the detector and the periodic reconciler
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if armed, err := d.deps.Timer.Resume(d.ctx); err != nil {
		d.config.Logger.Printf("Warning: failed to resume countdown: %v", err)
	} else if armed {
		d.config.Logger.Println("Resumed pending countdown")
	}

	if c, err := d.deps.Reconciler.RunOnce(d.ctx); err != nil {
		d.config.Logger.Printf("Warning: startup reconciliation failed: %v", err)
	} else if c != reconcile.CaseNone {
		d.config.Logger.Printf("Startup reconciliation: %s", c)
	}

	d.mu.Lock()
	if d.ctx.Err() != nil {
		d.mu.Unlock()
		return nil
	}

	d.startWatcher()

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.deps.Detector.Run(d.ctx, d.events)
	}()
	go func() {
		defer d.wg.Done()
		d.deps.Reconciler.Run(d.ctx)
	}()

	if d.config.MonitorSignals {
		d.wg.Add(1)
		go d.watchSignals()
	}
	if d.config.PollInterval > 0 {
		d.wg.Add(1)
		go d.poll()
	}
	d.mu.Unlock()

	// Wait for shutdown
	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts the daemon down and waits for its goroutines. The countdown is
// cancelled but the record is kept; the next start resumes it.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")

		d.cancel()

		d.mu.Lock()
		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				d.config.Logger.Printf("Error closing watcher: %v", err)
			}
		}
		d.mu.Unlock()

		d.wg.Wait()
		d.deps.Timer.Cancel()

		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// Trigger injects an event as if a source had emitted it.
func (d *Daemon) Trigger(source string) {
	d.emit(source)
}

// emit queues an event without blocking. A full channel drops the event; the
// detector re-queries the OS on the next one and the reconciler backs it up.
func (d *Daemon) emit(source string) {
	select {
	case d.events <- autosync.Event{Source: source, At: time.Now()}:
	default:
	}
}

func (d *Daemon) startWatcher() {
	if d.config.SessionDir == "" {
		return
	}

	watcher, err := NewSessionWatcher(d.config.Session)
	if err != nil {
		d.config.Logger.Printf("Warning: session watcher unavailable: %v", err)
		return
	}
	if err := watcher.Start(d.config.SessionDir); err != nil {
		d.config.Logger.Printf("Warning: %v; relying on signals and polling", err)
		_ = watcher.Stop()
		return
	}
	d.watcher = watcher
	d.config.Logger.Printf("Watching: %s", d.config.SessionDir)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-d.ctx.Done():
				return
			case ev, ok := <-watcher.Events():
				if !ok {
					return
				}
				d.emit("session:" + ev.Op.String())
			case err, ok := <-watcher.Errors():
				if !ok {
					return
				}
				d.config.Logger.Printf("Watcher error: %v", err)
			}
		}
	}()
}

func (d *Daemon) watchSignals() {
	defer d.wg.Done()

	err := WatchSignals(d.ctx, d.config.Signals, func(sig Signal) {
		d.emit("dbus:" + sig.String())
	})
	if err != nil && d.ctx.Err() == nil {
		d.config.Logger.Printf("Warning: %v; relying on file events and polling", err)
	}
}

func (d *Daemon) poll() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.emit("poll")
		}
	}
}
