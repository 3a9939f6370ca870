// Package timer provides the exact countdown that disables sync at a
// persisted deadline while a privileged context is held.
package timer

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mschirtzinger/autosync/internal/autosync"
	"github.com/mschirtzinger/autosync/internal/autosync/state"
)

// State is the executor's position in Idle → Armed → {Fired | Skipped | Cancelled}.
// Skipped is an expiry that disabled nothing.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateFired
	StateSkipped
	StateCancelled
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateFired:
		return "fired"
	case StateSkipped:
		return "skipped"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Config holds configuration for the executor.
type Config struct {
	// Tolerance is how early an expiry may act on a deadline
	Tolerance time.Duration

	// Floor is the longest delay handled by the exact timer
	Floor time.Duration

	// ActionTimeout bounds the expiry transaction including the disable call
	ActionTimeout time.Duration

	// Clock supplies time and timers
	Clock autosync.Clock

	// Logger for executor activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Tolerance:     autosync.DefaultTolerance,
		Floor:         autosync.ReconcileFloor,
		ActionTimeout: 30 * time.Second,
		Clock:         autosync.SystemClock(),
		Logger:        log.New(os.Stderr, "[timer] ", log.LstdFlags),
	}
}

// Executor runs at most one countdown toward the record's scheduled disable
// time. It implements autosync.Scheduler.
type Executor struct {
	store   *state.Store
	applier autosync.SyncApplier
	fg      autosync.Foreground
	gate    autosync.Gate
	config  *Config

	mu    sync.Mutex
	st    State
	gen   uint64 // bumped by every Arm and Cancel; an expiry from an older gen is void
	token string
	stop  autosync.Stopper
}

// New creates an executor with the default configuration.
func New(store *state.Store, applier autosync.SyncApplier, fg autosync.Foreground, gate autosync.Gate) (*Executor, error) {
	return NewWithConfig(store, applier, fg, gate, DefaultConfig())
}

// NewWithConfig creates an executor with custom configuration.
// A nil fg runs countdowns without a privileged context.
func NewWithConfig(store *state.Store, applier autosync.SyncApplier, fg autosync.Foreground, gate autosync.Gate, config *Config) (*Executor, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if applier == nil {
		return nil, fmt.Errorf("applier cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Clock == nil {
		config.Clock = autosync.SystemClock()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[timer] ", log.LstdFlags)
	}
	if config.Floor <= 0 {
		config.Floor = autosync.ReconcileFloor
	}
	if config.ActionTimeout <= 0 {
		config.ActionTimeout = 30 * time.Second
	}
	if fg == nil {
		fg = noForeground{}
	}

	return &Executor{
		store:   store,
		applier: applier,
		fg:      fg,
		gate:    gate,
		config:  config,
	}, nil
}

// Schedule arms the countdown when the record's delay is at or below the
// floor and cancels any running countdown otherwise.
func (e *Executor) Schedule(ctx context.Context, rec state.LockRecord) (autosync.Strategy, error) {
	strategy := autosync.Classify(rec.Delay(), e.config.Floor)
	if strategy == autosync.StrategyReconcileOnly {
		e.Cancel()
		e.config.Logger.Printf("Delay %s exceeds %s, leaving deadline to reconciliation", rec.Delay(), e.config.Floor)
		return strategy, nil
	}
	return strategy, e.Arm(ctx, rec)
}

// Arm starts a countdown to rec.ScheduledDisableTime, replacing any previous
// one. The remaining time is always derived from the persisted deadline.
func (e *Executor) Arm(ctx context.Context, rec state.LockRecord) error {
	if !rec.DisablePending || rec.ScheduledDisableTime == nil {
		return autosync.ErrNotPending
	}

	deadline := *rec.ScheduledDisableTime
	reason := fmt.Sprintf("disable sync at %s", deadline.Local().Format(time.Kitchen))

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stop != nil {
		e.stop.Stop()
	}
	e.gen++
	gen := e.gen

	// Entered under mu and after the bump, so a superseded countdown's
	// release cannot exit this hold
	if err := e.fg.Enter(ctx, reason); err != nil {
		// The countdown still runs; the reconciler backs it up
		e.config.Logger.Printf("Warning: failed to enter privileged context: %v", err)
	}

	remaining := rec.Remaining(e.config.Clock.Now())
	token := rec.ArmToken
	e.token = token
	e.st = StateArmed
	e.stop = e.config.Clock.AfterFunc(remaining, func() { e.expire(gen, token) })

	e.config.Logger.Printf("Armed countdown: %s remaining (deadline %s)", remaining.Round(time.Second), deadline.Format(time.RFC3339))
	return nil
}

// Resume re-arms from the persisted record after a process start. It arms
// only when a disable is pending and the remaining window is short enough for
// the exact timer; otherwise the reconciler owns the deadline.
func (e *Executor) Resume(ctx context.Context) (bool, error) {
	rec, err := e.store.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read record: %w", err)
	}
	if !rec.DisablePending {
		return false, nil
	}

	remaining := rec.Remaining(e.config.Clock.Now())
	if autosync.Classify(remaining, e.config.Floor) != autosync.StrategyExact {
		e.config.Logger.Printf("Pending deadline is %s away, leaving it to reconciliation", remaining.Round(time.Second))
		return false, nil
	}

	if err := e.Arm(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

// Cancel stops the running countdown and leaves the privileged context.
// Safe from any state.
func (e *Executor) Cancel() {
	e.mu.Lock()
	wasArmed := e.st == StateArmed
	if e.stop != nil {
		e.stop.Stop()
		e.stop = nil
	}
	e.gen++
	if wasArmed {
		e.st = StateCancelled
	}
	e.fg.Exit()
	e.mu.Unlock()

	if wasArmed {
		e.config.Logger.Println("Cancelled countdown")
	}
}

// Armed reports whether a countdown is running.
func (e *Executor) Armed() bool {
	return e.State() == StateArmed
}

// State returns the current executor state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st
}

// expire runs when a countdown reaches zero. Every precondition is checked
// against the stored record inside the transaction that disables sync, so an
// unlock is ordered strictly before or after it.
func (e *Executor) expire(gen uint64, token string) {
	e.mu.Lock()
	current := e.gen == gen && e.st == StateArmed
	e.mu.Unlock()
	if !current {
		return
	}

	var (
		fired      bool
		disableErr error
	)
	defer func() { e.release(gen, fired) }()

	ctx, cancel := context.WithTimeout(context.Background(), e.config.ActionTimeout)
	defer cancel()

	_, err := e.store.Update(ctx, func(rec *state.LockRecord) error {
		if _, open := e.gate.Open(ctx); !open {
			e.config.Logger.Println("Feature disabled or permission missing, skipping disable")
			return state.ErrSkip
		}
		if !rec.DisablePending || !rec.IsLocked {
			return state.ErrSkip
		}
		if rec.ArmToken != token {
			e.config.Logger.Println("Deadline superseded, skipping disable")
			return state.ErrSkip
		}
		if !rec.DeadlineReached(e.config.Clock.Now(), e.config.Tolerance) {
			e.config.Logger.Printf("Woke %s before deadline, leaving it to reconciliation",
				rec.Remaining(e.config.Clock.Now()).Round(time.Second))
			return state.ErrSkip
		}

		if err := e.applier.Disable(ctx); err != nil {
			disableErr = err
			return state.ErrSkip
		}

		rec.ResolvePending()
		fired = true
		return nil
	})
	if err != nil {
		e.config.Logger.Printf("Error: expiry transaction failed: %v", err)
		return
	}

	switch {
	case disableErr != nil:
		if autosync.IsPermission(disableErr) {
			e.config.Logger.Printf("Permission denied disabling sync, reconciler will retry: %v", disableErr)
		} else {
			e.config.Logger.Printf("Error: failed to disable sync: %v", disableErr)
		}
		e.logAction(ctx, state.ActionDisableFailed, disableErr.Error())
	case fired:
		e.config.Logger.Println("Disabled sync at deadline")
		e.logAction(ctx, state.ActionFired, "")
	}
}

// release leaves the privileged context unless a newer countdown owns it.
func (e *Executor) release(gen uint64, fired bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gen != gen {
		return
	}
	e.st = StateSkipped
	if fired {
		e.st = StateFired
	}
	e.stop = nil
	e.fg.Exit()
}

func (e *Executor) logAction(ctx context.Context, kind state.ActionKind, detail string) {
	if err := e.store.AppendAction(ctx, state.Action{
		At:     e.config.Clock.Now(),
		Kind:   kind,
		Source: "timer",
		Detail: detail,
	}); err != nil {
		e.config.Logger.Printf("Warning: failed to record %s action: %v", kind, err)
	}
}

type noForeground struct{}

func (noForeground) Enter(context.Context, string) error { return nil }
func (noForeground) Exit()                               {}
