// Package detector turns best-effort lock events into lock and unlock edges.
//
// Events are only triggers. On every event that survives the gate and the
// throttle the detector asks the OS for the current lock state and compares it
// with the persisted record; only an actual change produces an edge. Repeated
// or reordered events are therefore harmless.
package detector

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mschirtzinger/autosync/internal/autosync"
	"github.com/mschirtzinger/autosync/internal/autosync/state"
)

// Edge is the transition an observation produced.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeLocked
	EdgeUnlocked
)

// String returns a human-readable representation of the edge.
func (e Edge) String() string {
	switch e {
	case EdgeNone:
		return "none"
	case EdgeLocked:
		return "locked"
	case EdgeUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// Config holds configuration for the detector.
type Config struct {
	// Throttle drops events closer than this to the last processed one
	Throttle time.Duration

	// Clock supplies time
	Clock autosync.Clock

	// Logger for detector activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Throttle: time.Second,
		Clock:    autosync.SystemClock(),
		Logger:   log.New(os.Stderr, "[detector] ", log.LstdFlags),
	}
}

// Detector is the serialized decision point for event-driven lock changes.
type Detector struct {
	store   *state.Store
	querier autosync.LockQuerier
	sched   autosync.Scheduler
	applier autosync.SyncApplier
	gate    autosync.Gate
	config  *Config

	mu            sync.Mutex
	lastProcessed time.Time
}

// New creates a detector with the default configuration.
func New(store *state.Store, querier autosync.LockQuerier, sched autosync.Scheduler, applier autosync.SyncApplier, gate autosync.Gate) (*Detector, error) {
	return NewWithConfig(store, querier, sched, applier, gate, DefaultConfig())
}

// NewWithConfig creates a detector with custom configuration.
func NewWithConfig(store *state.Store, querier autosync.LockQuerier, sched autosync.Scheduler, applier autosync.SyncApplier, gate autosync.Gate, config *Config) (*Detector, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if querier == nil {
		return nil, fmt.Errorf("querier cannot be nil")
	}
	if sched == nil {
		return nil, fmt.Errorf("scheduler cannot be nil")
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
		config.Logger = log.New(os.Stderr, "[detector] ", log.LstdFlags)
	}

	return &Detector{
		store:   store,
		querier: querier,
		sched:   sched,
		applier: applier,
		gate:    gate,
		config:  config,
	}, nil
}

// Run consumes events until ctx is cancelled or events is closed.
func (d *Detector) Run(ctx context.Context, events <-chan autosync.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, err := d.Handle(ctx, ev); err != nil {
				d.config.Logger.Printf("Error handling %s event: %v", ev.Source, err)
			}
		}
	}
}

// Handle processes one event. Events arriving while the gate is closed, or
// within the throttle window of the last processed event, are dropped. The
// window is measured on arrival, not on ev.At.
func (d *Detector) Handle(ctx context.Context, ev autosync.Event) (Edge, error) {
	if _, open := d.gate.Open(ctx); !open {
		return EdgeNone, nil
	}

	now := d.config.Clock.Now()

	d.mu.Lock()
	if !d.lastProcessed.IsZero() {
		gap := now.Sub(d.lastProcessed)
		if gap < 0 {
			gap = -gap
		}
		if gap < d.config.Throttle {
			d.mu.Unlock()
			return EdgeNone, nil
		}
	}
	d.lastProcessed = now
	d.mu.Unlock()

	return d.Observe(ctx)
}

// Observe evaluates the live lock state once, bypassing the throttle.
func (d *Detector) Observe(ctx context.Context) (Edge, error) {
	settings, open := d.gate.Open(ctx)
	if !open {
		return EdgeNone, nil
	}

	locked, err := d.querier.Locked(ctx)
	if err != nil {
		return EdgeNone, fmt.Errorf("failed to query lock state: %w", err)
	}

	rec, err := d.store.Read(ctx)
	if err != nil {
		return EdgeNone, err
	}
	if rec.IsLocked == locked {
		return EdgeNone, nil
	}

	if locked {
		return d.onLocked(ctx, settings)
	}
	return d.onUnlocked(ctx, settings)
}

func (d *Detector) onLocked(ctx context.Context, settings autosync.Settings) (Edge, error) {
	wrote := false
	rec, err := d.store.Update(ctx, func(rec *state.LockRecord) error {
		if rec.IsLocked {
			return state.ErrSkip
		}
		rec.MarkLocked(d.config.Clock.Now(), settings.Delay, uuid.NewString())
		wrote = true
		return nil
	})
	if err != nil {
		return EdgeNone, fmt.Errorf("failed to record lock: %w", err)
	}
	if !wrote {
		return EdgeNone, nil
	}

	d.config.Logger.Printf("Locked; disable scheduled for %s", rec.ScheduledDisableTime.Format(time.RFC3339))
	d.logAction(ctx, state.ActionLocked, rec.ScheduledDisableTime.Format(time.RFC3339))

	strategy, err := d.sched.Schedule(ctx, rec)
	if err != nil {
		return EdgeLocked, fmt.Errorf("failed to schedule disable: %w", err)
	}
	d.logAction(ctx, state.ActionArmed, strategy.String())

	return EdgeLocked, nil
}

// onUnlocked cancels the countdown first, then clears the record and restores
// sync in one transaction.
func (d *Detector) onUnlocked(ctx context.Context, settings autosync.Settings) (Edge, error) {
	wasArmed := d.sched.Armed()
	d.sched.Cancel()
	if wasArmed {
		d.logAction(ctx, state.ActionCancelled, "")
	}

	var (
		wrote     bool
		restored  bool
		enableErr error
	)
	_, err := d.store.Update(ctx, func(rec *state.LockRecord) error {
		if !rec.IsLocked {
			return state.ErrSkip
		}
		owned := rec.DisabledByFeature
		rec.Clear()
		wrote = true

		restored, enableErr = autosync.RestoreSync(ctx, d.applier, settings.Reenable, owned)
		if enableErr != nil {
			rec.ReenablePending = true
		}
		return nil
	})
	if err != nil {
		return EdgeNone, fmt.Errorf("failed to record unlock: %w", err)
	}
	if !wrote {
		return EdgeNone, nil
	}

	d.config.Logger.Println("Unlocked; pending disable cleared")
	d.logAction(ctx, state.ActionUnlocked, "")

	switch {
	case enableErr != nil:
		d.config.Logger.Printf("Error: failed to re-enable sync, reconciler will retry: %v", enableErr)
		d.logAction(ctx, state.ActionEnableFailed, enableErr.Error())
	case restored:
		d.config.Logger.Println("Re-enabled sync")
		d.logAction(ctx, state.ActionEnabled, "")
	}

	return EdgeUnlocked, nil
}

func (d *Detector) logAction(ctx context.Context, kind state.ActionKind, detail string) {
	if err := d.store.AppendAction(ctx, state.Action{
		At:     d.config.Clock.Now(),
		Kind:   kind,
		Source: "detector",
		Detail: detail,
	}); err != nil {
		d.config.Logger.Printf("Warning: failed to record %s action: %v", kind, err)
	}
}
