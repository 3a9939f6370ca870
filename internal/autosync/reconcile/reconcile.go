// Package reconcile provides the periodic pass that re-derives the correct
// lock record from the live OS state and corrects any drift.
//
// The reconciler is the at-least-once backstop for everything the event
// stream and the exact timer can miss: a process killed mid-delay, an edge
// lost while the daemon was down, a side effect that failed. Each pass is
// classified by the pure Classify function and then re-validated inside the
// store transaction that acts on it.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mschirtzinger/autosync/internal/autosync"
	"github.com/mschirtzinger/autosync/internal/autosync/state"
)

// Case is the drift a pass found.
type Case int

const (
	// CaseNone means record and OS agree and nothing is due.
	CaseNone Case = iota
	// CaseDeadlinePassed: locked, pending, deadline reached. Disable now.
	CaseDeadlinePassed
	// CaseMissedUnlock: record locked, OS unlocked. Clear and re-enable.
	CaseMissedUnlock
	// CaseMissedLock: record unlocked, OS locked. Lock with a deadline from now.
	CaseMissedLock
	// CaseRearm: pending deadline is close enough for the exact timer but no
	// countdown is running.
	CaseRearm
	// CaseRetryEnable: an earlier unlock failed to re-enable sync.
	CaseRetryEnable
)

// String returns a human-readable representation of the case.
func (c Case) String() string {
	switch c {
	case CaseNone:
		return "none"
	case CaseDeadlinePassed:
		return "deadline-passed"
	case CaseMissedUnlock:
		return "missed-unlock"
	case CaseMissedLock:
		return "missed-lock"
	case CaseRearm:
		return "rearm"
	case CaseRetryEnable:
		return "retry-enable"
	default:
		return "unknown"
	}
}

// Classify decides what a pass must do given the stored record and the live
// lock state. It has no side effects.
func Classify(rec state.LockRecord, osLocked bool, now time.Time, tolerance time.Duration, timerArmed bool, floor time.Duration) Case {
	switch {
	case rec.IsLocked && !osLocked:
		return CaseMissedUnlock
	case !rec.IsLocked && osLocked:
		return CaseMissedLock
	case !rec.IsLocked:
		if rec.ReenablePending {
			return CaseRetryEnable
		}
		return CaseNone
	case !rec.DisablePending:
		return CaseNone
	case rec.DeadlineReached(now, tolerance):
		return CaseDeadlinePassed
	case !timerArmed && autosync.Classify(rec.Remaining(now), floor) == autosync.StrategyExact:
		return CaseRearm
	default:
		return CaseNone
	}
}

// IdleProbe reports whether the session is busy enough that a pass should be
// briefly deferred.
type IdleProbe interface {
	Busy(ctx context.Context) bool
}

// Config holds configuration for the reconciler.
type Config struct {
	// Interval between passes; raised to Floor when below it
	Interval time.Duration

	// Floor is the minimum interval and the longest exact-timer window
	Floor time.Duration

	// Tolerance is how early a deadline counts as reached
	Tolerance time.Duration

	// IdleRetry is the single deferral applied when IdleProbe reports busy
	IdleRetry time.Duration

	// IdleProbe is optional
	IdleProbe IdleProbe

	// Clock supplies time
	Clock autosync.Clock

	// Logger for reconciler activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:  autosync.ReconcileFloor,
		Floor:     autosync.ReconcileFloor,
		Tolerance: autosync.DefaultTolerance,
		IdleRetry: time.Minute,
		Clock:     autosync.SystemClock(),
		Logger:    log.New(os.Stderr, "[reconcile] ", log.LstdFlags),
	}
}

// Reconciler runs reconciliation passes.
type Reconciler struct {
	store   *state.Store
	querier autosync.LockQuerier
	sched   autosync.Scheduler
	applier autosync.SyncApplier
	gate    autosync.Gate
	config  *Config
}

// New creates a reconciler with the default configuration.
func New(store *state.Store, querier autosync.LockQuerier, sched autosync.Scheduler, applier autosync.SyncApplier, gate autosync.Gate) (*Reconciler, error) {
	return NewWithConfig(store, querier, sched, applier, gate, DefaultConfig())
}

// NewWithConfig creates a reconciler with custom configuration.
func NewWithConfig(store *state.Store, querier autosync.LockQuerier, sched autosync.Scheduler, applier autosync.SyncApplier, gate autosync.Gate, config *Config) (*Reconciler, error) {
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
		config.Logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	if config.Floor <= 0 {
		config.Floor = autosync.ReconcileFloor
	}
	if config.Interval < config.Floor {
		if config.Interval > 0 {
			config.Logger.Printf("Interval %s below floor, using %s", config.Interval, config.Floor)
		}
		config.Interval = config.Floor
	}
	if config.IdleRetry <= 0 {
		config.IdleRetry = time.Minute
	}

	return &Reconciler{
		store:   store,
		querier: querier,
		sched:   sched,
		applier: applier,
		gate:    gate,
		config:  config,
	}, nil
}

// Interval returns the effective pass interval.
func (r *Reconciler) Interval() time.Duration {
	return r.config.Interval
}

// Run performs a pass every Interval until ctx is cancelled. A busy session
// defers a pass once by IdleRetry; the deferred pass always runs.
func (r *Reconciler) Run(ctx context.Context) {
	t := time.NewTimer(r.config.Interval)
	defer t.Stop()

	deferred := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !deferred && r.config.IdleProbe != nil && r.config.IdleProbe.Busy(ctx) {
				deferred = true
				t.Reset(r.config.IdleRetry)
				continue
			}
			deferred = false

			if _, err := r.RunOnce(ctx); err != nil {
				r.config.Logger.Printf("Error: reconciliation failed: %v", err)
			}
			t.Reset(r.config.Interval)
		}
	}
}

// RunOnce performs one reconciliation pass and returns the case it acted on.
// A case that no longer holds once re-checked inside the transaction returns
// CaseNone and writes no history.
func (r *Reconciler) RunOnce(ctx context.Context) (Case, error) {
	settings, open := r.gate.Open(ctx)
	if !open {
		return CaseNone, nil
	}

	osLocked, err := r.querier.Locked(ctx)
	if err != nil {
		return CaseNone, fmt.Errorf("failed to query lock state: %w", err)
	}

	rec, err := r.store.Read(ctx)
	if err != nil {
		return CaseNone, err
	}

	now := r.config.Clock.Now()
	c := Classify(rec, osLocked, now, r.config.Tolerance, r.sched.Armed(), r.config.Floor)

	var acted bool
	switch c {
	case CaseDeadlinePassed:
		acted, err = r.disable(ctx)
	case CaseMissedUnlock:
		acted, err = r.unlock(ctx, settings)
	case CaseMissedLock:
		acted, err = r.lock(ctx, settings)
	case CaseRearm:
		acted, err = r.rearm(ctx)
	case CaseRetryEnable:
		acted, err = r.retryEnable(ctx)
	default:
		return CaseNone, nil
	}

	if !acted {
		if err == nil {
			r.config.Logger.Printf("Case %s no longer applies, skipped", c)
		}
		return CaseNone, err
	}

	r.config.Logger.Printf("Reconciled: %s", c)
	r.logAction(ctx, state.ActionReconciled, c.String())
	return c, err
}

// still re-checks the case against the record read inside a transaction.
func (r *Reconciler) still(rec state.LockRecord, want Case) bool {
	now := r.config.Clock.Now()
	// The live OS state was sampled before the transaction; take the record
	// side from the transaction and the OS side from the case.
	osLocked := want != CaseMissedUnlock && want != CaseRetryEnable
	return Classify(rec, osLocked, now, r.config.Tolerance, r.sched.Armed(), r.config.Floor) == want
}

// disable reports acted when the disable was attempted, failed or not.
func (r *Reconciler) disable(ctx context.Context) (bool, error) {
	var (
		attempted  bool
		fired      bool
		disableErr error
	)
	_, err := r.store.Update(ctx, func(rec *state.LockRecord) error {
		if !r.still(*rec, CaseDeadlinePassed) {
			return state.ErrSkip
		}
		attempted = true
		if err := r.applier.Disable(ctx); err != nil {
			disableErr = err
			return state.ErrSkip
		}
		rec.ResolvePending()
		fired = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to resolve deadline: %w", err)
	}

	if disableErr != nil {
		r.logAction(ctx, state.ActionDisableFailed, disableErr.Error())
		return true, fmt.Errorf("failed to disable sync: %w", disableErr)
	}
	if fired {
		// The exact timer, if any, has nothing left to do
		r.sched.Cancel()
		r.config.Logger.Println("Disabled sync for passed deadline")
		r.logAction(ctx, state.ActionFired, "")
	}
	return attempted, nil
}

func (r *Reconciler) unlock(ctx context.Context, settings autosync.Settings) (bool, error) {
	r.sched.Cancel()

	var (
		wrote     bool
		restored  bool
		enableErr error
	)
	_, err := r.store.Update(ctx, func(rec *state.LockRecord) error {
		if !rec.IsLocked {
			return state.ErrSkip
		}
		owned := rec.DisabledByFeature
		rec.Clear()
		wrote = true

		restored, enableErr = autosync.RestoreSync(ctx, r.applier, settings.Reenable, owned)
		if enableErr != nil {
			rec.ReenablePending = true
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to clear missed unlock: %w", err)
	}
	if !wrote {
		return false, nil
	}

	r.logAction(ctx, state.ActionUnlocked, "")
	if enableErr != nil {
		r.logAction(ctx, state.ActionEnableFailed, enableErr.Error())
		return true, fmt.Errorf("failed to re-enable sync: %w", enableErr)
	}
	if restored {
		r.logAction(ctx, state.ActionEnabled, "")
	}
	return true, nil
}

func (r *Reconciler) lock(ctx context.Context, settings autosync.Settings) (bool, error) {
	wrote := false
	rec, err := r.store.Update(ctx, func(rec *state.LockRecord) error {
		if rec.IsLocked {
			return state.ErrSkip
		}
		// The true lock time is unknown; the deadline counts from now
		rec.MarkLocked(r.config.Clock.Now(), settings.Delay, uuid.NewString())
		wrote = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to record missed lock: %w", err)
	}
	if !wrote {
		return false, nil
	}

	r.logAction(ctx, state.ActionLocked, rec.ScheduledDisableTime.Format(time.RFC3339))
	strategy, err := r.sched.Schedule(ctx, rec)
	if err != nil {
		return true, fmt.Errorf("failed to schedule disable: %w", err)
	}
	r.logAction(ctx, state.ActionArmed, strategy.String())
	return true, nil
}

func (r *Reconciler) rearm(ctx context.Context) (bool, error) {
	rec, err := r.store.Read(ctx)
	if err != nil {
		return false, err
	}
	if !r.still(rec, CaseRearm) {
		return false, nil
	}
	if err := r.sched.Arm(ctx, rec); err != nil {
		return false, fmt.Errorf("failed to re-arm countdown: %w", err)
	}
	r.logAction(ctx, state.ActionArmed, autosync.StrategyExact.String())
	return true, nil
}

func (r *Reconciler) retryEnable(ctx context.Context) (bool, error) {
	var (
		attempted bool
		restored  bool
		enableErr error
	)
	_, err := r.store.Update(ctx, func(rec *state.LockRecord) error {
		if !r.still(*rec, CaseRetryEnable) {
			return state.ErrSkip
		}
		attempted = true
		// The owed re-enable already passed the policy check at unlock
		restored, enableErr = autosync.RestoreSync(ctx, r.applier, autosync.ReenableAlways, true)
		if enableErr != nil {
			return state.ErrSkip
		}
		rec.ReenablePending = false
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to clear owed re-enable: %w", err)
	}

	if enableErr != nil {
		r.logAction(ctx, state.ActionEnableFailed, enableErr.Error())
		return true, fmt.Errorf("failed to re-enable sync: %w", enableErr)
	}
	if restored {
		r.logAction(ctx, state.ActionEnabled, "")
	}
	return attempted, nil
}

func (r *Reconciler) logAction(ctx context.Context, kind state.ActionKind, detail string) {
	if err := r.store.AppendAction(ctx, state.Action{
		At:     r.config.Clock.Now(),
		Kind:   kind,
		Source: "reconciler",
		Detail: detail,
	}); err != nil {
		r.config.Logger.Printf("Warning: failed to record %s action: %v", kind, err)
	}
}
