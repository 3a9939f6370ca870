// Package autosync holds the contracts shared by the components that suspend
// sync while the session is locked.
//
// # Architecture
//
// The feature is built from a handful of small components that only meet at
// the persisted lock record:
//
//   - state.Store: single-row SQLite record of the lock/scheduling state
//   - detector.Detector: turns a noisy event stream into Locked/Unlocked edges
//   - Classify: picks the exact timer or reconciliation for a delay
//   - timer.Executor: inhibitor-held countdown to an absolute deadline
//   - reconcile.Reconciler: periodic pass that re-derives the correct state
//   - syncflag: adapters over the system-wide sync toggle
//
// Three triggers drive state changes: the event stream, timer expiry and the
// reconciliation ticker. Each runs on its own goroutine and they are
// serialized only by state.Store.Update, which runs a decision and its side
// effect as one transaction:
//
//	rec, err := store.Update(ctx, func(rec *state.LockRecord) error {
//	    if !rec.DisablePending || !rec.IsLocked {
//	        return state.ErrSkip
//	    }
//	    if err := applier.Disable(ctx); err != nil {
//	        return err
//	    }
//	    rec.DisablePending = false
//	    return nil
//	})
//
// # Deadlines
//
// The deadline (ScheduledDisableTime) is the durable source of truth. A
// restarted process recomputes the remaining time from it instead of
// trusting any duration it held before dying. Re-arming always mints a new
// ArmToken, so an executor that wakes up with an old token knows its
// deadline was superseded.
//
// # Unlock precedence
//
// An unlock cancels the countdown, then clears the record and re-enables
// sync in one transaction. A countdown that already passed Cancel finds a
// cleared record (or a stale token) when it enters its own transaction and
// does nothing.
//
// # Error Handling
//
// Failures of the sync toggle are logged and never retried in a tight loop.
// The next reconciliation pass is the retry path. Permission failures are
// reported as ErrPermissionDenied so callers can tell them apart:
//
//	if autosync.IsPermission(err) {
//	    // leave the record pending, the reconciler will try again
//	}
package autosync
