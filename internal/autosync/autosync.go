package autosync

import (
	"context"
	"time"

	"github.com/mschirtzinger/autosync/internal/autosync/state"
)

// ReenablePolicy decides whether an unlock re-enables sync that is disabled.
type ReenablePolicy string

const (
	// ReenableAlways re-enables sync on unlock whenever it is disabled.
	ReenableAlways ReenablePolicy = "always"
	// ReenableOwned re-enables sync only if this feature disabled it.
	ReenableOwned ReenablePolicy = "owned"
)

// Valid reports whether p is a known policy.
func (p ReenablePolicy) Valid() bool {
	return p == ReenableAlways || p == ReenableOwned
}

// Settings is the feature configuration consulted at the start of every decision.
type Settings struct {
	// Enabled is the user-facing on/off switch for the feature.
	Enabled bool
	// Delay is how long the session must stay locked before sync is disabled.
	Delay time.Duration
	// Reenable controls what an unlock does to disabled sync.
	Reenable ReenablePolicy
}

// SettingsSource supplies the current settings. Implementations must be safe
// for concurrent use; the config manager reloads them while the daemon runs.
type SettingsSource interface {
	Settings() Settings
}

// SettingsFunc adapts a function to SettingsSource.
type SettingsFunc func() Settings

// Settings implements SettingsSource.
func (f SettingsFunc) Settings() Settings { return f() }

// LockQuerier answers whether the session is locked right now.
// Events are only triggers; this query is the source of truth.
type LockQuerier interface {
	Locked(ctx context.Context) (bool, error)
}

// PermissionProbe reports whether the lock event stream may be observed.
type PermissionProbe interface {
	Granted(ctx context.Context) bool
}

// SyncApplier reads and writes the system-wide sync flag. It holds no state.
type SyncApplier interface {
	Enabled(ctx context.Context) (bool, error)
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
}

// Foreground is the privileged execution context held for the duration of an
// exact countdown. Enter is idempotent; Exit is safe when not entered.
type Foreground interface {
	Enter(ctx context.Context, reason string) error
	Exit()
}

// Scheduler arms and cancels the exact countdown for a pending record.
// The detector and the reconciler both hand deadlines to it.
type Scheduler interface {
	// Schedule classifies the record's delay and arms the exact timer when
	// the delay is short enough. Long delays are left to reconciliation.
	Schedule(ctx context.Context, rec state.LockRecord) (Strategy, error)
	// Arm starts the exact countdown regardless of the configured delay.
	// The reconciler uses it when little time is left on a long deadline.
	Arm(ctx context.Context, rec state.LockRecord) error
	// Cancel stops any in-flight countdown. Safe from any state.
	Cancel()
	// Armed reports whether a countdown is currently running.
	Armed() bool
}

// Event is a best-effort hint that the lock state may have changed.
type Event struct {
	Source string
	At     time.Time
}

// Gate combines the feature switch and the permission probe. A revoked
// permission behaves exactly like a disabled feature.
type Gate struct {
	Settings   SettingsSource
	Permission PermissionProbe
}

// Open returns the current settings and whether the feature may act.
func (g Gate) Open(ctx context.Context) (Settings, bool) {
	var s Settings
	if g.Settings != nil {
		s = g.Settings.Settings()
	}
	if !s.Enabled {
		return s, false
	}
	if g.Permission != nil && !g.Permission.Granted(ctx) {
		return s, false
	}
	return s, true
}

// RestoreSync re-enables sync if it is disabled and the policy allows it.
// owned reports whether this feature disabled sync during the lock period.
// It returns true when Enable was called successfully.
func RestoreSync(ctx context.Context, applier SyncApplier, policy ReenablePolicy, owned bool) (bool, error) {
	if policy == ReenableOwned && !owned {
		return false, nil
	}

	enabled, err := applier.Enabled(ctx)
	if err != nil {
		return false, err
	}
	if enabled {
		return false, nil
	}

	if err := applier.Enable(ctx); err != nil {
		return false, err
	}
	return true, nil
}
