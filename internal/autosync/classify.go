package autosync

import (
	"fmt"
	"time"
)

// ReconcileFloor is the minimum period of the periodic reconciler.
const ReconcileFloor = 15 * time.Minute

// DefaultTolerance absorbs scheduling jitter when checking a deadline.
const DefaultTolerance = 30 * time.Second

// AllowedDelayMinutes lists the delays the settings screen offers.
var AllowedDelayMinutes = []int{1, 5, 10, 15, 20, 30, 45, 60}

// Strategy is the execution backend chosen for a delay.
type Strategy int

const (
	// StrategyExact arms the exact timer; used for delays at or below the floor.
	StrategyExact Strategy = iota
	// StrategyReconcileOnly leaves the deadline to periodic reconciliation.
	StrategyReconcileOnly
)

// String returns a human-readable representation of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyExact:
		return "exact"
	case StrategyReconcileOnly:
		return "reconcile-only"
	default:
		return "unknown"
	}
}

// Classify maps a configured delay to its execution strategy. The reconciler
// cannot run more often than floor, so anything at or below it needs the
// exact timer.
func Classify(delay, floor time.Duration) Strategy {
	if delay <= floor {
		return StrategyExact
	}
	return StrategyReconcileOnly
}

// ValidateDelayMinutes checks m against AllowedDelayMinutes.
func ValidateDelayMinutes(m int) error {
	for _, allowed := range AllowedDelayMinutes {
		if m == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %d minutes (allowed: %v)", ErrInvalidDelay, m, AllowedDelayMinutes)
}
