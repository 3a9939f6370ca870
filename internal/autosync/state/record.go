// Package state provides the crash-surviving lock record shared by every
// autosync component.
package state

import (
	"fmt"
	"time"
)

// LockRecord is the persisted lock/scheduling state. There is exactly one,
// overwritten in place.
type LockRecord struct {
	// ===== Lock observation =====
	IsLocked      bool       `json:"isLocked" yaml:"isLocked"`
	LockTimestamp *time.Time `json:"lockTimestamp,omitempty" yaml:"lockTimestamp,omitempty"`

	// ===== Pending action =====
	ScheduledDisableTime *time.Time `json:"scheduledDisableTime,omitempty" yaml:"scheduledDisableTime,omitempty"`
	DisablePending       bool       `json:"disablePending" yaml:"disablePending"`
	ArmToken             string     `json:"armToken,omitempty" yaml:"armToken,omitempty"` // minted per arm; stale token = superseded

	// ===== Bookkeeping =====
	DisabledByFeature bool      `json:"disabledByFeature" yaml:"disabledByFeature"` // this feature turned sync off during the lock period
	ReenablePending   bool      `json:"reenablePending" yaml:"reenablePending"`     // an unlock failed to turn sync back on
	UpdatedAt         time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Default returns the unlocked record a fresh install starts with.
func Default() LockRecord {
	return LockRecord{}
}

// Validate checks the record invariants.
func (r *LockRecord) Validate() error {
	if r.DisablePending && r.ScheduledDisableTime == nil {
		return fmt.Errorf("disable pending without a scheduled disable time")
	}
	if r.DisablePending && !r.IsLocked {
		return fmt.Errorf("disable pending while unlocked")
	}
	if r.IsLocked && r.LockTimestamp == nil {
		return fmt.Errorf("locked without a lock timestamp")
	}
	if !r.IsLocked && (r.LockTimestamp != nil || r.ScheduledDisableTime != nil) {
		return fmt.Errorf("unlocked record still carries lock times")
	}
	if r.ScheduledDisableTime != nil && r.LockTimestamp != nil && r.ScheduledDisableTime.Before(*r.LockTimestamp) {
		return fmt.Errorf("scheduled disable time %s precedes lock time %s",
			r.ScheduledDisableTime.Format(time.RFC3339), r.LockTimestamp.Format(time.RFC3339))
	}
	return nil
}

// MarkLocked records a fresh lock observation at now and arms a deadline of
// now+delay under token. Any previous deadline is overwritten. A re-enable
// still owed from the last unlock carries over as ownership of the disabled
// flag, so the next unlock restores it.
func (r *LockRecord) MarkLocked(now time.Time, delay time.Duration, token string) {
	lockedAt := now
	deadline := now.Add(delay)

	r.IsLocked = true
	r.LockTimestamp = &lockedAt
	r.ScheduledDisableTime = &deadline
	r.DisablePending = true
	r.ArmToken = token
	r.DisabledByFeature = r.ReenablePending
	r.ReenablePending = false
}

// Clear resets the record to the unlocked defaults.
func (r *LockRecord) Clear() {
	*r = LockRecord{UpdatedAt: r.UpdatedAt}
}

// ResolvePending marks the pending disable as done. The session stays locked.
func (r *LockRecord) ResolvePending() {
	r.DisablePending = false
	r.DisabledByFeature = true
}

// Delay returns the delay the deadline was armed with, or zero if no
// deadline is set.
func (r LockRecord) Delay() time.Duration {
	if r.LockTimestamp == nil || r.ScheduledDisableTime == nil {
		return 0
	}
	return r.ScheduledDisableTime.Sub(*r.LockTimestamp)
}

// Remaining returns the time left until the deadline, clamped at zero.
func (r LockRecord) Remaining(now time.Time) time.Duration {
	if r.ScheduledDisableTime == nil {
		return 0
	}
	d := r.ScheduledDisableTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// DeadlineReached reports whether now is within tolerance of, or past, the deadline.
func (r LockRecord) DeadlineReached(now time.Time, tolerance time.Duration) bool {
	if r.ScheduledDisableTime == nil {
		return false
	}
	return !now.Before(r.ScheduledDisableTime.Add(-tolerance))
}
