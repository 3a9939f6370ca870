package state

import (
	"testing"
	"time"
)

func TestLockRecord_Validate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(5 * time.Minute)
	earlier := now.Add(-time.Minute)

	tests := []struct {
		name    string
		rec     LockRecord
		wantErr bool
	}{
		{
			name: "default",
			rec:  Default(),
		},
		{
			name: "locked and pending",
			rec:  LockRecord{IsLocked: true, LockTimestamp: &now, ScheduledDisableTime: &later, DisablePending: true},
		},
		{
			name: "locked after disable fired",
			rec:  LockRecord{IsLocked: true, LockTimestamp: &now, ScheduledDisableTime: &later, DisabledByFeature: true},
		},
		{
			name: "unlocked owing a re-enable",
			rec:  LockRecord{ReenablePending: true},
		},
		{
			name:    "pending without deadline",
			rec:     LockRecord{IsLocked: true, LockTimestamp: &now, DisablePending: true},
			wantErr: true,
		},
		{
			name:    "pending while unlocked",
			rec:     LockRecord{ScheduledDisableTime: &later, DisablePending: true},
			wantErr: true,
		},
		{
			name:    "locked without timestamp",
			rec:     LockRecord{IsLocked: true},
			wantErr: true,
		},
		{
			name:    "unlocked with stale lock time",
			rec:     LockRecord{LockTimestamp: &now},
			wantErr: true,
		},
		{
			name:    "deadline before lock",
			rec:     LockRecord{IsLocked: true, LockTimestamp: &now, ScheduledDisableTime: &earlier, DisablePending: true},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLockRecord_MarkLockedOverwrites(t *testing.T) {
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(10 * time.Minute)

	var rec LockRecord
	rec.MarkLocked(first, 5*time.Minute, "a")
	rec.DisabledByFeature = true
	rec.MarkLocked(second, 15*time.Minute, "b")

	if rec.ArmToken != "b" {
		t.Errorf("ArmToken = %q, want %q", rec.ArmToken, "b")
	}
	if want := second.Add(15 * time.Minute); !rec.ScheduledDisableTime.Equal(want) {
		t.Errorf("ScheduledDisableTime = %v, want %v", rec.ScheduledDisableTime, want)
	}
	if rec.DisabledByFeature {
		t.Error("DisabledByFeature carried over into a new lock period")
	}
	if got := rec.Delay(); got != 15*time.Minute {
		t.Errorf("Delay() = %v, want 15m", got)
	}
	if err := rec.Validate(); err != nil {
		t.Errorf("Validate() after MarkLocked: %v", err)
	}
}

func TestLockRecord_ClearAndResolve(t *testing.T) {
	now := time.Now()

	var rec LockRecord
	rec.MarkLocked(now, time.Minute, "tok")
	rec.ResolvePending()

	if rec.DisablePending || !rec.DisabledByFeature || !rec.IsLocked {
		t.Errorf("after ResolvePending: %+v", rec)
	}

	rec.Clear()
	if rec.IsLocked || rec.LockTimestamp != nil || rec.ScheduledDisableTime != nil || rec.DisabledByFeature {
		t.Errorf("after Clear: %+v", rec)
	}
}

func TestLockRecord_Deadline(t *testing.T) {
	lockedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var rec LockRecord
	rec.MarkLocked(lockedAt, 5*time.Minute, "tok")

	tests := []struct {
		name          string
		now           time.Time
		wantRemaining time.Duration
		wantReached   bool
	}{
		{"at lock", lockedAt, 5 * time.Minute, false},
		{"just outside tolerance", lockedAt.Add(4*time.Minute + 29*time.Second), 31 * time.Second, false},
		{"inside tolerance", lockedAt.Add(4*time.Minute + 45*time.Second), 15 * time.Second, true},
		{"exact", lockedAt.Add(5 * time.Minute), 0, true},
		{"past", lockedAt.Add(time.Hour), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rec.Remaining(tt.now); got != tt.wantRemaining {
				t.Errorf("Remaining() = %v, want %v", got, tt.wantRemaining)
			}
			if got := rec.DeadlineReached(tt.now, 30*time.Second); got != tt.wantReached {
				t.Errorf("DeadlineReached() = %v, want %v", got, tt.wantReached)
			}
		})
	}

	if Default().DeadlineReached(lockedAt, time.Hour) {
		t.Error("record without deadline reports it reached")
	}
}

func TestLockRecord_MarkLockedCarriesOwedReenable(t *testing.T) {
	rec := LockRecord{ReenablePending: true}
	rec.MarkLocked(time.Now(), time.Minute, "tok")

	if rec.ReenablePending {
		t.Error("ReenablePending survived a new lock")
	}
	if !rec.DisabledByFeature {
		t.Error("owed re-enable not carried as ownership")
	}
}
