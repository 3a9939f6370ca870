package state

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// openTestStore opens a store in a temporary directory.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_CreatesDefaultRecord(t *testing.T) {
	s := openTestStore(t)

	rec, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if rec.IsLocked || rec.DisablePending || rec.LockTimestamp != nil || rec.ScheduledDisableTime != nil {
		t.Errorf("fresh record = %+v, want defaults", rec)
	}
}

func TestOpen_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.Update(ctx, func(rec *LockRecord) error {
		rec.MarkLocked(now, 5*time.Minute, "tok-1")
		return nil
	}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	// Reopen, as a restarted process would
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	rec, err := s2.Read(ctx)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if !rec.IsLocked || !rec.DisablePending || rec.ArmToken != "tok-1" {
		t.Fatalf("record after reopen = %+v", rec)
	}
	if want := now.Add(5 * time.Minute); !rec.ScheduledDisableTime.Equal(want) {
		t.Errorf("ScheduledDisableTime = %v, want %v", rec.ScheduledDisableTime, want)
	}
	if !rec.LockTimestamp.Equal(now) {
		t.Errorf("LockTimestamp = %v, want %v", rec.LockTimestamp, now)
	}
}

func TestUpdate_ErrorLeavesRecordUntouched(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := s.Update(ctx, func(rec *LockRecord) error {
		rec.MarkLocked(time.Now(), time.Minute, "tok")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want %v", err, boom)
	}

	rec, _ := s.Read(ctx)
	if rec.IsLocked {
		t.Error("record was written despite callback error")
	}
}

func TestUpdate_SkipReturnsNil(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	writes := 0
	s.OnChange(func(c Change) {
		if c.Record != nil {
			writes++
		}
	})

	rec, err := s.Update(ctx, func(rec *LockRecord) error {
		rec.IsLocked = true
		return ErrSkip
	})
	if err != nil {
		t.Fatalf("Update() error = %v, want nil", err)
	}
	if rec.IsLocked {
		t.Error("skipped update returned the mutated record")
	}
	if writes != 0 {
		t.Errorf("OnChange fired %d times for a skipped update", writes)
	}
}

func TestUpdate_RejectsInconsistentRecord(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Update(context.Background(), func(rec *LockRecord) error {
		rec.DisablePending = true // no deadline, not locked
		return nil
	})
	if err == nil {
		t.Fatal("Update() accepted a record violating its invariants")
	}
}

func TestUpdate_SerializesWriters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const writers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		overlap bool
	)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, func(rec *LockRecord) error {
				mu.Lock()
				inside++
				if inside > 1 {
					overlap = true
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)
				if rec.IsLocked {
					rec.Clear()
				} else {
					rec.MarkLocked(time.Now(), time.Minute, "tok")
				}

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("Update() failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if overlap {
		t.Error("two Update callbacks ran concurrently")
	}

	// An even number of toggles ends unlocked
	rec, _ := s.Read(ctx)
	if rec.IsLocked {
		t.Errorf("after %d toggles record is locked", writers)
	}
}

func TestReset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Update(ctx, func(rec *LockRecord) error {
		rec.MarkLocked(time.Now(), time.Minute, "tok")
		return nil
	}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	rec, err := s.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	if rec.IsLocked || rec.DisablePending || rec.ArmToken != "" {
		t.Errorf("Reset() = %+v, want defaults", rec)
	}
}

func TestActions_AppendAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	kinds := []ActionKind{ActionLocked, ActionArmed, ActionFired}
	for _, k := range kinds {
		if err := s.AppendAction(ctx, Action{Kind: k, Source: "test"}); err != nil {
			t.Fatalf("AppendAction(%s) failed: %v", k, err)
		}
	}

	actions, err := s.RecentActions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentActions() failed: %v", err)
	}
	if len(actions) != 3 {
		t.Fatalf("got %d actions, want 3", len(actions))
	}
	if actions[0].Kind != ActionFired {
		t.Errorf("newest action = %s, want %s", actions[0].Kind, ActionFired)
	}

	n, err := s.CountActions(ctx, ActionFired)
	if err != nil {
		t.Fatalf("CountActions() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("CountActions(fired) = %d, want 1", n)
	}
}

func TestActions_Pruned(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < MaxActions+25; i++ {
		if err := s.AppendAction(ctx, Action{Kind: ActionReconciled, Source: "test"}); err != nil {
			t.Fatalf("AppendAction() failed: %v", err)
		}
	}

	n, err := s.CountActions(ctx, ActionReconciled)
	if err != nil {
		t.Fatalf("CountActions() failed: %v", err)
	}
	if n != MaxActions {
		t.Errorf("kept %d actions, want %d", n, MaxActions)
	}
}
