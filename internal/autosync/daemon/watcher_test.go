package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestNewSessionWatcher verifies that creating a new watcher succeeds.
func TestNewSessionWatcher(t *testing.T) {
	sw, err := NewSessionWatcher("")
	if err != nil {
		t.Fatalf("NewSessionWatcher() failed: %v", err)
	}
	defer sw.Stop()

	if sw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}
}

// TestSessionWatcher_StartStop verifies that the watcher can start and stop cleanly.
func TestSessionWatcher_StartStop(t *testing.T) {
	sw, err := NewSessionWatcher("")
	if err != nil {
		t.Fatalf("NewSessionWatcher() failed: %v", err)
	}

	if err := sw.Start(t.TempDir()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !sw.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}

	if err := sw.Start(t.TempDir()); err == nil {
		t.Error("Start() on a running watcher should fail")
	}

	if err := sw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if sw.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}

	// Channels are closed after Stop
	if _, ok := <-sw.Events(); ok {
		t.Error("Events channel should be closed")
	}
}

func TestSessionWatcher_MissingDirectory(t *testing.T) {
	sw, err := NewSessionWatcher("")
	if err != nil {
		t.Fatalf("NewSessionWatcher() failed: %v", err)
	}
	defer sw.Stop()

	if err := sw.Start(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Start() on a missing directory should fail")
	}
}

// waitForEvent returns the next event or fails after a timeout.
func waitForEvent(t *testing.T, sw *SessionWatcher) SessionEvent {
	t.Helper()

	select {
	case ev := <-sw.Events():
		return ev
	case err := <-sw.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return SessionEvent{}
}

func TestSessionWatcher_FiltersSession(t *testing.T) {
	dir := t.TempDir()

	sw, err := NewSessionWatcher("c2")
	if err != nil {
		t.Fatalf("NewSessionWatcher() failed: %v", err)
	}
	defer sw.Stop()
	if err := sw.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	// Temp files and other sessions are ignored
	for _, name := range []string{".#c2abc123", "c7"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("LOCKED_HINT=1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "c2"), []byte("LOCKED_HINT=1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ev := waitForEvent(t, sw)
	if ev.Session != "c2" {
		t.Errorf("event for session %q, want c2", ev.Session)
	}
	if ev.Op != OpCreate && ev.Op != OpModify {
		t.Errorf("event op = %s, want create or modify", ev.Op)
	}
}

func TestSessionWatcher_AutoWatchesAll(t *testing.T) {
	dir := t.TempDir()

	sw, err := NewSessionWatcher("auto")
	if err != nil {
		t.Fatalf("NewSessionWatcher() failed: %v", err)
	}
	defer sw.Stop()
	if err := sw.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	path := filepath.Join(dir, "4")
	if err := os.WriteFile(path, []byte("ACTIVE=1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if ev := waitForEvent(t, sw); ev.Session != "4" {
		t.Errorf("event for session %q, want 4", ev.Session)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	for {
		ev := waitForEvent(t, sw)
		if ev.Op == OpDelete {
			break
		}
	}
}
