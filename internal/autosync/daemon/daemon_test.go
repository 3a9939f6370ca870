package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mschirtzinger/autosync/internal/autosync"
	"github.com/mschirtzinger/autosync/internal/autosync/autosynctest"
	"github.com/mschirtzinger/autosync/internal/autosync/detector"
	"github.com/mschirtzinger/autosync/internal/autosync/reconcile"
	"github.com/mschirtzinger/autosync/internal/autosync/state"
	"github.com/mschirtzinger/autosync/internal/autosync/timer"
)

type fixture struct {
	store   *state.Store
	querier *autosynctest.Querier
	applier *autosynctest.Applier
	deps    Deps
}

func setupFixture(t *testing.T, path string, delay time.Duration) *fixture {
	t.Helper()

	if path == "" {
		path = filepath.Join(t.TempDir(), "state.db")
	}
	store, err := state.Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store:   store,
		querier: &autosynctest.Querier{},
		applier: autosynctest.NewApplier(),
	}
	gate := autosync.Gate{Settings: autosynctest.NewSettings(delay), Permission: &autosynctest.Permission{}}
	silent := log.New(io.Discard, "", 0)

	tcfg := timer.DefaultConfig()
	tcfg.Logger = silent
	exec, err := timer.NewWithConfig(store, f.applier, nil, gate, tcfg)
	if err != nil {
		t.Fatalf("timer.NewWithConfig() failed: %v", err)
	}

	dcfg := detector.DefaultConfig()
	dcfg.Logger = silent
	det, err := detector.NewWithConfig(store, f.querier, exec, f.applier, gate, dcfg)
	if err != nil {
		t.Fatalf("detector.NewWithConfig() failed: %v", err)
	}

	rcfg := reconcile.DefaultConfig()
	rcfg.Logger = silent
	rec, err := reconcile.NewWithConfig(store, f.querier, exec, f.applier, gate, rcfg)
	if err != nil {
		t.Fatalf("reconcile.NewWithConfig() failed: %v", err)
	}

	f.deps = Deps{Detector: det, Timer: exec, Reconciler: rec}
	return f
}

func testConfig(sessionDir string) *Config {
	return &Config{
		SessionDir:     sessionDir,
		PollInterval:   0,
		MonitorSignals: false,
		Logger:         log.New(io.Discard, "", 0),
	}
}

// startDaemon runs d in the background and stops it at cleanup.
func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(context.Background()) }()
	t.Cleanup(func() {
		_ = d.Stop()
		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
			t.Error("Start() did not return after Stop()")
		}
	})
}

// eventually polls cond until it holds or a timeout passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewWithConfig_Validation(t *testing.T) {
	f := setupFixture(t, "", time.Minute)

	tests := []struct {
		name    string
		deps    Deps
		wantErr bool
	}{
		{"valid", f.deps, false},
		{"nil detector", Deps{Timer: f.deps.Timer, Reconciler: f.deps.Reconciler}, true},
		{"nil timer", Deps{Detector: f.deps.Detector, Reconciler: f.deps.Reconciler}, true},
		{"nil reconciler", Deps{Detector: f.deps.Detector, Timer: f.deps.Timer}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWithConfig(tt.deps, testConfig(""))
			if (err != nil) != tt.wantErr {
				t.Errorf("NewWithConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDaemon_SessionFileTriggersDetector(t *testing.T) {
	f := setupFixture(t, "", 5*time.Minute)
	sessions := t.TempDir()

	d, err := NewWithConfig(f.deps, testConfig(sessions))
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startDaemon(t, d)

	f.querier.SetLocked(true)

	// The watcher registers asynchronously; keep touching the file until
	// the edge lands
	file := filepath.Join(sessions, "3")
	eventually(t, "lock edge", func() bool {
		if err := os.WriteFile(file, []byte("LOCKED_HINT=1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		rec, err := f.store.Read(context.Background())
		return err == nil && rec.IsLocked && rec.DisablePending
	})
	if !f.deps.Timer.Armed() {
		t.Error("timer not armed after lock edge")
	}
}

func TestDaemon_TriggerUnlock(t *testing.T) {
	f := setupFixture(t, "", 5*time.Minute)

	d, err := NewWithConfig(f.deps, testConfig(""))
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startDaemon(t, d)

	f.querier.SetLocked(true)
	d.Trigger("test")
	eventually(t, "lock edge", func() bool {
		rec, _ := f.store.Read(context.Background())
		return rec.IsLocked
	})

	// Past the detector throttle window
	time.Sleep(1100 * time.Millisecond)
	f.querier.SetLocked(false)
	d.Trigger("test")
	eventually(t, "unlock edge", func() bool {
		rec, _ := f.store.Read(context.Background())
		return !rec.IsLocked
	})

	if _, disables := f.applier.Counts(); disables != 0 {
		t.Errorf("disables = %d, want 0", disables)
	}
}

// A deadline that passed while the daemon was down is acted on at startup.
func TestDaemon_StartupRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	f := setupFixture(t, path, time.Minute)

	past := time.Now().Add(-10 * time.Minute)
	if _, err := f.store.Update(context.Background(), func(rec *state.LockRecord) error {
		rec.MarkLocked(past, time.Minute, "tok")
		return nil
	}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	f.querier.SetLocked(true)

	d, err := NewWithConfig(f.deps, testConfig(""))
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startDaemon(t, d)

	eventually(t, "startup disable", func() bool {
		_, disables := f.applier.Counts()
		return disables == 1
	})

	rec, _ := f.store.Read(context.Background())
	if rec.DisablePending || !rec.DisabledByFeature {
		t.Errorf("record after recovery = %+v", rec)
	}

	// Resume and the startup pass must not both fire
	time.Sleep(100 * time.Millisecond)
	if _, disables := f.applier.Counts(); disables != 1 {
		t.Errorf("disables = %d, want exactly 1", disables)
	}
}

func TestDaemon_StopIsIdempotent(t *testing.T) {
	f := setupFixture(t, "", time.Minute)

	d, err := NewWithConfig(f.deps, testConfig(""))
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}

	if err := d.Stop(); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
}
