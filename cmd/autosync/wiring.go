package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mschirtzinger/autosync/internal/autosync"
	"github.com/mschirtzinger/autosync/internal/autosync/detector"
	"github.com/mschirtzinger/autosync/internal/autosync/platform"
	"github.com/mschirtzinger/autosync/internal/autosync/reconcile"
	"github.com/mschirtzinger/autosync/internal/autosync/state"
	"github.com/mschirtzinger/autosync/internal/autosync/syncflag"
	"github.com/mschirtzinger/autosync/internal/autosync/timer"
	"github.com/mschirtzinger/autosync/internal/config"
)

// app is every component built from one configuration.
type app struct {
	manager *config.Manager
	cfg     *config.Config
	logs    *logSink

	store      *state.Store
	logind     *platform.Logind
	applier    autosync.SyncApplier
	gate       autosync.Gate
	timer      *timer.Executor
	detector   *detector.Detector
	reconciler *reconcile.Reconciler
}

// loadConfig loads the configuration named by --config.
func loadConfig() (*config.Manager, *config.Config, error) {
	manager := config.NewManager(configPath, cliLogSink().logger("config"))
	cfg, err := manager.Load()
	if err != nil {
		return nil, nil, err
	}
	return manager, cfg, nil
}

// newApp loads the config once, opens the store and wires the pipeline.
// logs receives every component logger and is owned by the app from here on;
// the caller must Close the app.
func newApp(logs *logSink) (*app, error) {
	manager := config.NewManager(configPath, logs.logger("config"))
	cfg, err := manager.Load()
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	logs.openFile(cfg.Log)

	store, err := state.Open(cfg.State.Path)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	a := &app{manager: manager, cfg: cfg, logs: logs, store: store}
	if err := a.wire(); err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

// withApp runs fn against a freshly wired app. The app is closed before an
// error is reported, since fatalf exits without running deferred calls.
func withApp(logs *logSink, fn func(a *app) error) {
	a, err := newApp(logs)
	if err != nil {
		fatalf("%v", err)
	}
	err = fn(a)
	a.Close()
	if err != nil {
		fatalf("%v", err)
	}
}

func (a *app) wire() error {
	cfg := a.cfg

	a.logind = platform.NewLogind(&platform.LogindConfig{
		SessionID:  cfg.Session.ID,
		SessionDir: cfg.Session.Dir,
		Timeout:    cfg.Sync.Timeout,
	})

	applier, err := newApplier(cfg.Sync)
	if err != nil {
		return err
	}
	a.applier = applier

	a.gate = autosync.Gate{Settings: a.manager, Permission: a.logind}

	var fg autosync.Foreground
	if cfg.Session.Inhibit {
		ic := platform.DefaultInhibitorConfig()
		ic.Logger = a.logs.logger("inhibit")
		fg = platform.NewInhibitor(ic)
	}

	tc := timer.DefaultConfig()
	tc.Tolerance = cfg.Reconcile.Tolerance
	tc.Logger = a.logs.logger("timer")
	a.timer, err = timer.NewWithConfig(a.store, a.applier, fg, a.gate, tc)
	if err != nil {
		return err
	}

	dc := detector.DefaultConfig()
	dc.Throttle = cfg.Detector.Throttle
	dc.Logger = a.logs.logger("detector")
	a.detector, err = detector.NewWithConfig(a.store, a.logind, a.timer, a.applier, a.gate, dc)
	if err != nil {
		return err
	}

	rc := reconcile.DefaultConfig()
	rc.Interval = cfg.Reconcile.Interval
	rc.Tolerance = cfg.Reconcile.Tolerance
	rc.IdleRetry = cfg.Reconcile.IdleRetry
	rc.IdleProbe = a.logind
	rc.Logger = a.logs.logger("reconcile")
	a.reconciler, err = reconcile.NewWithConfig(a.store, a.logind, a.timer, a.applier, a.gate, rc)
	return err
}

func newApplier(cfg config.SyncConfig) (autosync.SyncApplier, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return syncflag.NewFileApplier(cfg.FlagPath)
	case config.BackendCommand:
		cc := syncflag.DefaultCommandConfig()
		cc.StatusCmd = cfg.StatusCmd
		cc.EnableCmd = cfg.EnableCmd
		cc.DisableCmd = cfg.DisableCmd
		cc.Timeout = cfg.Timeout
		return syncflag.NewCommandApplier(cc)
	default:
		return nil, fmt.Errorf("unknown sync backend %q", cfg.Backend)
	}
}

// waitForCountdown blocks while this process holds an armed countdown, so a
// one-shot command that armed the exact timer carries it to the deadline.
func (a *app) waitForCountdown(ctx context.Context) {
	if !a.timer.Armed() {
		return
	}

	rec, err := a.store.Read(ctx)
	if err == nil && rec.ScheduledDisableTime != nil {
		fmt.Printf("Countdown armed, sync turns off at %s (Ctrl+C to leave it to the daemon)\n",
			rec.ScheduledDisableTime.Local().Format("15:04:05"))
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for a.timer.Armed() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *app) Close() {
	a.timer.Cancel()
	_ = a.store.Close()
	_ = a.logs.Close()
}
