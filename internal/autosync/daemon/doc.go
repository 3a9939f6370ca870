// Package daemon runs the lock-triggered sync suspension pipeline.
//
// The daemon owns goroutine lifecycle for every autosync component and
// funnels all lock hints into one channel consumed by a single detector
// goroutine, the serialized decision point.
//
// # Architecture
//
// The daemon consists of several components:
//
//   - SessionWatcher: fsnotify on the logind session directory
//     (/run/systemd/sessions); logind rewrites a session file on every
//     state change, LockedHint included
//   - WatchSignals: dbus-monitor on the system bus, filtered to login1
//     Lock, Unlock and LockedHint property changes
//   - Poller: a ticker event (default 30s) so an edge is noticed even when
//     both other sources are unavailable
//   - Detector, Timer and Reconciler from the sibling packages
//
// Every source is best effort. Events carry no lock state; the detector
// queries logind for the truth on each one, so a lost, duplicated or
// reordered event costs nothing.
//
// # Startup Recovery
//
// Start re-arms a pending countdown from the persisted deadline, then runs
// one reconciliation pass before any source starts. A process killed in the
// middle of a delay therefore fires at the original deadline, and a deadline
// that passed while the daemon was down is acted on immediately.
//
//	d, err := daemon.NewWithConfig(daemon.Deps{
//	    Detector:   det,
//	    Timer:      exec,
//	    Reconciler: rec,
//	}, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := d.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Signal Parsing
//
// ParseMonitorLine is pure and classifies one line of dbus-monitor output:
//
//	sig, ok := daemon.ParseMonitorLine(line)
//	if ok {
//	    log.Printf("logind: %s", sig)
//	}
//
// The monitor is restarted after it exits. A missing dbus-monitor binary is
// logged once and the daemon continues on file events and polling.
//
// # Shutdown
//
// Stop cancels every goroutine, closes the watcher, waits, and cancels the
// in-flight countdown. The lock record is kept, so the next Start resumes.
package daemon
