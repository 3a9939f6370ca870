// Package autosynctest provides in-memory fakes of the autosync platform
// interfaces for use in tests.
package autosynctest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mschirtzinger/autosync/internal/autosync"
)

// Clock is a manually advanced autosync.Clock. Timers fire synchronously on
// the goroutine that calls Advance.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *Clock
	deadline time.Time
	f        func()
	done     bool
}

// NewClock returns a Clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now implements autosync.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc implements autosync.Clock. A non-positive d fires on the next Advance.
func (c *Clock) AfterFunc(d time.Duration, f func()) autosync.Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{clock: c, deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Stop implements autosync.Stopper.
func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	return true
}

// Advance moves the clock forward by d and runs every timer that came due,
// earliest first.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)

	var due []*fakeTimer
	live := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.done:
		case !t.deadline.After(c.now):
			t.done = true
			due = append(due, t)
		default:
			live = append(live, t)
		}
	}
	c.timers = live
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, t := range due {
		t.f()
	}
}

// Set jumps the clock to now without firing timers. Used to model a process
// that was dead while time passed.
func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// Querier is a settable autosync.LockQuerier.
type Querier struct {
	mu     sync.Mutex
	locked bool
	err    error
	calls  int
}

// SetLocked sets the lock state the next query reports.
func (q *Querier) SetLocked(locked bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.locked = locked
}

// SetErr makes subsequent queries fail with err (nil clears it).
func (q *Querier) SetErr(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.err = err
}

// Calls returns how many times Locked was queried.
func (q *Querier) Calls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

// Locked implements autosync.LockQuerier.
func (q *Querier) Locked(context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if q.err != nil {
		return false, q.err
	}
	return q.locked, nil
}

// Applier is an in-memory autosync.SyncApplier that counts side effects.
type Applier struct {
	mu         sync.Mutex
	enabled    bool
	enables    int
	disables   int
	enableErr  error
	disableErr error

	block   chan struct{}
	blocked func()
}

// NewApplier returns an Applier with sync initially enabled.
func NewApplier() *Applier {
	return &Applier{enabled: true}
}

// SetEnabled overwrites the flag without counting a side effect, as a user would.
func (a *Applier) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// FailEnable makes Enable return err (nil clears it).
func (a *Applier) FailEnable(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enableErr = err
}

// FailDisable makes Disable return err (nil clears it).
func (a *Applier) FailDisable(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disableErr = err
}

// BlockDisable makes Disable wait until release is called. entered is closed
// once a Disable call is waiting.
func (a *Applier) BlockDisable() (entered <-chan struct{}, release func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	block := make(chan struct{})
	in := make(chan struct{})
	var enterOnce, releaseOnce sync.Once
	a.block = block
	a.blocked = func() { enterOnce.Do(func() { close(in) }) }
	return in, func() { releaseOnce.Do(func() { close(block) }) }
}

// Counts returns how many successful Enable and Disable calls were made.
func (a *Applier) Counts() (enables, disables int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enables, a.disables
}

// IsEnabled returns the current flag.
func (a *Applier) IsEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// Enabled implements autosync.SyncApplier.
func (a *Applier) Enabled(context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled, nil
}

// Enable implements autosync.SyncApplier.
func (a *Applier) Enable(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enableErr != nil {
		return a.enableErr
	}
	a.enables++
	a.enabled = true
	return nil
}

// Disable implements autosync.SyncApplier.
func (a *Applier) Disable(ctx context.Context) error {
	a.mu.Lock()
	block, blocked := a.block, a.blocked
	a.mu.Unlock()
	if block != nil {
		blocked()
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disableErr != nil {
		return a.disableErr
	}
	a.disables++
	a.enabled = false
	return nil
}

// Foreground records privileged-context transitions.
type Foreground struct {
	mu      sync.Mutex
	held    bool
	enters  int
	exits   int
	lastWhy string
	onEnter func()
}

// OnEnter runs fn once, after the next Enter takes the hold.
func (f *Foreground) OnEnter(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEnter = fn
}

// Enter implements autosync.Foreground.
func (f *Foreground) Enter(_ context.Context, reason string) error {
	f.mu.Lock()
	if !f.held {
		f.enters++
	}
	f.held = true
	f.lastWhy = reason
	hook := f.onEnter
	f.onEnter = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

// Exit implements autosync.Foreground.
func (f *Foreground) Exit() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		f.exits++
	}
	f.held = false
}

// Held reports whether the context is currently entered.
func (f *Foreground) Held() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}

// Counts returns the number of effective Enter and Exit calls.
func (f *Foreground) Counts() (enters, exits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enters, f.exits
}

// Permission is a settable autosync.PermissionProbe.
type Permission struct {
	mu     sync.Mutex
	denied bool
}

// Revoke makes Granted report false.
func (p *Permission) Revoke() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denied = true
}

// Restore makes Granted report true.
func (p *Permission) Restore() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denied = false
}

// Granted implements autosync.PermissionProbe.
func (p *Permission) Granted(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.denied
}

// Settings is a settable autosync.SettingsSource.
type Settings struct {
	mu sync.Mutex
	s  autosync.Settings
}

// NewSettings returns enabled settings with the given delay and the
// default re-enable policy.
func NewSettings(delay time.Duration) *Settings {
	return &Settings{s: autosync.Settings{Enabled: true, Delay: delay, Reenable: autosync.ReenableAlways}}
}

// Set replaces the settings.
func (s *Settings) Set(v autosync.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s = v
}

// Update applies fn to the settings.
func (s *Settings) Update(fn func(*autosync.Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.s)
}

// Settings implements autosync.SettingsSource.
func (s *Settings) Settings() autosync.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s
}
