package daemon

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a session file was created or renamed into place.
	OpCreate EventOp = iota
	// OpModify indicates an existing session file was rewritten.
	OpModify
	// OpDelete indicates a session file was removed.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// SessionEvent is a change to a logind session state file.
type SessionEvent struct {
	// Path is the session file that changed.
	Path string
	// Session is the session id (the file name).
	Session string
	// Op is the operation that occurred.
	Op EventOp
}

// SessionWatcher watches the logind session directory. logind rewrites a
// session's state file, LockedHint included, whenever the session changes, so
// every write is a hint that the lock state may have moved.
type SessionWatcher struct {
	watcher *fsnotify.Watcher
	events  chan SessionEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
	session string
}

// NewSessionWatcher creates a watcher. An empty session or "auto" reports
// changes to every session file; otherwise only the named session's.
// The watcher must be started with Start() before it will emit events.
func NewSessionWatcher(session string) (*SessionWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if session == "auto" {
		session = ""
	}

	return &SessionWatcher{
		watcher: watcher,
		events:  make(chan SessionEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		session: session,
	}, nil
}

// Start begins watching dir.
func (sw *SessionWatcher) Start(dir string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.running {
		return fmt.Errorf("watcher already running")
	}

	if err := sw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch session directory %s: %w", dir, err)
	}
	sw.dir = dir

	sw.running = true
	sw.wg.Add(1)
	go sw.processEvents()

	return nil
}

// Stop stops watching and closes the Events and Errors channels. It blocks
// until the event goroutine has exited. A watcher that was never started is
// closed as well.
func (sw *SessionWatcher) Stop() error {
	sw.mu.Lock()
	if !sw.running {
		sw.mu.Unlock()
		return sw.watcher.Close()
	}
	sw.running = false
	sw.mu.Unlock()

	close(sw.done)

	if err := sw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	sw.wg.Wait()

	close(sw.events)
	close(sw.errors)

	return nil
}

// Events returns the channel of session file changes.
func (sw *SessionWatcher) Events() <-chan SessionEvent {
	return sw.events
}

// Errors returns the channel of watcher errors.
func (sw *SessionWatcher) Errors() <-chan error {
	return sw.errors
}

// IsRunning returns true if the watcher is currently running.
func (sw *SessionWatcher) IsRunning() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.running
}

func (sw *SessionWatcher) processEvents() {
	defer sw.wg.Done()

	for {
		select {
		case <-sw.done:
			return

		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}

			if sessionEvent, ok := sw.convertEvent(event); ok {
				select {
				case sw.events <- sessionEvent:
				case <-sw.done:
					return
				}
			}

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case sw.errors <- err:
			case <-sw.done:
				return
			}
		}
	}
}

// convertEvent converts an fsnotify event to a SessionEvent, dropping temp
// files and other sessions.
func (sw *SessionWatcher) convertEvent(event fsnotify.Event) (SessionEvent, bool) {
	name := filepath.Base(event.Name)

	// logind writes through ".#<id>XXXXXX" temp files and renames them
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
		return SessionEvent{}, false
	}
	if sw.session != "" && name != sw.session {
		return SessionEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return SessionEvent{}, false
	}

	return SessionEvent{
		Path:    event.Name,
		Session: name,
		Op:      op,
	}, true
}
