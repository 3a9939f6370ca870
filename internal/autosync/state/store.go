package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrSkip may be returned from an Update callback to leave the record
// untouched without reporting an error.
var ErrSkip = errors.New("skip update")

// Store is the single-writer home of the LockRecord, backed by embedded SQLite
// in WAL mode so a record survives process death between any two writes.
type Store struct {
	conn *sql.DB
	path string

	// writeMu serializes read-modify-write cycles across goroutines.
	writeMu sync.Mutex

	hooksMu sync.RWMutex
	hooks   []func(Change)

	now func() time.Time
}

// Change describes a committed record write or an appended action.
// Exactly one of Record or Action is set.
type Change struct {
	Record *LockRecord
	Action *Action
}

// Open creates or opens the state database at path and ensures the schema
// and the singleton record row exist.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	store, err := state.Open("~/.local/state/autosync/state.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		dsn = "file:" + path
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping state database: %w", err)
	}

	// One connection: SQLite has one writer and :memory: is per-connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	s := &Store{conn: conn, path: path, now: time.Now}

	if err := s.applyPragmas(); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.InitSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) applyPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := s.conn.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// InitSchema creates the tables and the singleton row. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS lock_record (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		is_locked INTEGER NOT NULL DEFAULT 0,
		lock_timestamp TEXT,
		scheduled_disable_time TEXT,
		disable_pending INTEGER NOT NULL DEFAULT 0,
		arm_token TEXT NOT NULL DEFAULT '',
		disabled_by_feature INTEGER NOT NULL DEFAULT 0,
		reenable_pending INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT
	);

	INSERT OR IGNORE INTO lock_record (id) VALUES (1);

	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at TEXT NOT NULL,
		kind TEXT NOT NULL,
		source TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_actions_kind ON actions(kind);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close state database: %w", err)
	}
	s.conn = nil
	return nil
}

// Path returns the database location the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// SetNow replaces the time source used for UpdatedAt and action stamps.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}

// OnChange registers fn to be called after every committed record write and
// every appended action. fn runs on the writer's goroutine and must not call
// back into the store.
func (s *Store) OnChange(fn func(Change)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *Store) notify(c Change) {
	s.hooksMu.RLock()
	hooks := make([]func(Change), len(s.hooks))
	copy(hooks, s.hooks)
	s.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(c)
	}
}

// Read returns the current record.
func (s *Store) Read(ctx context.Context) (LockRecord, error) {
	return readRecord(ctx, s.conn)
}

// Update performs an atomic read-modify-write of the record.
//
// fn receives the current record and may mutate it. It may also perform the
// side effect the decision requires; the store stays locked until fn
// returns, which orders it strictly before or after any other decision.
// If fn returns ErrSkip nothing is written and Update returns the unchanged
// record with a nil error. Any other error aborts the write and is returned.
//
// fn must not call back into the store.
func (s *Store) Update(ctx context.Context, fn func(*LockRecord) error) (LockRecord, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return LockRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := readRecord(ctx, tx)
	if err != nil {
		return LockRecord{}, err
	}
	before := rec

	if err := fn(&rec); err != nil {
		if errors.Is(err, ErrSkip) {
			return before, nil
		}
		return before, err
	}

	if err := rec.Validate(); err != nil {
		return before, fmt.Errorf("refusing to write inconsistent record: %w", err)
	}

	rec.UpdatedAt = s.now().UTC()
	if err := writeRecord(ctx, tx, rec); err != nil {
		return before, err
	}

	if err := tx.Commit(); err != nil {
		return before, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.notify(Change{Record: &rec})
	return rec, nil
}

// Reset restores the unlocked defaults. It does not touch the sync flag.
func (s *Store) Reset(ctx context.Context) (LockRecord, error) {
	return s.Update(ctx, func(rec *LockRecord) error {
		rec.Clear()
		return nil
	})
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func readRecord(ctx context.Context, q queryer) (LockRecord, error) {
	var (
		rec                          LockRecord
		lockedAt, deadline, updated  sql.NullString
		locked, pending, owned, owed int
	)

	err := q.QueryRowContext(ctx, `
	SELECT is_locked, lock_timestamp, scheduled_disable_time, disable_pending,
	       arm_token, disabled_by_feature, reenable_pending, updated_at
	FROM lock_record WHERE id = 1`).Scan(
		&locked, &lockedAt, &deadline, &pending,
		&rec.ArmToken, &owned, &owed, &updated,
	)
	if err != nil {
		return LockRecord{}, fmt.Errorf("failed to read lock record: %w", err)
	}

	rec.IsLocked = locked != 0
	rec.DisablePending = pending != 0
	rec.DisabledByFeature = owned != 0
	rec.ReenablePending = owed != 0
	rec.LockTimestamp = nullStringToTime(lockedAt)
	rec.ScheduledDisableTime = nullStringToTime(deadline)
	if t := nullStringToTime(updated); t != nil {
		rec.UpdatedAt = *t
	}

	return rec, nil
}

func writeRecord(ctx context.Context, e execer, rec LockRecord) error {
	_, err := e.ExecContext(ctx, `
	UPDATE lock_record SET
		is_locked = ?,
		lock_timestamp = ?,
		scheduled_disable_time = ?,
		disable_pending = ?,
		arm_token = ?,
		disabled_by_feature = ?,
		reenable_pending = ?,
		updated_at = ?
	WHERE id = 1`,
		boolToInt(rec.IsLocked),
		timeToNullString(rec.LockTimestamp),
		timeToNullString(rec.ScheduledDisableTime),
		boolToInt(rec.DisablePending),
		rec.ArmToken,
		boolToInt(rec.DisabledByFeature),
		boolToInt(rec.ReenablePending),
		rec.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to write lock record: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
