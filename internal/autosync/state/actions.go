package state

import (
	"context"
	"fmt"
	"time"
)

// MaxActions is how many action rows are kept; older rows are pruned on insert.
const MaxActions = 500

// ActionKind names an edge or side effect recorded in the action log.
type ActionKind string

const (
	ActionLocked        ActionKind = "locked"
	ActionUnlocked      ActionKind = "unlocked"
	ActionArmed         ActionKind = "armed"
	ActionFired         ActionKind = "fired"
	ActionCancelled     ActionKind = "cancelled"
	ActionDisableFailed ActionKind = "disable_failed"
	ActionEnabled       ActionKind = "enabled"
	ActionEnableFailed  ActionKind = "enable_failed"
	ActionReconciled    ActionKind = "reconciled"
)

// Action is one row of the append-only action log.
type Action struct {
	ID     int64      `json:"id" yaml:"id"`
	At     time.Time  `json:"at" yaml:"at"`
	Kind   ActionKind `json:"kind" yaml:"kind"`
	Source string     `json:"source" yaml:"source"` // detector, timer, reconciler, cli
	Detail string     `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// AppendAction records an action. A zero At is stamped with the current time.
func (s *Store) AppendAction(ctx context.Context, a Action) error {
	if a.At.IsZero() {
		a.At = s.now()
	}

	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO actions (at, kind, source, detail) VALUES (?, ?, ?, ?)`,
		a.At.UTC().Format(time.RFC3339Nano), string(a.Kind), a.Source, a.Detail)
	if err != nil {
		return fmt.Errorf("failed to append action %s: %w", a.Kind, err)
	}

	if id, err := res.LastInsertId(); err == nil {
		a.ID = id
		if _, err := s.conn.ExecContext(ctx, `DELETE FROM actions WHERE id <= ?`, id-MaxActions); err != nil {
			return fmt.Errorf("failed to prune actions: %w", err)
		}
	}

	s.notify(Change{Action: &a})
	return nil
}

// RecentActions returns up to limit actions, newest first.
func (s *Store) RecentActions(ctx context.Context, limit int) ([]Action, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, at, kind, source, detail FROM actions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var (
			a    Action
			at   string
			kind string
		)
		if err := rows.Scan(&a.ID, &at, &kind, &a.Source, &a.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		a.Kind = ActionKind(kind)
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			a.At = t
		}
		actions = append(actions, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}
	return actions, nil
}

// CountActions returns how many logged actions have the given kind.
func (s *Store) CountActions(ctx context.Context, kind ActionKind) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM actions WHERE kind = ?`, string(kind)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s actions: %w", kind, err)
	}
	return count, nil
}
