package autosync

import "errors"

// Common errors returned by autosync components.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, autosync.ErrPermissionDenied) {
//	    // feature behaves as disabled until permission returns
//	}
var (
	// ErrPermissionDenied is returned when the OS refuses to read the lock
	// state or to change the sync flag.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUnavailable is returned when a required OS facility (loginctl,
	// systemd-inhibit, the sync command) is missing or not responding.
	ErrUnavailable = errors.New("facility unavailable")

	// ErrInvalidDelay is returned for a delay outside AllowedDelayMinutes.
	ErrInvalidDelay = errors.New("invalid delay")

	// ErrNotPending is returned when arming a record that has no pending
	// disable action.
	ErrNotPending = errors.New("no disable action pending")
)

// IsPermission returns true if err is a permission failure.
func IsPermission(err error) bool {
	return err != nil && errors.Is(err, ErrPermissionDenied)
}

// IsRetryable returns true if the error is likely to succeed on a later
// reconciliation pass. Nothing retries immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Permission can be re-granted
	if errors.Is(err, ErrPermissionDenied) {
		return true
	}

	// Binaries come back after package upgrades, services after restarts
	if errors.Is(err, ErrUnavailable) {
		return true
	}

	return false
}
