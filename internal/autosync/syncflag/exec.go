package syncflag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mschirtzinger/autosync/internal/autosync"
)

// ===================
// Command Execution
// ===================

// Runner executes a shell command line and returns its stdout. The error, if
// any, carries stderr and is classified by Classify.
type Runner func(ctx context.Context, commandLine string) ([]byte, error)

// ShellRunner returns a Runner that executes command lines with shell -c,
// bounded by timeout.
//
// Example:
//
//	run := ShellRunner("/bin/sh", 10*time.Second)
//	out, err := run(ctx, "systemctl --user is-active syncthing")
func ShellRunner(shell string, timeout time.Duration) Runner {
	if shell == "" {
		shell = "/bin/sh"
	}
	return func(ctx context.Context, commandLine string) ([]byte, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, shell, "-c", commandLine)
		// Children of the shell may hold the output pipes after it is killed
		cmd.WaitDelay = time.Second

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %q timed out: %v", autosync.ErrUnavailable, commandLine, ctx.Err())
			}
			return stdout.Bytes(), Classify(&CommandError{
				Command: commandLine,
				Stderr:  strings.TrimSpace(stderr.String()),
				Err:     err,
			})
		}

		return stdout.Bytes(), nil
	}
}

// CommandError is a failed command with its captured stderr.
type CommandError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%q: %v: %s", e.Command, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%q: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExitCode returns the process exit code, or -1 if the process did not exit.
func (e *CommandError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

var permissionPhrases = []string{
	"permission denied",
	"access denied",
	"not authorized",
	"interactive authentication required",
	"operation not permitted",
}

// Classify maps an OS failure to autosync.ErrPermissionDenied or
// autosync.ErrUnavailable, wrapping the original error. Other errors are
// returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, autosync.ErrPermissionDenied) || errors.Is(err, autosync.ErrUnavailable) {
		return err
	}

	if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
		return fmt.Errorf("%w: %w", autosync.ErrPermissionDenied, err)
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("%w: %w", autosync.ErrUnavailable, err)
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.ExitCode() {
		case 126:
			return fmt.Errorf("%w: %w", autosync.ErrPermissionDenied, err)
		case 127:
			return fmt.Errorf("%w: %w", autosync.ErrUnavailable, err)
		}

		lower := strings.ToLower(cmdErr.Stderr)
		for _, phrase := range permissionPhrases {
			if strings.Contains(lower, phrase) {
				return fmt.Errorf("%w: %w", autosync.ErrPermissionDenied, err)
			}
		}
	}

	return err
}
