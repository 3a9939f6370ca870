package syncflag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileApplier keeps the sync flag in a file. A missing file means enabled.
type FileApplier struct {
	path string
}

// NewFileApplier creates a file backend at path.
func NewFileApplier(path string) (*FileApplier, error) {
	if path == "" {
		return nil, fmt.Errorf("flag path cannot be empty")
	}
	return &FileApplier{path: path}, nil
}

// Path returns the flag file location.
func (a *FileApplier) Path() string {
	return a.path
}

// Enabled implements autosync.SyncApplier.
func (a *FileApplier) Enabled(ctx context.Context) (bool, error) {
	data, err := os.ReadFile(a.path)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read sync flag: %w", Classify(err))
	}

	switch string(bytes.TrimSpace(data)) {
	case "1", "true", "on":
		return true, nil
	case "0", "false", "off":
		return false, nil
	default:
		return false, fmt.Errorf("sync flag %s holds %q, want 1 or 0", a.path, bytes.TrimSpace(data))
	}
}

// Enable implements autosync.SyncApplier.
func (a *FileApplier) Enable(ctx context.Context) error {
	return a.write([]byte("1\n"))
}

// Disable implements autosync.SyncApplier.
func (a *FileApplier) Disable(ctx context.Context) error {
	return a.write([]byte("0\n"))
}

// write replaces the flag atomically: temp file, fsync, rename, dir fsync.
func (a *FileApplier) write(data []byte) error {
	dir := filepath.Dir(a.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create flag directory: %w", Classify(err))
	}

	tmp, err := os.CreateTemp(dir, ".syncflag-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp flag: %w", Classify(err))
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp flag: %w", Classify(err))
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp flag: %w", Classify(err))
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp flag: %w", Classify(err))
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("failed to chmod temp flag: %w", Classify(err))
	}
	if err := os.Rename(tmpPath, a.path); err != nil {
		return fmt.Errorf("failed to replace sync flag: %w", Classify(err))
	}
	committed = true

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
