// Package pidfile provides a single-instance guard for the chunkupload
// server daemon: an advisory-locked file holding the running process's
// PID, adapted from the teacher's sync-daemon PID file so only one
// `serve` process ever owns a given uploads directory at a time.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// filePermissions matches the standard config file permissions (owner rw,
// group/other r).
const filePermissions = 0o644

// dirPermissions matches the standard directory permissions (owner rwx,
// group/other rx).
const dirPermissions = 0o755

// Write writes the current process ID to path and acquires an exclusive
// flock. Returns a cleanup function that removes the file and releases the
// lock. If the lock cannot be acquired, another instance of the server is
// already running against this path.
func Write(path string) (cleanup func(), err error) {
	if path == "" {
		return nil, fmt.Errorf("pidfile: path is empty")
	}

	dir := filepath.Dir(path)
	if mkdirErr := os.MkdirAll(dir, dirPermissions); mkdirErr != nil {
		return nil, fmt.Errorf("pidfile: creating directory: %w", mkdirErr)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, filePermissions)
	if err != nil {
		return nil, fmt.Errorf("pidfile: opening: %w", err)
	}

	// Non-blocking exclusive lock — fails immediately if another process
	// holds it.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("pidfile: another chunkupload-server is already running (could not lock %s)", path)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, fmt.Errorf("pidfile: truncating: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()

		return nil, fmt.Errorf("pidfile: writing: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return nil, fmt.Errorf("pidfile: syncing: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

// Read reads the PID from the given file path. Returns 0 and an error if
// the file does not exist or contains invalid content.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("pidfile: reading %s: %w", path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pidfile: invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// Alive reports whether the process recorded in the PID file at path is
// still running, removing a stale PID file if not. The `serve` command
// does not call it; serve relies on Write's flock to refuse a second
// instance.
func Alive(path string) (bool, error) {
	pid, err := Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, fmt.Errorf("pidfile: finding process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(path)
		return false, nil
	}

	return true, nil
}
