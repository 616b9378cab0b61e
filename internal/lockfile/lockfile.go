// Package lockfile implements the single-instance run lock.
//
// The lock is a pid file: at most one active holder exists at a time, and
// acquiring the lock preempts any live prior holder by terminating its
// process before taking over. A crashed holder leaves a stale record that
// the next acquirer detects (liveness check) and clears.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrNotAcquired is returned when the lock could not be taken after the
// preemption protocol ran its retries.
var ErrNotAcquired = errors.New("could not acquire run lock")

const (
	acquireAttempts = 3
	termWait        = time.Second
	termPoll        = 50 * time.Millisecond
)

// Lock is an acquired run lock. Release it on clean exit; after a crash
// the stale record is cleaned up by the next acquirer.
type Lock struct {
	path string
	pid  int
}

// Acquire takes the run lock at path, terminating any live prior holder
// first. onPreempt runs after a prior holder was killed or a stale record
// was cleared, before the new record is written; callers use it to sweep
// partial-download artifacts the old owner may have left behind.
//
// Two processes racing through Acquire at the same instant resolve as
// last-writer-wins. That is acceptable for the single-user desktop case
// and is the documented limitation of this lock.
func Acquire(path string, onPreempt func()) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	self := os.Getpid()
	for attempt := 0; attempt < acquireAttempts; attempt++ {
		owner := readPid(path)
		if owner > 0 && owner != self {
			if alive(owner) {
				slog.Info("preempting prior instance", "pid", owner)
				terminate(owner)
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				slog.Warn("failed to remove stale lock", "path", path, "error", err)
			}
			if onPreempt != nil {
				onPreempt()
			}
		}

		if err := writePid(path, self); err != nil {
			slog.Warn("lock write failed", "attempt", attempt+1, "error", err)
			time.Sleep(termPoll)
			continue
		}
		// Verify the record survived any concurrent writer.
		if readPid(path) == self {
			return &Lock{path: path, pid: self}, nil
		}
		time.Sleep(termPoll)
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrNotAcquired, acquireAttempts)
}

// Release removes the lock record if this process still owns it.
func (l *Lock) Release() {
	if readPid(l.path) != l.pid {
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to release lock", "path", l.path, "error", err)
	}
}

func readPid(path string) int {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

func writePid(path string, pid int) error {
	// Write-then-rename so a reader never observes a half-written record.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// alive reports whether pid refers to a running process. EPERM means the
// process exists but belongs to someone else, which still counts as alive;
// ESRCH means the pid is free or was reused and already exited.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// terminate asks pid to exit, waits briefly, then force-kills it.
func terminate(pid int) {
	if pid <= 1 || pid == os.Getpid() {
		return
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return
	}
	deadline := time.Now().Add(termWait)
	for time.Now().Before(deadline) {
		if !alive(pid) {
			return
		}
		time.Sleep(termPoll)
	}
	if alive(pid) {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
}
