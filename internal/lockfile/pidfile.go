package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Pid-file bookkeeping shared with the background helper, which guards
// itself with a plain pid record instead of the preempting run lock.

// PidAlive reports whether pid refers to a running process.
func PidAlive(pid int) bool {
	return alive(pid)
}

// ReadPidFile returns the pid recorded at path, or 0 when the file is
// missing or malformed.
func ReadPidFile(path string) int {
	return readPid(path)
}

// WritePidFile records pid at path via an atomic rename.
func WritePidFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	return writePid(path, pid)
}

// RemovePidFile deletes the record at path if it still names pid.
func RemovePidFile(path string, pid int) {
	if readPid(path) != pid {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return
	}
}
