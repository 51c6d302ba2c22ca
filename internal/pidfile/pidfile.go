// Package pidfile writes and clears the PID file: one decimal followed by
// newline, truncated (not necessarily removed) on exit. Daemonization
// itself (fork/setsid) is out of scope, so Write always records the
// current process's own PID.
package pidfile

import (
	"fmt"
	"os"
)

// Write truncates path and writes the current process PID to it. A blank
// path is a no-op.
func Write(path string) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("pidfile: write %s: %w", path, err)
	}
	return nil
}

// Clear truncates (not removes) path on exit.
func Clear(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("pidfile: truncate %s: %w", path, err)
	}
	return f.Close()
}
