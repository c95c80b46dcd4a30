package daemon

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/leonletto/webdemos/internal/pidfile"
)

// Status describes a daemon as seen through its PID file.
type Status struct {
	Running bool
	PID     int
	PIDFile string
}

// String renders the status the way the status command prints it.
func (s Status) String() string {
	if s.Running {
		return fmt.Sprintf("running (PID %d, %s)", s.PID, s.PIDFile)
	}
	if s.PID > 0 {
		return fmt.Sprintf("not running (stale PID %d in %s)", s.PID, s.PIDFile)
	}
	return "not running"
}

// GetStatus reports whether the PID file at path is held.
func GetStatus(path string) (Status, error) {
	running, pid, err := pidfile.Check(path)
	if err != nil {
		return Status{PIDFile: path}, fmt.Errorf("failed to check daemon status: %w", err)
	}
	return Status{Running: running, PID: pid, PIDFile: path}, nil
}

// Stop sends SIGTERM to the daemon holding path and waits until it has
// released the lock.
func Stop(path string, timeout time.Duration) error {
	st, err := GetStatus(path)
	if err != nil {
		return err
	}
	if !st.Running {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(st.PID)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", st.PID, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM to process %d: %w", st.PID, err)
	}

	if !WaitFor(path, false, timeout) {
		return fmt.Errorf("timeout waiting for daemon to stop (PID %d still running)", st.PID)
	}
	return nil
}

// WaitFor polls the PID file lock until it matches running or timeout
// elapses. It reports whether the state was reached.
func WaitFor(path string, running bool, timeout time.Duration) bool {
	deadline := time.After(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if pidfile.IsLocked(path) == running {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-ticker.C:
		}
	}
}
