//go:build unix

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Detach re-executes the current binary with args as a daemon: a new
// session, umask 0 and stdio on /dev/null. It returns the child's PID
// without waiting for it.
func Detach(args []string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to get executable path: %w", err)
	}

	cmd := exec.Command(executable, args...) //nolint:gosec // executable from os.Executable()

	// nil stdio is connected to the null device
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	// The child inherits the umask in effect at fork
	old := unix.Umask(0)
	err = cmd.Start()
	unix.Umask(old)
	if err != nil {
		return 0, fmt.Errorf("failed to start daemon process: %w", err)
	}

	pid := cmd.Process.Pid
	// Do not Wait: the parent exits and init adopts the child.
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("failed to release daemon process: %w", err)
	}
	return pid, nil
}
