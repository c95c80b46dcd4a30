//go:build unix && !linux

package pidfile

import "golang.org/x/sys/unix"

// Classic POSIX record locks. They belong to the process, so a second
// descriptor in the same process does not conflict with the first.
const (
	setLockCmd = unix.F_SETLK
	getLockCmd = unix.F_GETLK
)
