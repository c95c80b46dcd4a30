//go:build linux

package pidfile

import "golang.org/x/sys/unix"

// Open file description locks conflict between two descriptors of the same
// process as well, and are still released when the last descriptor closes.
const (
	setLockCmd = unix.F_OFD_SETLK
	getLockCmd = unix.F_OFD_GETLK
)
