//go:build !unix

package pidfile

// Create is not supported on non-unix platforms.
func Create(progName, path string, flags Flag) (*File, error) {
	return nil, &Error{Op: "lock", Path: path, Prog: progName, Err: ErrUnsupported}
}

// LockRegion is not supported on non-unix platforms.
func LockRegion(fd uintptr, typ LockType, whence int, start, length int64) error {
	return ErrUnsupported
}

// IsLocked always returns false on non-unix platforms.
func IsLocked(path string) bool {
	return false
}
