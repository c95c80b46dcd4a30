//go:build unix

package pidfile

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Create opens (creating if needed) the file at path, optionally marks it
// close-on-exec, takes a non-blocking exclusive lock over the whole file and
// replaces its content with the current PID followed by a newline.
//
// progName is only used in diagnostics. On success the caller owns the
// returned File; the lock is dropped by Close or when the process exits,
// including on SIGKILL. Every failure is reported as an *Error; lock
// contention additionally matches ErrAlreadyRunning.
func Create(progName, path string, flags Flag) (*File, error) {
	// unix.Open rather than os.OpenFile: the latter always sets O_CLOEXEC,
	// which would make the CloseOnExec flag meaningless.
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0600)
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Prog: progName, Err: err}
	}
	file := os.NewFile(uintptr(fd), path)

	fail := func(op string, err error) (*File, error) {
		_ = file.Close()
		return nil, &Error{Op: op, Path: path, Prog: progName, Err: err}
	}

	if flags&CloseOnExec != 0 {
		// Fetch, modify, store. O_CLOEXEC at open time is not available
		// everywhere we build.
		fdFlags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
		if err != nil {
			return fail("getfd", err)
		}
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, fdFlags|unix.FD_CLOEXEC); err != nil {
			return fail("setfd", err)
		}
	}

	if err := LockRegion(uintptr(fd), Exclusive, io.SeekStart, 0, 0); err != nil {
		return fail("lock", err)
	}

	if err := unix.Ftruncate(fd, 0); err != nil {
		return fail("truncate", err)
	}

	buf := formatPID(os.Getpid())
	n, err := unix.Pwrite(fd, buf, 0)
	if err != nil {
		return fail("write", err)
	}
	if n != len(buf) {
		return fail("write", io.ErrShortWrite)
	}

	return &File{path: path, file: file}, nil
}

// LockRegion requests a non-blocking advisory lock on a region of the file
// behind fd. A length of 0 extends the region to end of file, wherever that
// is at the time. If the region is incompatibly locked by someone else the
// call fails immediately with an error matching ErrAlreadyRunning.
func LockRegion(fd uintptr, typ LockType, whence int, start, length int64) error {
	lk := unix.Flock_t{
		Type:   lockType(typ),
		Whence: int16(whence),
		Start:  start,
		Len:    length,
	}
	if err := unix.FcntlFlock(fd, setLockCmd, &lk); err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EACCES) {
			return errors.Join(ErrAlreadyRunning, err)
		}
		return err
	}
	return nil
}

// IsLocked reports whether some other open file description holds a write
// lock on the file at path. It never takes the lock itself.
func IsLocked(path string) bool {
	f, err := os.OpenFile(path, os.O_RDWR, 0) //nolint:gosec // G304 - path from runtime dir
	if err != nil {
		// Missing or unreadable - nobody we can see holds it
		return false
	}
	defer func() { _ = f.Close() }()

	lk := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: int16(io.SeekStart),
	}
	if err := unix.FcntlFlock(f.Fd(), getLockCmd, &lk); err != nil {
		return false
	}
	return lk.Type != unix.F_UNLCK
}

func lockType(t LockType) int16 {
	switch t {
	case Shared:
		return unix.F_RDLCK
	case Unlock:
		return unix.F_UNLCK
	default:
		return unix.F_WRLCK
	}
}
