// Package pidfile implements a single-instance guard: an exclusive advisory
// lock on a well-known file that also records the PID of the holder.
//
// The lock, not the presence of the file, decides exclusivity. A file left
// behind by a crashed process is harmless: the kernel dropped its lock when
// the process died, so the next Create succeeds and overwrites the content.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ExitCode is the process exit status used when the guard cannot be taken.
// It is the unsigned byte value of -100.
const ExitCode = 156

// DefaultRunDir is the conventional runtime directory for PID files.
const DefaultRunDir = "/var/run"

// Flag modifies how Create prepares the descriptor.
type Flag int

const (
	// CloseOnExec marks the descriptor FD_CLOEXEC so it is not inherited
	// by programs started with exec.
	CloseOnExec Flag = 1 << iota
)

// LockType selects the kind of region lock requested by LockRegion.
type LockType int

const (
	Shared LockType = iota
	Exclusive
	Unlock
)

func (t LockType) String() string {
	switch t {
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	case Unlock:
		return "unlock"
	default:
		return "LockType(" + strconv.Itoa(int(t)) + ")"
	}
}

var (
	// ErrAlreadyRunning reports that another process holds the lock.
	ErrAlreadyRunning = errors.New("already running")

	// ErrUnsupported is returned on platforms without fcntl region locks.
	ErrUnsupported = errors.New("pid file locking not supported on this platform")
)

// Error describes a failed step of Create.
type Error struct {
	Op   string // open, getfd, setfd, lock, truncate, write
	Path string
	Prog string
	Err  error
}

func (e *Error) Error() string {
	switch e.Op {
	case "open":
		return fmt.Sprintf("could not open PID file %s: %v", e.Path, e.Err)
	case "getfd":
		return fmt.Sprintf("could not get flags for PID file %s: %v", e.Path, e.Err)
	case "setfd":
		return fmt.Sprintf("could not set flags for PID file %s: %v", e.Path, e.Err)
	case "lock":
		if errors.Is(e.Err, ErrAlreadyRunning) {
			return fmt.Sprintf("PID file '%s' is locked; probably '%s' is already running", e.Path, e.Prog)
		}
		return fmt.Sprintf("unable to lock PID file '%s': %v", e.Path, e.Err)
	case "truncate":
		return fmt.Sprintf("could not truncate PID file '%s': %v", e.Path, e.Err)
	case "write":
		return fmt.Sprintf("writing to PID file '%s': %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("PID file %s: %s: %v", e.Path, e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// File is a locked PID file. The lock lives as long as the descriptor.
type File struct {
	path string
	file *os.File
}

// Path returns the conventional PID file location for a program:
// runDir joined with the program's base name and a ".pid" suffix.
func Path(runDir, progName string) string {
	if runDir == "" {
		runDir = DefaultRunDir
	}
	return filepath.Join(runDir, filepath.Base(progName)+".pid")
}

// Path returns the location of the locked file.
func (f *File) Path() string {
	return f.path
}

// Fd returns the locked descriptor.
func (f *File) Fd() uintptr {
	return f.file.Fd()
}

// Close closes the descriptor, which releases the lock. The file itself is
// left in place. Safe to call more than once.
func (f *File) Close() error {
	if f == nil || f.file == nil {
		return nil
	}
	file := f.file
	f.file = nil
	return file.Close()
}

// Remove releases the lock and deletes the file. Call it just before the
// process exits.
func (f *File) Remove() error {
	if f == nil || f.file == nil {
		return nil
	}
	// Unlink while still holding the lock so a new holder's file is never
	// the one removed
	removeErr := os.Remove(f.path)
	closeErr := f.Close()
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("failed to remove PID file: %w", removeErr)
	}
	return closeErr
}

// Read returns the PID recorded in the file at path.
//
// On systems using per-process fcntl locks (everything except Linux), any
// close of a descriptor for the locked file drops the caller's own lock, so
// the holder must not Read its own file there.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304 - path from runtime dir
	if err != nil {
		// Return unwrapped so os.IsNotExist keeps working
		return 0, err
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %q", pidStr)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid PID: %d (must be positive)", pid)
	}
	return pid, nil
}

// Check reports whether the file at path is currently locked and which PID
// it names. A missing file is reported as not running with no error.
func Check(path string) (running bool, pid int, err error) {
	pid, err = Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return IsLocked(path), 0, err
	}
	return IsLocked(path), pid, nil
}

func formatPID(pid int) []byte {
	return []byte(strconv.Itoa(pid) + "\n")
}
