//go:build unix

package responder

import (
	"fmt"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// DropPrivileges switches the process to the named user and its primary
// group. Call it after binding privileged ports.
func DropPrivileges(username string) error {
	u, err := user.Lookup(username)
	if err != nil {
		return fmt.Errorf("look up user %s: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("parse gid %q: %w", u.Gid, err)
	}

	// Group changes need root, so they go first
	if err := unix.Setgroups([]int{gid}); err != nil {
		return fmt.Errorf("setgroups %d: %w", gid, err)
	}
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("setgid %d: %w", gid, err)
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("setuid %d: %w", uid, err)
	}
	return nil
}
