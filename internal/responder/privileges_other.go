//go:build !unix

package responder

import "errors"

// DropPrivileges is not supported on this platform.
func DropPrivileges(username string) error {
	return errors.New("dropping privileges is not supported on this platform")
}
