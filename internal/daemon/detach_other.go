//go:build !unix

package daemon

import "errors"

// Detach is not supported on this platform; use the foreground run command.
func Detach(args []string) (int, error) {
	return 0, errors.New("detaching is not supported on this platform")
}
