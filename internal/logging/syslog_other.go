//go:build !unix

package logging

import (
	"errors"
	"io"
	"log/slog"
)

func newSyslogHandler(tag string, opts *slog.HandlerOptions) (slog.Handler, io.Closer, error) {
	return nil, nil, errors.New("syslog is not available on this platform")
}
