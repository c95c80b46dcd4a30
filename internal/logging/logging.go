// Package logging configures the process-wide log/slog logger.
//
// Records go to stderr by default, or to the system log (facility daemon)
// for programs running detached from a terminal. The "auto" format picks
// text for an interactive terminal and JSON otherwise.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Config controls logger construction.
type Config struct {
	Level  string    // debug, info, warn, error
	Format string    // auto, text, json
	Output io.Writer // defaults to os.Stderr
	Syslog bool      // write to the system log instead of Output
	Tag    string    // syslog tag, usually the program name
}

// ParseLevel converts a level name to slog.Level.
// Defaults to INFO if the name is not recognized.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger from cfg. The returned closer releases the syslog
// connection, if any, and is never nil.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	if cfg.Syslog {
		h, closer, err := newSyslogHandler(cfg.Tag, opts)
		if err != nil {
			return nil, nopCloser{}, fmt.Errorf("connect to syslog: %w", err)
		}
		return slog.New(h), closer, nil
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var handler slog.Handler
	if resolveFormat(cfg.Format, out) == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), nopCloser{}, nil
}

// Init builds a logger from cfg and installs it as the slog default.
func Init(cfg Config) (io.Closer, error) {
	logger, closer, err := New(cfg)
	if err != nil {
		return closer, err
	}
	slog.SetDefault(logger)
	return closer, nil
}

// ForComponent tags logger with a component name. A nil logger means the
// current default.
func ForComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", component)
}

func resolveFormat(format string, out io.Writer) string {
	if format != "auto" && format != "" {
		return format
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "text"
	}
	return "json"
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
