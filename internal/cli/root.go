// Package cli holds the command-line plumbing shared by the programs in
// cmd/: global flags, configuration loading, logging setup and exit codes.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	goruntime "runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leonletto/webdemos/internal/config"
	"github.com/leonletto/webdemos/internal/logging"
	"github.com/leonletto/webdemos/internal/pidfile"
)

// Globals are the persistent flags every program accepts.
type Globals struct {
	ConfigPath string
	RunDir     string
	Port       int
	Bind       string
	LogLevel   string
	LogFormat  string
	Syslog     bool
	JSON       bool
}

// NewRoot builds a root command with the shared persistent flags.
func NewRoot(use, short, version, build string, g *Globals) *cobra.Command {
	root := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.ConfigPath, "config", "", "Path to JSON config file")
	root.PersistentFlags().StringVar(&g.RunDir, "run-dir", "", "Directory for the PID file (or WEBDEMOS_RUN_DIR)")
	root.PersistentFlags().IntVarP(&g.Port, "port", "p", 0, "Listening port (or WEBDEMOS_PORT)")
	root.PersistentFlags().StringVar(&g.Bind, "bind", "", "Bind address (or WEBDEMOS_BIND)")
	root.PersistentFlags().StringVar(&g.LogLevel, "log-level", "", "debug, info, warn or error")
	root.PersistentFlags().StringVar(&g.LogFormat, "log-format", "", "auto, text or json")
	root.PersistentFlags().BoolVar(&g.Syslog, "syslog", false, "Log to the system log")
	root.PersistentFlags().BoolVar(&g.JSON, "json", false, "JSON output for scripting")

	root.Version = version
	root.SetVersionTemplate(use + " v{{.Version}} (build: " + build + ", " + goruntime.Version() + ")\n")
	return root
}

// Config loads the config file and environment, then applies any flags the
// user set explicitly.
func (g *Globals) Config(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("run-dir") {
		cfg.RunDir = g.RunDir
	}
	if flags.Changed("port") {
		cfg.Port = g.Port
	}
	if flags.Changed("bind") {
		cfg.BindAddr = g.Bind
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = g.LogLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = g.LogFormat
	}
	if flags.Changed("syslog") {
		cfg.Log.Syslog = g.Syslog
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SetupLogging installs the default logger for prog as configured.
func SetupLogging(cfg *config.Config, prog string) (*slog.Logger, io.Closer, error) {
	closer, err := logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Syslog: cfg.Log.Syslog,
		Tag:    prog,
	})
	if err != nil {
		return nil, closer, err
	}
	return slog.Default().With("prog", prog), closer, nil
}

// SignalContext returns a context cancelled by SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ExitCode maps an error returned by a command to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var pidErr *pidfile.Error
	if errors.As(err, &pidErr) {
		return pidfile.ExitCode
	}
	return 1
}

// Execute runs root and exits with the matching status on error.
func Execute(root *cobra.Command) {
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitCode(err))
	}
}

// GuardPath returns the PID file location for prog under the configured
// run directory.
func GuardPath(cfg *config.Config, prog string) string {
	return pidfile.Path(cfg.RunDir, prog)
}

// GuardFlags converts configuration into pidfile creation flags.
func GuardFlags(cfg *config.Config) pidfile.Flag {
	var flags pidfile.Flag
	if cfg.CloseOnExec {
		flags |= pidfile.CloseOnExec
	}
	return flags
}
