package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/leonletto/webdemos/internal/accesslog"
	"github.com/leonletto/webdemos/internal/cli"
	"github.com/leonletto/webdemos/internal/config"
	"github.com/leonletto/webdemos/internal/daemon"
	"github.com/leonletto/webdemos/internal/feed"
	"github.com/leonletto/webdemos/internal/pages"
	"github.com/leonletto/webdemos/internal/pidfile"
)

const prog = "echod"

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

var globals cli.Globals

func main() {
	root := cli.NewRoot(prog, "Echo request details back to the client", Version, Build, &globals)
	root.Long = `echod answers every request with an HTML table of the request's
address, request line, headers and body.

It normally runs detached as a daemon ("echod start"), switching to the
configured user (default nobody) when started as root. Completed requests
are streamed as JSON over the websocket at /feed and, when an access
database is configured, kept for "echod history".`

	root.AddCommand(startCmd())
	root.AddCommand(runCmd())
	root.AddCommand(stopCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(historyCmd())

	cli.Execute(root)
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := globals.Config(cmd)
			if err != nil {
				return err
			}
			path := cli.GuardPath(cfg, prog)

			st, err := daemon.GetStatus(path)
			if err != nil {
				return err
			}
			if st.Running {
				return fmt.Errorf("daemon is already running (PID %d)", st.PID)
			}

			// Forward the global flags the user set to the detached child
			childArgs := []string{"run", "--detached"}
			cmd.Flags().Visit(func(f *pflag.Flag) {
				childArgs = append(childArgs, "--"+f.Name+"="+f.Value.String())
			})

			if _, err := daemon.Detach(childArgs); err != nil {
				return err
			}
			if !daemon.WaitFor(path, true, 10*time.Second) {
				return fmt.Errorf("timeout waiting for daemon to start")
			}

			st, _ = daemon.GetStatus(path)
			fmt.Printf("Daemon started (PID %d)\n", st.PID)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var detached bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := globals.Config(cmd)
			if err != nil {
				return err
			}
			return runDaemon(cfg, detached)
		},
	}
	cmd.Flags().BoolVar(&detached, "detached", false, "Started by \"echod start\"")
	_ = cmd.Flags().MarkHidden("detached")
	return cmd
}

func runDaemon(cfg *config.Config, detached bool) error {
	// A detached daemon has nowhere to write but the system log
	if detached {
		cfg.Log.Syslog = true
	}
	logger, closer, err := cli.SetupLogging(cfg, prog)
	if err != nil && detached {
		cfg.Log.Syslog = false
		logger, closer, err = cli.SetupLogging(cfg, prog)
	}
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	logger.Info("Daemon starting")
	start := time.Now()

	guard, err := pidfile.Create(prog, cli.GuardPath(cfg, prog), cli.GuardFlags(cfg))
	if err != nil {
		logger.Error(err.Error())
		return err
	}

	ctx, stop := cli.SignalContext()
	defer stop()

	runner := &daemon.Runner{
		Config:    cfg,
		Handler:   pages.Echo,
		Workers:   max(cfg.Workers, 1),
		Guard:     guard,
		Feed:      feed.NewHub(logger),
		RunAsUser: cfg.User,
		Logger:    logger,
	}

	if cfg.AccessDB != "" {
		store, err := accesslog.Open(cfg.AccessDB)
		if err != nil {
			_ = guard.Remove()
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("close access history", "error", err)
			}
		}()
		runner.History = accesslog.NewRecorder(store, 0, logger)
		runner.History.Retention = cfg.HistoryRetention()
	}

	err = runner.Run(ctx)
	logger.Info(fmt.Sprintf("Daemon stopping after %s", daemon.FormatUptime(time.Since(start))))
	return err
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon gracefully",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := globals.Config(cmd)
			if err != nil {
				return err
			}
			if err := daemon.Stop(cli.GuardPath(cfg, prog), 10*time.Second); err != nil {
				return err
			}
			fmt.Println("Daemon stopped")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := globals.Config(cmd)
			if err != nil {
				return err
			}
			st, err := daemon.GetStatus(cli.GuardPath(cfg, prog))
			if err != nil {
				return err
			}

			if globals.JSON {
				output, _ := json.MarshalIndent(map[string]any{
					"running":  st.Running,
					"pid":      st.PID,
					"pid_file": st.PIDFile,
				}, "", "  ")
				fmt.Println(string(output))
				return nil
			}
			fmt.Printf("Daemon: %s\n", st)
			return nil
		},
	}
}
