package main

import (
	"fmt"
	"net"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/leonletto/webdemos/internal/cli"
	"github.com/leonletto/webdemos/internal/daemon"
	"github.com/leonletto/webdemos/internal/pages"
	"github.com/leonletto/webdemos/internal/pidfile"
	"github.com/leonletto/webdemos/internal/ratelimit"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

func main() {
	var g cli.Globals
	root := cli.NewRoot("autoscale", "IP check server with one worker per CPU", Version, Build, &g)
	root.Long = `autoscale serves the IP check page from CPUs + 1 poll workers sharing
one listener. A PID file lock in the run directory keeps a second copy
from starting; it exits with status 156 when the lock is held.`
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return run(cmd, &g)
	}
	cli.Execute(root)
}

func run(cmd *cobra.Command, g *cli.Globals) error {
	cfg, err := g.Config(cmd)
	if err != nil {
		return err
	}
	logger, closer, err := cli.SetupLogging(cfg, "autoscale")
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	// Single instance: exits with pidfile.ExitCode if another copy runs
	guard := pidfile.MustCreate(logger, os.Args[0], cli.GuardPath(cfg, os.Args[0]), cli.GuardFlags(cfg))

	ctx, stop := cli.SignalContext()
	defer stop()

	nprocs := runtime.NumCPU()
	workers := cfg.Workers
	if workers == 0 {
		workers = nprocs + 1
	}
	plural := "'s"
	if nprocs == 1 {
		plural = ""
	}
	fmt.Printf("%d CPU%s detected, %d threads will be created\n", nprocs, plural, workers)

	runner := &daemon.Runner{
		Config:  cfg,
		Handler: pages.CheckIP,
		Workers: workers,
		Guard:   guard,
		Limiter: ratelimit.New(cfg.RateLimit),
		Logger:  logger,
		OnListening: func(addrs []net.Addr) {
			if tcp, ok := addrs[0].(*net.TCPAddr); ok {
				fmt.Printf("Listening on port %d\n", tcp.Port)
			}
			for i := 1; i <= workers; i++ {
				fmt.Printf("... Starting server %d\n", i)
			}
		},
	}
	return runner.Run(ctx)
}
