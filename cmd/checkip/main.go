package main

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/leonletto/webdemos/internal/cli"
	"github.com/leonletto/webdemos/internal/daemon"
	"github.com/leonletto/webdemos/internal/pages"
	"github.com/leonletto/webdemos/internal/ratelimit"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

func main() {
	var g cli.Globals
	root := cli.NewRoot("checkip", "Report the caller's IP address", Version, Build, &g)
	root.Long = `checkip answers "/" with the IP address the request came from.

It runs a single poll loop in the foreground until interrupted.`
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
	logger, closer, err := cli.SetupLogging(cfg, "checkip")
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	ctx, stop := cli.SignalContext()
	defer stop()

	runner := &daemon.Runner{
		Config:  cfg,
		Handler: pages.CheckIP,
		Workers: max(cfg.Workers, 1),
		Limiter: ratelimit.New(cfg.RateLimit),
		Logger:  logger,
		OnListening: func(addrs []net.Addr) {
			fmt.Println("Checkip started")
			if tcp, ok := addrs[0].(*net.TCPAddr); ok {
				fmt.Printf("Listening on port %d\n", tcp.Port)
			}
		},
	}
	if err := runner.Run(ctx); err != nil {
		return err
	}

	fmt.Println("Checkip shutdown")
	return nil
}
