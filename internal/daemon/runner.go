// Package daemon runs a responder with its poll workers for the lifetime
// of a process, and controls detached instances through their PID file.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leonletto/webdemos/internal/accesslog"
	"github.com/leonletto/webdemos/internal/config"
	"github.com/leonletto/webdemos/internal/feed"
	"github.com/leonletto/webdemos/internal/pidfile"
	"github.com/leonletto/webdemos/internal/ratelimit"
	"github.com/leonletto/webdemos/internal/responder"
)

// DefaultShutdownTimeout bounds how long Run waits for in-flight requests.
const DefaultShutdownTimeout = 5 * time.Second

// limiterSweep is how often idle per-IP limiters are dropped.
const limiterSweep = time.Minute

// Runner wires a handler to a responder and polls it until the context
// passed to Run is cancelled.
type Runner struct {
	Config  *config.Config
	Handler responder.Handler
	Workers int

	// Guard, when set, is removed once the responder is destroyed.
	Guard *pidfile.File

	// Optional observers of completed requests.
	Feed    *feed.Hub
	History *accesslog.Recorder
	Limiter *ratelimit.Limiter

	// RunAsUser is switched to after binding when the process runs as root.
	RunAsUser string

	Logger *slog.Logger

	// OnListening is called once all listeners are bound.
	OnListening func(addrs []net.Addr)

	ShutdownTimeout time.Duration
}

// Run starts the responder and blocks until ctx is cancelled and every
// resource has been released.
func (r *Runner) Run(ctx context.Context) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := r.Workers
	if workers < 1 {
		workers = 1
	}
	timeout := r.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	// Release the guard on every return path, after everything else
	defer r.releaseGuard(logger)

	handler := r.Handler
	if r.Limiter != nil {
		handler = r.Limiter.Wrap(handler)
	}

	srv := responder.New(handler, responder.Options{
		OnComplete: r.complete(logger),
		Logger:     logger,
	})
	if r.Feed != nil {
		srv.Handle("/feed", r.Feed)
		defer func() { _ = r.Feed.Close() }()
	}

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("close listener", "error", err)
			}
		}
	}()

	if err := srv.Listen(r.Config.Addr()); err != nil {
		return err
	}
	if r.Config.Tailscale.Enabled {
		ts, err := NewTsnetListener(r.Config.Tailscale)
		if err != nil {
			_ = srv.Destroy(context.Background())
			return err
		}
		closers = append(closers, ts)
		if err := srv.Serve(ts); err != nil {
			_ = srv.Destroy(context.Background())
			return err
		}
	}

	for _, addr := range srv.Addrs() {
		logger.Info("Listening", "addr", addr.String())
	}
	if r.OnListening != nil {
		r.OnListening(srv.Addrs())
	}

	if r.RunAsUser != "" && os.Geteuid() == 0 {
		logger.Info("Switching server to run as user", "user", r.RunAsUser)
		if err := responder.DropPrivileges(r.RunAsUser); err != nil {
			_ = srv.Destroy(context.Background())
			return fmt.Errorf("run as %s: %w", r.RunAsUser, err)
		}
	}

	// History outlives the workers so records of requests finished during
	// shutdown are still stored.
	var historyDone chan error
	historyCtx, stopHistory := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHistory()
	if r.History != nil {
		historyDone = make(chan error, 1)
		go func() { historyDone <- r.History.Run(historyCtx) }()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		logger.Debug("starting worker", "worker", i+1)
		g.Go(func() error {
			for gctx.Err() == nil {
				srv.Poll(r.Config.PollInterval)
			}
			return nil
		})
	}
	if r.Limiter != nil {
		g.Go(func() error {
			r.Limiter.RunCleanup(gctx, limiterSweep, 10*limiterSweep)
			return nil
		})
	}

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Destroy(shutdownCtx); err != nil {
		logger.Warn("responder shutdown incomplete", "error", err)
	}

	if historyDone != nil {
		stopHistory()
		if err := <-historyDone; err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// complete fans a finished request out to the configured observers.
func (r *Runner) complete(logger *slog.Logger) func(responder.Record) {
	return func(rec responder.Record) {
		logger.Debug("request",
			"id", rec.ID,
			"remote_ip", rec.RemoteIP,
			"method", rec.Method,
			"uri", rec.URI,
			"status", rec.Status,
			"bytes", rec.Bytes,
			"duration", rec.Duration)
		if r.Feed != nil {
			r.Feed.Publish(rec)
		}
		if r.History != nil {
			r.History.Record(rec)
		}
	}
}

func (r *Runner) releaseGuard(logger *slog.Logger) {
	if r.Guard == nil {
		return
	}
	if err := r.Guard.Remove(); err != nil {
		logger.Warn("failed to release PID file", "path", r.Guard.Path(), "error", err)
	}
}
