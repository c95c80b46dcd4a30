package daemon

import (
	"errors"
	"fmt"
	"net"
	"os"

	"tailscale.com/tsnet"

	"github.com/leonletto/webdemos/internal/config"
)

// TsnetListener serves the responder on the tailnet in addition to the
// regular port.
type TsnetListener struct {
	server   *tsnet.Server
	listener net.Listener
}

// NewTsnetListener joins the tailnet described by cfg and listens on its
// port. The caller is responsible for calling Close() when done.
func NewTsnetListener(cfg config.TailscaleConfig) (*TsnetListener, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("tailscale listener is not enabled")
	}
	if cfg.AuthKey == "" {
		return nil, fmt.Errorf("tailscale auth key not set (WEBDEMOS_TS_AUTHKEY)")
	}

	if cfg.StateDir != "" {
		if err := os.MkdirAll(cfg.StateDir, 0700); err != nil {
			return nil, fmt.Errorf("create tsnet state directory %s: %w", cfg.StateDir, err)
		}
	}

	srv := &tsnet.Server{
		Hostname: cfg.Hostname,
		AuthKey:  cfg.AuthKey,
		Dir:      cfg.StateDir,
	}
	// Headscale / self-hosted control servers
	if cfg.ControlURL != "" {
		srv.ControlURL = cfg.ControlURL
	}

	ln, err := srv.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("tsnet listen on :%d: %w", cfg.Port, err)
	}

	return &TsnetListener{
		server:   srv,
		listener: ln,
	}, nil
}

// Accept waits for and returns the next connection.
func (t *TsnetListener) Accept() (net.Conn, error) {
	return t.listener.Accept()
}

// Addr returns the listener's network address.
func (t *TsnetListener) Addr() net.Addr {
	return t.listener.Addr()
}

// Close stops the tsnet server and listener.
func (t *TsnetListener) Close() error {
	lnErr := t.listener.Close()
	srvErr := t.server.Close()
	// The responder closes the listener on shutdown before we get here
	if lnErr != nil && !errors.Is(lnErr, net.ErrClosed) {
		return fmt.Errorf("close listener: %w", lnErr)
	}
	if srvErr != nil {
		return fmt.Errorf("close server: %w", srvErr)
	}
	return nil
}
