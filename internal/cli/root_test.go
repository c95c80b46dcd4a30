package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/leonletto/webdemos/internal/pidfile"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"WEBDEMOS_PORT", "WEBDEMOS_BIND", "WEBDEMOS_RUN_DIR", "WEBDEMOS_LOG_LEVEL", "WEBDEMOS_LOG_FORMAT", "WEBDEMOS_SYSLOG", "WEBDEMOS_RATE_LIMIT", "WEBDEMOS_TS_ENABLED"} {
		t.Setenv(k, "")
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEBDEMOS_PORT", "7000")

	var g Globals
	root := NewRoot("demo", "demo program", "1.0", "test", &g)
	if err := root.ParseFlags([]string{"--port", "9001", "--run-dir", "/tmp/x", "--log-format", "json"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := g.Config(root)
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.Port != 9001 {
		t.Errorf("Port = %d, want 9001 (flag beats env)", cfg.Port)
	}
	if cfg.RunDir != "/tmp/x" {
		t.Errorf("RunDir = %q", cfg.RunDir)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q", cfg.Log.Format)
	}
}

func TestUnsetFlagsKeepEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEBDEMOS_PORT", "7000")

	var g Globals
	root := NewRoot("demo", "demo program", "1.0", "test", &g)
	if err := root.ParseFlags(nil); err != nil {
		t.Fatal(err)
	}
	cfg, err := g.Config(root)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 7000 {
		t.Errorf("Port = %d, want 7000 from env", cfg.Port)
	}
}

func TestConfigRejectsInvalid(t *testing.T) {
	clearEnv(t)

	var g Globals
	root := NewRoot("demo", "demo program", "1.0", "test", &g)
	if err := root.ParseFlags([]string{"--log-format", "xml"}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Config(root); err == nil {
		t.Error("expected validation error")
	}
}

func TestExitCode(t *testing.T) {
	lockErr := &pidfile.Error{Op: "lock", Path: "/var/run/x.pid", Prog: "x", Err: pidfile.ErrAlreadyRunning}
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), 1},
		{"guard", lockErr, pidfile.ExitCode},
		{"wrapped guard", fmt.Errorf("start: %w", lockErr), pidfile.ExitCode},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("%s: ExitCode = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestGuardHelpers(t *testing.T) {
	clearEnv(t)
	var g Globals
	root := NewRoot("demo", "demo program", "1.0", "test", &g)
	if err := root.ParseFlags([]string{"--run-dir", "/tmp/run"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := g.Config(root)
	if err != nil {
		t.Fatal(err)
	}

	if got := GuardPath(cfg, "/usr/local/bin/autoscale"); got != "/tmp/run/autoscale.pid" {
		t.Errorf("GuardPath = %q", got)
	}
	if GuardFlags(cfg) != 0 {
		t.Error("close-on-exec should be off by default")
	}
	cfg.CloseOnExec = true
	if GuardFlags(cfg)&pidfile.CloseOnExec == 0 {
		t.Error("expected CloseOnExec flag")
	}
}
