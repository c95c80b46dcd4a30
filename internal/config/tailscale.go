package config

import (
	"fmt"
	"os"
	"strconv"
)

// TailscaleConfig configures an optional tsnet listener. When enabled the
// responder serves on the tailnet in addition to its local TCP port.
type TailscaleConfig struct {
	Enabled    bool   `json:"enabled"`
	Hostname   string `json:"hostname"`    // tsnet hostname (e.g., "checkip")
	Port       int    `json:"port"`        // Listener port on the tailnet
	StateDir   string `json:"state_dir"`   // Directory for tsnet state persistence
	AuthKey    string `json:"-"`           // Tailscale auth key (env only)
	ControlURL string `json:"control_url"` // Control plane URL (empty = Tailscale SaaS; set for Headscale)
}

// applyEnv overlays Tailscale settings from the environment.
//
// Environment variables:
//   - WEBDEMOS_TS_ENABLED: "true"/"1" to enable
//   - WEBDEMOS_TS_HOSTNAME: tsnet hostname (required when enabled)
//   - WEBDEMOS_TS_PORT: listener port
//   - WEBDEMOS_TS_AUTHKEY: Tailscale auth key (required when enabled)
//   - WEBDEMOS_TS_STATE_DIR: state directory
//   - WEBDEMOS_TS_CONTROL_URL: control plane URL (optional, for Headscale)
func (c *TailscaleConfig) applyEnv() {
	if envBool("WEBDEMOS_TS_ENABLED") {
		c.Enabled = true
	}
	if h := os.Getenv("WEBDEMOS_TS_HOSTNAME"); h != "" {
		c.Hostname = h
	}
	if p := os.Getenv("WEBDEMOS_TS_PORT"); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			c.Port = port
		}
	}
	c.AuthKey = os.Getenv("WEBDEMOS_TS_AUTHKEY")
	if d := os.Getenv("WEBDEMOS_TS_STATE_DIR"); d != "" {
		c.StateDir = d
	}
	if u := os.Getenv("WEBDEMOS_TS_CONTROL_URL"); u != "" {
		c.ControlURL = u
	}
}

// Validate checks that the configuration is valid when enabled.
// Returns nil if disabled or valid.
func (c *TailscaleConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Hostname == "" {
		return fmt.Errorf("WEBDEMOS_TS_HOSTNAME is required when Tailscale is enabled")
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("WEBDEMOS_TS_PORT must be between 1 and 65535, got %d", c.Port)
	}

	if c.AuthKey == "" {
		return fmt.Errorf("WEBDEMOS_TS_AUTHKEY is required when Tailscale is enabled")
	}

	return nil
}
