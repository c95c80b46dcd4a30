package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Default rate limit values.
const (
	DefaultMaxRequestsPerSec = 10.0
	DefaultBurst             = 20
)

// RateLimitConfig bounds how fast a single client IP may make requests.
type RateLimitConfig struct {
	Enabled              bool    `json:"enabled"`
	MaxRequestsPerSecond float64 `json:"max_requests_per_second"`
	BurstSize            int     `json:"burst_size"`
}

// DefaultRateLimitConfig returns the limiter settings used when nothing is
// configured. Limiting is off by default.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequestsPerSecond: DefaultMaxRequestsPerSec,
		BurstSize:            DefaultBurst,
	}
}

// applyEnv reads WEBDEMOS_RATE_LIMIT ("<rps>" or "<rps>:<burst>"); setting
// it enables limiting.
func (c *RateLimitConfig) applyEnv() error {
	v := os.Getenv("WEBDEMOS_RATE_LIMIT")
	if v == "" {
		return nil
	}

	rpsStr, burstStr, _ := strings.Cut(v, ":")

	rps, err := strconv.ParseFloat(rpsStr, 64)
	if err != nil {
		return fmt.Errorf("invalid WEBDEMOS_RATE_LIMIT %q: %w", v, err)
	}
	c.MaxRequestsPerSecond = rps
	if burstStr != "" {
		burst, err := strconv.Atoi(burstStr)
		if err != nil {
			return fmt.Errorf("invalid WEBDEMOS_RATE_LIMIT burst %q: %w", v, err)
		}
		c.BurstSize = burst
	}
	c.Enabled = true
	return nil
}

// Validate checks limiter settings when enabled.
func (c *RateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MaxRequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit must be positive, got %v", c.MaxRequestsPerSecond)
	}
	if c.BurstSize < 1 {
		return fmt.Errorf("rate limit burst must be at least 1, got %d", c.BurstSize)
	}
	return nil
}
