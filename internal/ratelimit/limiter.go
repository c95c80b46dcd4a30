// Package ratelimit throttles requests per client IP with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/leonletto/webdemos/internal/config"
	"github.com/leonletto/webdemos/internal/responder"
)

// Limiter keeps one token bucket per client IP.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	config   config.RateLimitConfig
}

// clientLimiter wraps a rate limiter with last access time for cleanup.
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// New creates a limiter with the given config.
// Zero rate or burst values fall back to the defaults.
func New(cfg config.RateLimitConfig) *Limiter {
	if cfg.MaxRequestsPerSecond == 0 {
		cfg.MaxRequestsPerSecond = config.DefaultMaxRequestsPerSec
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = config.DefaultBurst
	}

	return &Limiter{
		limiters: make(map[string]*clientLimiter),
		config:   cfg,
	}
}

// Allow checks if a request from ip should be allowed.
// Returns nil if allowed, or a *LimitError if the client is over its rate.
func (l *Limiter) Allow(ip string) error {
	if !l.config.Enabled {
		return nil
	}

	if !l.getLimiter(ip).Allow() {
		return &LimitError{
			Code:    429,
			Message: "rate limit exceeded",
			IP:      ip,
		}
	}
	return nil
}

// Wrap returns a handler that rejects the auth event of clients over their
// rate and passes everything else to next.
func (l *Limiter) Wrap(next responder.Handler) responder.Handler {
	return func(c *responder.Conn, ev responder.Event) responder.Verdict {
		if ev == responder.EventAuth {
			if err := l.Allow(c.RemoteIP); err != nil {
				return responder.Reject
			}
		}
		return next(c, ev)
	}
}

// Len returns the number of clients currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// CleanupStale removes limiters for clients not seen in the given duration.
// Returns the number of limiters removed.
func (l *Limiter) CleanupStale(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for ip, cl := range l.limiters {
		if cl.lastAccess.Before(cutoff) {
			delete(l.limiters, ip)
			removed++
		}
	}

	return removed
}

// RunCleanup calls CleanupStale every interval until ctx is done.
func (l *Limiter) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.CleanupStale(maxAge)
		}
	}
}

// getLimiter returns or creates a rate limiter for the given client.
func (l *Limiter) getLimiter(ip string) *rate.Limiter {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if cl, ok := l.limiters[ip]; ok {
		cl.lastAccess = now
		return cl.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(l.config.MaxRequestsPerSecond), l.config.BurstSize)
	l.limiters[ip] = &clientLimiter{
		limiter:    limiter,
		lastAccess: now,
	}

	return limiter
}

// LimitError reports a client over its rate.
type LimitError struct {
	Code    int
	Message string
	IP      string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit error (code %d) for %s: %s", e.Code, e.IP, e.Message)
}
