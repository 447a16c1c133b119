// Package limits guards the WebSocket accept path: connection rate limiting
// per IP and system-wide, and a resource guard that sheds load before the
// process tips over.
package limits

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/reviewarcade/server/internal/monitoring"
)

const (
	ipTTL           = 5 * time.Minute
	cleanupInterval = time.Minute
)

// ConnRateLimiter applies token-bucket limits to connection attempts at two
// levels: a global bucket for the whole server and one bucket per client IP.
type ConnRateLimiter struct {
	mu      sync.Mutex
	perIP   map[string]*ipEntry
	ipRate  rate.Limit
	ipBurst int

	global *rate.Limiter

	logger zerolog.Logger
	done   chan struct{}
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewConnRateLimiter starts a limiter. Stale per-IP buckets are dropped
// after five minutes of inactivity.
func NewConnRateLimiter(perIPRate float64, perIPBurst int, globalRate float64, globalBurst int, logger zerolog.Logger) *ConnRateLimiter {
	l := &ConnRateLimiter{
		perIP:   make(map[string]*ipEntry),
		ipRate:  rate.Limit(perIPRate),
		ipBurst: perIPBurst,
		global:  rate.NewLimiter(rate.Limit(globalRate), globalBurst),
		logger:  logger.With().Str("component", "conn_rate_limiter").Logger(),
		done:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a connection attempt from ip may proceed. The global
// bucket is checked first so a distributed flood cannot bypass it.
func (l *ConnRateLimiter) Allow(ip string) bool {
	if !l.global.Allow() {
		monitoring.ConnectionsRejected.WithLabelValues("rate_limit_global").Inc()
		l.logger.Debug().Str("ip", ip).Msg("connection rejected: global rate limit")
		return false
	}
	if !l.ipLimiter(ip).Allow() {
		monitoring.ConnectionsRejected.WithLabelValues("rate_limit_ip").Inc()
		l.logger.Debug().Str("ip", ip).Msg("connection rejected: per-ip rate limit")
		return false
	}
	return true
}

func (l *ConnRateLimiter) ipLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.perIP[ip]
	if !ok {
		entry = &ipEntry{limiter: rate.NewLimiter(l.ipRate, l.ipBurst)}
		l.perIP[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (l *ConnRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.done:
			return
		}
	}
}

func (l *ConnRateLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for ip, entry := range l.perIP {
		if now.Sub(entry.lastSeen) > ipTTL {
			delete(l.perIP, ip)
		}
	}
}

// TrackedIPs returns how many per-IP buckets are currently held.
func (l *ConnRateLimiter) TrackedIPs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perIP)
}

// Stop terminates the cleanup goroutine.
func (l *ConnRateLimiter) Stop() {
	close(l.done)
}
