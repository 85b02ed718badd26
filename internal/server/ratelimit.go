package server

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AuthBlocker tracks failed authentication attempts and blocks IPs
type AuthBlocker struct {
	mu          sync.RWMutex
	blockedIPs  map[string]time.Time
	blockPeriod time.Duration
	done        chan struct{}
	closeOnce   sync.Once
}

// NewAuthBlocker creates a new blocker
func NewAuthBlocker(blockPeriod time.Duration) *AuthBlocker {
	b := &AuthBlocker{
		blockedIPs:  make(map[string]time.Time),
		blockPeriod: blockPeriod,
		done:        make(chan struct{}),
	}

	// Start cleanup goroutine
	go b.cleanup()

	return b
}

// IsBlocked checks if an IP is currently blocked
func (b *AuthBlocker) IsBlocked(ip string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	blockedUntil, exists := b.blockedIPs[ip]
	if !exists {
		return false
	}

	return time.Now().Before(blockedUntil)
}

// BlockIP blocks an IP for the configured period
func (b *AuthBlocker) BlockIP(ip string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.blockedIPs[ip] = time.Now().Add(b.blockPeriod)
}

// Close stops the cleanup goroutine
func (b *AuthBlocker) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// cleanup periodically removes expired blocks
func (b *AuthBlocker) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
		}

		b.mu.Lock()
		now := time.Now()
		for ip, blockedUntil := range b.blockedIPs {
			if now.After(blockedUntil) {
				delete(b.blockedIPs, ip)
			}
		}
		b.mu.Unlock()
	}
}

// RequestLimiter is a per-IP token bucket refilled at perHour tokens per hour
type RequestLimiter struct {
	mu        sync.Mutex
	perHour   int
	limiters  map[string]*visitor
	idle      time.Duration
	done      chan struct{}
	closeOnce sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRequestLimiter creates a limiter allowing perHour requests per IP. A
// perHour of zero or less disables limiting.
func NewRequestLimiter(perHour int) *RequestLimiter {
	l := &RequestLimiter{
		perHour:  perHour,
		limiters: make(map[string]*visitor),
		idle:     time.Hour,
		done:     make(chan struct{}),
	}
	if perHour > 0 {
		go l.cleanup()
	}
	return l
}

// Enabled reports whether requests are limited at all
func (l *RequestLimiter) Enabled() bool {
	return l != nil && l.perHour > 0
}

// Allow takes a token for ip and reports how many remain
func (l *RequestLimiter) Allow(ip string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.limiters[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(float64(l.perHour)/3600), l.perHour)}
		l.limiters[ip] = v
	}
	v.lastSeen = time.Now()

	allowed := v.limiter.Allow()
	remaining := int(v.limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}

// Close stops the cleanup goroutine
func (l *RequestLimiter) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *RequestLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
		}

		l.mu.Lock()
		for ip, v := range l.limiters {
			if time.Since(v.lastSeen) > l.idle {
				delete(l.limiters, ip)
			}
		}
		l.mu.Unlock()
	}
}

// middleware sets the X-RateLimit headers and rejects exhausted clients
func (l *RequestLimiter) middleware(onReject func(c *gin.Context)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Enabled() {
			c.Next()
			return
		}

		allowed, remaining := l.Allow(clientIP(c))
		c.Header("X-RateLimit-Limit", strconv.Itoa(l.perHour))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			onReject(c)
			return
		}
		c.Next()
	}
}

// clientIP returns the client address as resolved by gin. Forwarding
// headers are only honoured from the engine's trusted proxies or its
// trusted platform header.
func clientIP(c *gin.Context) string {
	return c.ClientIP()
}

// trustedPlatform maps the trusted_platform setting to the header gin reads
// the client address from. Any other non-empty value is used as the header
// name itself.
func trustedPlatform(name string) string {
	switch strings.ToLower(name) {
	case "":
		return ""
	case "cloudflare":
		return gin.PlatformCloudflare
	case "google_app_engine", "appengine":
		return gin.PlatformGoogleAppEngine
	default:
		return name
	}
}

// logFailedAuth logs a failed authentication attempt
func logFailedAuth(log *zap.SugaredLogger, ip, reason string, blocked bool) {
	status := "failed"
	if blocked {
		status = "blocked"
	}
	log.Warnw("authentication "+status, "ip", ip, "reason", reason)
}
