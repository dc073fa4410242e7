package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"callmesh/pkg/config"
	apperrors "callmesh/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiters hands out one token bucket per client IP and forgets clients
// idle for longer than ttl.
type ipLimiters struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newIPLimiters(limit rate.Limit, burst int, ttl time.Duration) *ipLimiters {
	return &ipLimiters{
		clients: make(map[string]*clientLimiter),
		limit:   limit,
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (l *ipLimiters) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.ttl {
		for key, c := range l.clients {
			if now.Sub(c.lastSeen) >= l.ttl {
				delete(l.clients, key)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

func (l *ipLimiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// clientIP prefers the first X-Forwarded-For hop when the relay sits behind
// a proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHandshakeRateLimitMiddleware limits websocket upgrades per client IP.
// Per-message limits are applied by the relay on each connection.
func NewHandshakeRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	limiters := newIPLimiters(
		rate.Limit(cfg.RateLimiting.Handshakes.PerSecond),
		cfg.RateLimiting.Handshakes.Burst,
		limiterIdleTTL,
	)

	return func(c *gin.Context) {
		ip := clientIP(c.Request)
		if !limiters.allow(ip) {
			_ = c.Error(apperrors.RateLimited().With("client_ip", ip))
			c.Abort()
			return
		}
		c.Next()
	}
}
