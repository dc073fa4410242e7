package monitoring

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type HealthChecker struct {
	checks []HealthCheck
	mu     sync.RWMutex
}

type HealthCheck struct {
	Name    string
	Check   func(ctx context.Context) error
	Timeout time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make([]HealthCheck, 0),
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:    name,
		Check:   check,
		Timeout: timeout,
	})
}

// AddRedisCheck pings the roster bus backend.
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, timeout)
}

// AddRelayCheck reports unhealthy once the signaling connection is gone.
func (h *HealthChecker) AddRelayCheck(done <-chan struct{}) {
	h.AddCheck("relay", func(ctx context.Context) error {
		select {
		case <-done:
			return errors.New("relay connection closed")
		default:
			return nil
		}
	}, time.Second)
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}

	for _, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
		err := check.Check(checkCtx)
		cancel()

		if err != nil {
			status.Status = "unhealthy"
			status.Checks[check.Name] = err.Error()
		} else {
			status.Checks[check.Name] = "healthy"
		}
	}

	return status
}

// Handler serves CheckAll, answering 503 when any check fails.
func (h *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := h.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	}
}
