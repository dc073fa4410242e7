package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/services"
	"callmesh/pkg/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

func newTestRouter(t *testing.T, handlers ...gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
	router.Use(handlers...)
	router.GET("/test", func(c *gin.Context) {
		peerID, _ := c.Get(PeerIDKey)
		if peerID != nil {
			c.String(http.StatusOK, string(peerID.(domain.PeerID)))
			return
		}
		c.Status(http.StatusOK)
	})
	return router
}

func get(router http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	router.ServeHTTP(w, req)
	return w
}

// Test that when rate limiting is disabled, middleware lets all requests through.
func TestHandshakeRateLimit_Disabled_AllowsRequests(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	router := newTestRouter(t, NewHandshakeRateLimitMiddleware(cfg))

	for i := 0; i < 3; i++ {
		if w := get(router, "/test", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i, w.Code)
		}
	}
}

// Test basic per-IP rate limiting behaviour.
func TestHandshakeRateLimit_Enabled_RateLimited(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.Handshakes.PerSecond = 1
	cfg.RateLimiting.Handshakes.Burst = 1
	router := newTestRouter(t, NewHandshakeRateLimitMiddleware(cfg))

	if w := get(router, "/test", nil); w.Code != http.StatusOK {
		t.Fatalf("expected status 200 for first request, got %d", w.Code)
	}
	if w := get(router, "/test", nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 for second request, got %d", w.Code)
	}

	// A different forwarded client has its own budget.
	other := http.Header{"X-Forwarded-For": []string{"203.0.113.7, 10.0.0.1"}}
	if w := get(router, "/test", other); w.Code != http.StatusOK {
		t.Fatalf("expected status 200 for another client, got %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	auth := services.NewAuthService("secret", time.Hour)
	token, err := auth.GenerateToken("alice", "room")
	if err != nil {
		t.Fatal(err)
	}
	router := newTestRouter(t, AuthMiddleware(auth))

	cases := []struct {
		name   string
		target string
		header http.Header
		status int
		body   string
	}{
		{name: "missing token", target: "/test", status: http.StatusUnauthorized},
		{name: "malformed header", target: "/test", header: http.Header{"Authorization": []string{"Token " + token}}, status: http.StatusUnauthorized},
		{name: "bad token", target: "/test?token=garbage", status: http.StatusUnauthorized},
		{name: "bearer header", target: "/test", header: http.Header{"Authorization": []string{"Bearer " + token}}, status: http.StatusOK, body: "alice"},
		{name: "query token", target: "/test?token=" + token, status: http.StatusOK, body: "alice"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := get(router, tc.target, tc.header)
			if w.Code != tc.status {
				t.Fatalf("expected status %d, got %d (%s)", tc.status, w.Code, w.Body.String())
			}
			if tc.body != "" && w.Body.String() != tc.body {
				t.Fatalf("expected body %q, got %q", tc.body, w.Body.String())
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/test", func(c *gin.Context) { panic("boom") })

	if w := get(router, "/test", nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
}

func TestIPLimitersForgetIdleClients(t *testing.T) {
	now := time.Unix(1700000000, 0)
	limiters := newIPLimiters(1, 1, time.Minute)
	limiters.now = func() time.Time { return now }

	if !limiters.allow("198.51.100.1") || limiters.allow("198.51.100.1") {
		t.Fatal("expected a burst of one")
	}
	limiters.allow("198.51.100.2")
	if limiters.size() != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", limiters.size())
	}

	now = now.Add(2 * time.Minute)
	if !limiters.allow("198.51.100.3") {
		t.Fatal("expected a new client to pass")
	}
	if limiters.size() != 1 {
		t.Fatalf("expected idle clients to be dropped, got %d", limiters.size())
	}
}
