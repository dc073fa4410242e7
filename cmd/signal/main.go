package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callmesh/internal/core/services"
	"callmesh/internal/infrastructure/middleware"
	"callmesh/internal/infrastructure/monitoring"
	signalinfra "callmesh/internal/infrastructure/signal"
	"callmesh/pkg/config"
	"callmesh/pkg/logger"
	"callmesh/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
)

func main() {
	// Try multiple config paths
	cfg, path := config.LoadFirst(
		"configs/config.yaml",
		"./configs/config.yaml",
		"/root/configs/config.yaml",
		"config.yaml",
	)

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if path == "" {
		log.Infow("could not load config from any path, using defaults")
	} else {
		log.Infow("loaded config", "path", path)
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "callmesh-signal",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	var metrics signalinfra.RelayMetrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	relayConfig := signalinfra.RelayConfig{
		PingInterval: cfg.Signal.PingInterval,
		PongTimeout:  cfg.Signal.PongTimeout,
		WriteTimeout: cfg.Signal.WriteTimeout,

		MaxMessageSize: cfg.RateLimiting.MaxMessageSizeBytes,
	}
	if cfg.RateLimiting.Enabled {
		relayConfig.MessagesPerSecond = cfg.RateLimiting.MessagesPerSecond
		relayConfig.Burst = cfg.RateLimiting.Burst
	}
	relay := signalinfra.NewRelayServer(relayConfig, metrics, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	ws := []gin.HandlerFunc{middleware.NewHandshakeRateLimitMiddleware(cfg)}
	if cfg.Auth.Enabled {
		authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		ws = append(ws, middleware.AuthMiddleware(authService))
	}
	router.GET("/ws", append(ws, relay.HandleWebSocket)...)
	router.GET("/health", relay.HealthCheck)
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	srv := &http.Server{
		Addr:              cfg.Signal.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("starting signaling relay", "address", cfg.Signal.Address, "auth", cfg.Auth.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down signaling relay")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	relay.Close()
	if err := multierr.Combine(srv.Shutdown(ctx), tp.Shutdown(ctx)); err != nil {
		log.Errorw("shutdown finished with errors", "error", err)
	}
	log.Infow("signaling relay stopped")
}
