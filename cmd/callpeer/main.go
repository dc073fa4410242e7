package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/internal/core/services"
	httphandlers "callmesh/internal/handlers/http"
	"callmesh/internal/infrastructure/distributed"
	"callmesh/internal/infrastructure/middleware"
	"callmesh/internal/infrastructure/monitoring"
	signalinfra "callmesh/internal/infrastructure/signal"
	webrtcinfra "callmesh/internal/infrastructure/webrtc"
	"callmesh/pkg/config"
	"callmesh/pkg/logger"
	"callmesh/pkg/retry"
	"callmesh/pkg/tracing"
	"callmesh/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const presenceRefresh = 3 * time.Minute

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/root/configs/config.yaml",
	"config.yaml",
}

func main() {
	cfg, path := config.LoadFirst(configPaths...)

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	ctx := logger.WithPeerID(context.Background(), cfg.Peer.ID)
	ctx = logger.WithRoom(ctx, cfg.Peer.Room)
	log := logger.NewContextLogger(zapLogger).Sugared(ctx)

	if path != "" {
		log.Infow("loaded config", "path", path)
	} else {
		log.Infow("no config file found, using defaults")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Fatalw("call peer stopped", "error", err)
	}
}

func validatePeer(cfg *config.Config) error {
	if err := validation.ValidatePeerID(cfg.Peer.ID); err != nil {
		return fmt.Errorf("peer.id: %w", err)
	}
	if err := validation.ValidateRoom(cfg.Peer.Room); err != nil {
		return fmt.Errorf("peer.room: %w", err)
	}
	if err := validation.ValidateSignalURL(cfg.Peer.SignalURL); err != nil {
		return fmt.Errorf("peer.signal_url: %w", err)
	}
	return nil
}

// peerToken returns the configured relay token, minting one from the shared
// secret when only the secret is set.
func peerToken(cfg *config.Config, localID domain.PeerID) (string, error) {
	if cfg.Peer.Token != "" || cfg.Auth.JWTSecret == "" {
		return cfg.Peer.Token, nil
	}
	token, err := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).GenerateToken(localID, cfg.Peer.Room)
	if err != nil {
		return "", fmt.Errorf("mint relay token: %w", err)
	}
	return token, nil
}

func iceServers(cfg *config.Config) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(servers) == 0 {
		// Host candidates only work on one network.
		servers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return servers
}

func run(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	if err := validatePeer(cfg); err != nil {
		return err
	}
	localID := domain.PeerID(cfg.Peer.ID)
	token, err := peerToken(cfg, localID)
	if err != nil {
		return err
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "callmesh-peer",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}

	var metrics ports.CallMetrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	factoryConfig := webrtcinfra.Config{ICEServers: iceServers(cfg), LogLevel: cfg.WebRTC.LogLevel}
	factoryConfig.PortRange.Min = cfg.WebRTC.PortRange.Min
	factoryConfig.PortRange.Max = cfg.WebRTC.PortRange.Max
	factory := webrtcinfra.NewPeerConnectionFactory(factoryConfig, log)

	var capturer ports.Capturer
	if cfg.Media.AudioFile != "" || cfg.Media.VideoFile != "" {
		capturer = webrtcinfra.NewFileCapturer(cfg.Media.AudioFile, cfg.Media.VideoFile, log)
	}
	media := webrtcinfra.NewMediaSource(capturer, cfg.Media.CaptureTimeout, log)

	client := signalinfra.NewClient(signalinfra.ClientConfig{
		URL:          cfg.Peer.SignalURL,
		PeerID:       localID,
		Token:        token,
		PingInterval: cfg.Signal.PingInterval,
		PongTimeout:  cfg.Signal.PongTimeout,
		WriteTimeout: cfg.Signal.WriteTimeout,
		Dial:         retry.DefaultConfig(),
	}, log)

	registry := services.NewPeerRegistry(services.RegistryConfig{
		LocalID:       localID,
		InviteTimeout: cfg.RTC.InviteTimeout,
		Reconnect: retry.Config{
			Enabled:      cfg.RTC.Reconnect.Enabled,
			MaxAttempts:  cfg.RTC.Reconnect.MaxAttempts,
			InitialDelay: cfg.RTC.Reconnect.InitialDelay,
			MaxDelay:     cfg.RTC.Reconnect.MaxDelay,
			Multiplier:   2,
			Jitter:       true,
		},
	}, factory, media, client, metrics, log)

	drain := webrtcinfra.NewTrackDrain(log)
	registry.SetSinkProvider(drain.Provider())

	orchestrator := services.NewCallOrchestrator(localID, registry, media, log)
	client.SetHandler(orchestrator.HandleSignal)

	if err := orchestrator.Start(ctx); err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return multierr.Append(err, orchestrator.Dispose())
	}

	health := monitoring.NewHealthChecker()
	health.AddRelayCheck(client.Done())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	roster := staticRoster(cfg, localID)
	var room *roomMembership
	if cfg.Redis.Enabled {
		room, err = joinRoom(runCtx, cfg, localID, orchestrator, log)
		if err != nil {
			cancel()
			return multierr.Combine(err, orchestrator.Dispose(), client.Close())
		}
		health.AddRedisCheck(room.client, 2*time.Second)
		roster = room.roster
	}

	go func() {
		if err := orchestrator.StartCall(runCtx, roster); err != nil {
			log.Warnw("some peers could not be reached", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:    cfg.Peer.Address,
		Handler: peerRouter(cfg, orchestrator, drain, health, log),
	}
	go func() {
		log.Infow("peer HTTP server listening", "address", cfg.Peer.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("peer HTTP server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Infow("shutting down", "signal", sig.String())
	case <-client.Done():
		log.Warnw("relay connection lost, shutting down")
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer stop()

	var errs error
	if room != nil {
		errs = multierr.Append(errs, room.leave(shutdownCtx))
	}
	errs = multierr.Combine(errs,
		orchestrator.Dispose(),
		client.Close(),
		srv.Shutdown(shutdownCtx),
		tp.Shutdown(shutdownCtx),
	)
	return errs
}

func staticRoster(cfg *config.Config, localID domain.PeerID) []domain.PeerID {
	roster := make([]domain.PeerID, 0, len(cfg.Peer.Roster))
	for _, id := range cfg.Peer.Roster {
		if domain.PeerID(id) != localID {
			roster = append(roster, domain.PeerID(id))
		}
	}
	return roster
}

// roomMembership is this peer's presence in a Redis backed room.
type roomMembership struct {
	client   *redis.Client
	presence *distributed.RoomPresence
	bus      *distributed.RosterBus
	room     string
	peerID   domain.PeerID
	roster   []domain.PeerID
}

// joinRoom enters the configured room and keeps its roster subscription
// feeding calls.
func joinRoom(ctx context.Context, cfg *config.Config, localID domain.PeerID, calls ports.CallService, log *zap.SugaredLogger) (*roomMembership, error) {
	client, err := distributed.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log)
	if err != nil {
		return nil, err
	}

	m := &roomMembership{
		client:   client,
		presence: distributed.NewRoomPresence(client, 0, log),
		bus:      distributed.NewRosterBus(client, "", log),
		room:     cfg.Peer.Room,
		peerID:   localID,
	}

	roster, done, err := distributed.EnterRoom(ctx, m.bus, m.presence, m.room, localID, calls.HandleRosterEvent, log)
	if err != nil {
		return nil, multierr.Combine(err, m.bus.Close(), client.Close())
	}
	m.roster = roster

	go func() {
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("roster subscription ended", "room", m.room, "error", err)
		}
	}()
	go m.keepPresence(ctx, log)
	return m, nil
}

// keepPresence re-joins periodically so the room set outlives its expiry
// while this peer is up.
func (m *roomMembership) keepPresence(ctx context.Context, log *zap.SugaredLogger) {
	ticker := time.NewTicker(presenceRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.presence.Join(ctx, m.room, m.peerID); err != nil {
				log.Warnw("failed to refresh room presence", "room", m.room, "error", err)
			}
		}
	}
}

func (m *roomMembership) leave(ctx context.Context) error {
	return multierr.Combine(
		m.bus.PublishPeerLeft(ctx, m.room, m.peerID),
		m.presence.Leave(ctx, m.room, m.peerID),
		m.bus.Close(),
		m.client.Close(),
	)
}

func peerRouter(cfg *config.Config, calls ports.CallService, drain *webrtcinfra.TrackDrain, health *monitoring.HealthChecker, log *zap.SugaredLogger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	router.GET("/health", health.Handler())
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	httphandlers.NewCallHandler(calls, drain, domain.PeerID(cfg.Peer.ID), cfg.Peer.Room).SetupRoutes(router)

	return router
}
