package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/infrastructure/middleware"
	apperrors "callmesh/pkg/errors"
	"callmesh/pkg/tracing"
	"callmesh/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Drop reasons reported to RelayMetrics.
const (
	DropRateLimited = "rate_limited"
	DropMalformed   = "malformed"
	DropSpoofed     = "sender_mismatch"
	DropOffline     = "target_offline"
	DropTooLarge    = "too_large"
	DropWriteFailed = "write_failed"
)

// RelayMetrics receives relay routing events.
type RelayMetrics interface {
	MessageRouted(signalType string)
	MessageDropped(reason string)
	ConnectionsChanged(count int)
}

type nopRelayMetrics struct{}

func (nopRelayMetrics) MessageRouted(string)   {}
func (nopRelayMetrics) MessageDropped(string)  {}
func (nopRelayMetrics) ConnectionsChanged(int) {}

type RelayConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64

	// Zero MessagesPerSecond disables per-connection limiting.
	MessagesPerSecond float64
	Burst             int
}

// RelayServer forwards signaling envelopes between websocket clients keyed
// by peer id. Payloads are forwarded byte for byte; the relay only checks
// that senderId is the identity of the connection it arrived on.
type RelayServer struct {
	config   RelayConfig
	upgrader websocket.Upgrader
	metrics  RelayMetrics
	logger   *zap.SugaredLogger

	mu          sync.RWMutex
	connections map[domain.PeerID]*relayConn
}

type relayConn struct {
	peerID       domain.PeerID
	conn         *websocket.Conn
	limiter      *rate.Limiter
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (c *relayConn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *relayConn) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func NewRelayServer(config RelayConfig, metrics RelayMetrics, logger *zap.SugaredLogger) *RelayServer {
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.PongTimeout <= config.PingInterval {
		config.PongTimeout = 2 * config.PingInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if metrics == nil {
		metrics = nopRelayMetrics{}
	}

	return &RelayServer{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Peers connect from web origins and headless processes alike;
			// identity comes from the token, not the origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		metrics:     metrics,
		logger:      logger,
		connections: make(map[domain.PeerID]*relayConn),
	}
}

// HandleWebSocket upgrades GET /ws. The peer id is the token subject when
// AuthMiddleware ran, the peer_id query value otherwise.
func (s *RelayServer) HandleWebSocket(c *gin.Context) {
	peerID, err := resolvePeerID(c)
	if err != nil {
		_ = c.Error(err)
		c.Abort()
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "peer_id", peerID, "error", err)
		return
	}

	rc := &relayConn{
		peerID:       peerID,
		conn:         conn,
		writeTimeout: s.config.WriteTimeout,
	}
	if s.config.MessagesPerSecond > 0 {
		rc.limiter = rate.NewLimiter(rate.Limit(s.config.MessagesPerSecond), s.config.Burst)
	}
	if s.config.MaxMessageSize > 0 {
		conn.SetReadLimit(s.config.MaxMessageSize)
	}

	reconnect := s.register(rc)
	s.logger.Infow("peer connected to relay", "peer_id", peerID, "reconnect", reconnect)

	s.serve(c.Request.Context(), rc)

	s.unregister(rc)
	s.logger.Infow("peer disconnected from relay", "peer_id", peerID)
}

func resolvePeerID(c *gin.Context) (domain.PeerID, error) {
	requested := c.Query("peer_id")

	if v, ok := c.Get(middleware.PeerIDKey); ok {
		authenticated, _ := v.(domain.PeerID)
		if requested != "" && domain.PeerID(requested) != authenticated {
			return "", apperrors.Forbidden("peer_id does not match token subject").
				With("peer_id", requested)
		}
		return authenticated, nil
	}

	if err := validation.ValidatePeerID(requested); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInvalidInput, "invalid peer_id")
	}
	return domain.PeerID(requested), nil
}

// register replaces any previous connection of the same peer.
func (s *RelayServer) register(rc *relayConn) bool {
	s.mu.Lock()
	old, exists := s.connections[rc.peerID]
	s.connections[rc.peerID] = rc
	count := len(s.connections)
	s.mu.Unlock()

	if exists {
		s.logger.Infow("closing old connection for reconnecting peer", "peer_id", rc.peerID)
		old.conn.Close()
	}
	s.metrics.ConnectionsChanged(count)
	return exists
}

func (s *RelayServer) unregister(rc *relayConn) {
	s.mu.Lock()
	if current, ok := s.connections[rc.peerID]; ok && current == rc {
		delete(s.connections, rc.peerID)
	}
	count := len(s.connections)
	s.mu.Unlock()

	rc.conn.Close()
	s.metrics.ConnectionsChanged(count)
}

func (s *RelayServer) serve(ctx context.Context, rc *relayConn) {
	conn := rc.conn
	conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.config.PingInterval)
	defer pingTicker.Stop()

	messages := make(chan []byte, 16)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
			select {
			case messages <- data:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case data := <-messages:
			if err := s.route(ctx, rc, data); err != nil {
				s.logger.Infow("rejected message from peer", "peer_id", rc.peerID, "error", err)
				s.sendError(rc, err)
			}

		case <-pingTicker.C:
			if err := rc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteTimeout)); err != nil {
				s.logger.Infow("error sending ping", "peer_id", rc.peerID, "error", err)
				return
			}

		case err := <-readErr:
			if errors.Is(err, websocket.ErrReadLimit) {
				s.metrics.MessageDropped(DropTooLarge)
				s.logger.Warnw("peer exceeded message size limit",
					"peer_id", rc.peerID,
					"limit", s.config.MaxMessageSize,
				)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading message from peer", "peer_id", rc.peerID, "error", err)
			}
			return
		}
	}
}

// route checks one envelope from rc and forwards it unchanged to its target.
func (s *RelayServer) route(ctx context.Context, from *relayConn, data []byte) error {
	if from.limiter != nil && !from.limiter.Allow() {
		s.metrics.MessageDropped(DropRateLimited)
		return apperrors.RateLimited()
	}

	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.metrics.MessageDropped(DropMalformed)
		return apperrors.Wrap(err, apperrors.CodeInvalidInput, "envelope is not valid JSON")
	}
	if env.SenderID != from.peerID {
		s.metrics.MessageDropped(DropSpoofed)
		return apperrors.Forbidden("senderId does not match connection").
			With("sender_id", env.SenderID)
	}
	if _, err := env.Signal(); err != nil {
		s.metrics.MessageDropped(DropMalformed)
		return apperrors.Wrap(err, apperrors.CodeInvalidInput, err.Error())
	}

	_, span := tracing.TraceSignal(ctx, string(env.Type), string(env.SenderID), string(env.TargetID))
	defer span.End()

	s.mu.RLock()
	target, ok := s.connections[env.TargetID]
	s.mu.RUnlock()
	if !ok {
		s.metrics.MessageDropped(DropOffline)
		err := apperrors.NotFound("target peer").With("target_id", env.TargetID)
		span.RecordError(err)
		return err
	}

	if err := target.write(websocket.TextMessage, data); err != nil {
		s.metrics.MessageDropped(DropWriteFailed)
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeUnavailable, "target peer unreachable").
			With("target_id", env.TargetID)
	}

	s.metrics.MessageRouted(string(env.Type))
	s.logger.Debugw("routed signal",
		"from_peer", env.SenderID,
		"to_peer", env.TargetID,
		"type", env.Type,
		"size", len(data),
	)
	return nil
}

// errorFrame is sent back to a client whose message was rejected.
type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *RelayServer) sendError(rc *relayConn, err error) {
	appErr := apperrors.From(err)
	frame := errorFrame{Type: "error", Code: string(appErr.Code), Message: appErr.Message}
	if werr := rc.writeJSON(frame); werr != nil {
		s.logger.Debugw("error frame not delivered", "peer_id", rc.peerID, "error", werr)
	}
}

func (s *RelayServer) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.ConnectionCount(),
	})
}

func (s *RelayServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *RelayServer) IsPeerConnected(peerID domain.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.connections[peerID]
	return exists
}

// Close sends a going-away frame to every peer and drops the connections.
func (s *RelayServer) Close() {
	s.mu.Lock()
	conns := make([]*relayConn, 0, len(s.connections))
	for _, rc := range s.connections {
		conns = append(conns, rc)
	}
	s.mu.Unlock()

	deadline := time.Now().Add(s.config.WriteTimeout)
	for _, rc := range conns {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down")
		_ = rc.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		rc.conn.Close()
	}
}
