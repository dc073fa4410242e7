package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/pkg/retry"
	"callmesh/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler receives every inbound envelope, in arrival order.
type Handler func(ctx context.Context, raw []byte) error

type ClientConfig struct {
	URL          string
	PeerID       domain.PeerID
	Token        string
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	Dial         retry.Config
}

// Client is the websocket SignalingTransport of one peer.
type Client struct {
	config ClientConfig
	dialer *websocket.Dialer
	logger *zap.SugaredLogger

	mu      sync.Mutex
	conn    *websocket.Conn
	handler Handler
	closed  bool

	writeMu sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewClient(config ClientConfig, logger *zap.SugaredLogger) *Client {
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.PongTimeout <= config.PingInterval {
		config.PongTimeout = 2 * config.PingInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	return &Client{
		config: config,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger.With("peer_id", config.PeerID),
		done:   make(chan struct{}),
	}
}

// SetHandler installs the inbound handler. It must be called before Connect.
func (c *Client) SetHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return "", fmt.Errorf("invalid signal url: %w", err)
	}
	q := u.Query()
	q.Set("peer_id", string(c.config.PeerID))
	if c.config.Token != "" {
		q.Set("token", c.config.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the relay, retrying per config.Dial, and starts the read
// and keepalive loops. The loops stop on Close or when the relay goes away;
// Done reports the latter.
func (c *Client) Connect(ctx context.Context) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	conn, err := retry.DoValue(ctx, c.config.Dial, func(attempt int) (*websocket.Conn, error) {
		conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			// 4xx from the relay is a rejected identity, not a transient fault
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, retry.Permanent(fmt.Errorf("relay rejected connection: %s", resp.Status))
			}
			c.logger.Infow("dialing relay failed", "url", c.config.URL, "attempt", attempt, "error", err)
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	c.mu.Lock()
	if c.closed || c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		return errors.New("signal client already connected or closed")
	}
	c.conn = conn
	handler := c.handler
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.config.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	c.logger.Infow("connected to relay", "url", c.config.URL)

	c.wg.Add(2)
	go c.readLoop(conn, handler)
	go c.pingLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, handler Handler) {
	defer c.wg.Done()
	defer close(c.done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warnw("relay connection lost", "error", err)
			} else {
				c.logger.Infow("relay connection closed", "error", err)
			}
			return
		}

		if frame, ok := relayError(data); ok {
			c.logger.Warnw("relay rejected message", "code", frame.Code, "message", frame.Message)
			continue
		}
		if handler == nil {
			continue
		}
		if err := handler(context.Background(), data); err != nil {
			c.logger.Warnw("inbound signal failed", "error", err)
		}
	}
}

func relayError(data []byte) (errorFrame, bool) {
	var frame errorFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "error" {
		return errorFrame{}, false
	}
	return frame, true
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout)); err != nil {
				c.logger.Infow("error sending ping", "error", err)
				return
			}
		}
	}
}

// SendToPeer writes one envelope addressed to target.
func (c *Client) SendToPeer(ctx context.Context, target domain.PeerID, signal domain.Signal) error {
	if signal.Target() != target {
		return fmt.Errorf("%w: signal for %s sent to %s", domain.ErrMisaddressedSignal, signal.Target(), target)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ErrTransportNotStarted
	}

	_, span := tracing.TraceSignal(ctx, string(signal.Type()), string(signal.Sender()), string(target))
	defer span.End()

	data, err := domain.EncodeSignal(signal)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to encode %s: %w", signal.Type(), err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to send %s to %s: %w", signal.Type(), target, err)
	}
	return nil
}

// Done is closed once the read loop has stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close sends a normal closure and waits for the loops.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.config.WriteTimeout))
	err := conn.Close()
	c.wg.Wait()
	return err
}
