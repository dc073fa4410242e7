package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/pkg/circuitbreaker"
	"callmesh/pkg/tracing"
	"callmesh/pkg/validation"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const rosterChannelPrefix = "callmesh:roster:"

// RosterChannel is the pub/sub channel of one call room.
func RosterChannel(room string) string {
	return rosterChannelPrefix + room
}

// RosterMessage is the wire form of a roster event.
type RosterMessage struct {
	Type       ports.RosterEventType `json:"type"`
	Room       string                `json:"room"`
	PeerID     domain.PeerID         `json:"peer_id"`
	InstanceID string                `json:"instance_id"`
	Timestamp  time.Time             `json:"timestamp"`
}

// RosterHandler consumes roster events from other instances.
type RosterHandler func(ctx context.Context, event ports.RosterEvent) error

type rosterClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RosterBus announces joins and leaves of a call room over Redis pub/sub.
// Every process has its own instance id and never consumes its own events.
// Publishes fail fast with circuitbreaker.ErrOpen while Redis keeps failing.
type RosterBus struct {
	client     rosterClient
	instanceID string
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func NewRosterBus(client rosterClient, instanceID string, logger *zap.SugaredLogger) *RosterBus {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig())
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("roster bus breaker changed state", "from", from.String(), "to", to.String())
	})
	return &RosterBus{
		client:     client,
		instanceID: instanceID,
		breaker:    breaker,
		logger:     logger,
	}
}

func (b *RosterBus) InstanceID() string {
	return b.instanceID
}

func (b *RosterBus) Publish(ctx context.Context, event ports.RosterEvent) error {
	if err := validateRosterEvent(event.Type, event.Room, event.Peer); err != nil {
		return err
	}

	data, err := json.Marshal(RosterMessage{
		Type:       event.Type,
		Room:       event.Room,
		PeerID:     event.Peer,
		InstanceID: b.instanceID,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal roster event: %w", err)
	}

	err = b.breaker.Execute(ctx, func(ctx context.Context) error {
		return b.client.Publish(ctx, RosterChannel(event.Room), data).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to publish roster event: %w", err)
	}

	b.logger.Debugw("published roster event",
		"type", event.Type,
		"room", event.Room,
		"peer_id", event.Peer,
	)
	return nil
}

func (b *RosterBus) PublishPeerJoined(ctx context.Context, room string, peerID domain.PeerID) error {
	return b.Publish(ctx, ports.RosterEvent{Type: ports.RosterPeerJoined, Room: room, Peer: peerID})
}

func (b *RosterBus) PublishPeerLeft(ctx context.Context, room string, peerID domain.PeerID) error {
	return b.Publish(ctx, ports.RosterEvent{Type: ports.RosterPeerLeft, Room: room, Peer: peerID})
}

// Listen subscribes to the roster channel of room and returns once Redis has
// confirmed the subscription, so every event published after Listen returns
// reaches handler. Delivery runs in the background until ctx is cancelled or
// Close is called. The returned channel yields the reason delivery stopped
// and is then closed. Handler errors are logged.
func (b *RosterBus) Listen(ctx context.Context, room string, handler RosterHandler) (<-chan error, error) {
	if err := validation.ValidateRoom(room); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.pubsub != nil {
		b.mu.Unlock()
		return nil, errors.New("roster bus already subscribed")
	}
	pubsub := b.client.Subscribe(ctx, RosterChannel(room))
	b.pubsub = pubsub
	b.mu.Unlock()

	// the first reply is the subscribe confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		b.mu.Lock()
		b.pubsub = nil
		b.mu.Unlock()
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to roster: %w", err)
	}
	b.logger.Infow("subscribed to roster", "room", room, "instance_id", b.instanceID)

	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- b.consume(ctx, pubsub, handler)
	}()
	return done, nil
}

func (b *RosterBus) consume(ctx context.Context, pubsub *redis.PubSub, handler RosterHandler) error {
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.dispatch(ctx, msg.Payload, handler)
		}
	}
}

// dispatch decodes one payload and hands it to handler unless it came from
// this instance.
func (b *RosterBus) dispatch(ctx context.Context, payload string, handler RosterHandler) {
	var msg RosterMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		b.logger.Warnw("failed to unmarshal roster event", "error", err, "payload", payload)
		return
	}
	if msg.InstanceID == b.instanceID {
		return
	}
	if err := validateRosterEvent(msg.Type, msg.Room, msg.PeerID); err != nil {
		b.logger.Warnw("invalid roster event", "error", err, "instance_id", msg.InstanceID)
		return
	}

	ctx, span := tracing.TraceRoster(ctx, string(msg.Type), msg.Room, string(msg.PeerID))
	defer span.End()

	event := ports.RosterEvent{Type: msg.Type, Room: msg.Room, Peer: msg.PeerID}
	if err := handler(ctx, event); err != nil {
		span.RecordError(err)
		b.logger.Warnw("error handling roster event",
			"type", msg.Type,
			"peer_id", msg.PeerID,
			"error", err,
		)
	}
}

func validateRosterEvent(eventType ports.RosterEventType, room string, peerID domain.PeerID) error {
	switch eventType {
	case ports.RosterPeerJoined, ports.RosterPeerLeft:
	default:
		return fmt.Errorf("unknown roster event type %q", eventType)
	}
	if err := validation.ValidateRoom(room); err != nil {
		return err
	}
	return validation.ValidatePeerID(string(peerID))
}

func (b *RosterBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
