package distributed

import (
	"context"
	"fmt"
	"sort"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/pkg/validation"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	roomPeersPrefix = "callmesh:room:"
	defaultRoomTTL  = 10 * time.Minute
)

type presenceClient interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RoomPresence keeps the member set of each call room in Redis. A joining
// peer reads it to build the roster it calls.
type RoomPresence struct {
	client presenceClient
	ttl    time.Duration
	logger *zap.SugaredLogger
}

func NewRoomPresence(client presenceClient, ttl time.Duration, logger *zap.SugaredLogger) *RoomPresence {
	if ttl <= 0 {
		ttl = defaultRoomTTL
	}
	return &RoomPresence{client: client, ttl: ttl, logger: logger}
}

func roomKey(room string) string {
	return roomPeersPrefix + room + ":peers"
}

// Join adds peerID to room and refreshes the set's expiry.
func (p *RoomPresence) Join(ctx context.Context, room string, peerID domain.PeerID) error {
	if err := validation.ValidateRoom(room); err != nil {
		return err
	}
	if err := validation.ValidatePeerID(string(peerID)); err != nil {
		return err
	}

	key := roomKey(room)
	if err := p.client.SAdd(ctx, key, string(peerID)).Err(); err != nil {
		return fmt.Errorf("failed to add peer to room: %w", err)
	}
	if err := p.client.Expire(ctx, key, p.ttl).Err(); err != nil {
		p.logger.Warnw("failed to refresh room expiry", "room", room, "error", err)
	}
	return nil
}

func (p *RoomPresence) Leave(ctx context.Context, room string, peerID domain.PeerID) error {
	if err := p.client.SRem(ctx, roomKey(room), string(peerID)).Err(); err != nil {
		return fmt.Errorf("failed to remove peer from room: %w", err)
	}
	return nil
}

// Members returns the room's peers sorted by id.
func (p *RoomPresence) Members(ctx context.Context, room string) ([]domain.PeerID, error) {
	ids, err := p.client.SMembers(ctx, roomKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list room members: %w", err)
	}

	sort.Strings(ids)
	peers := make([]domain.PeerID, 0, len(ids))
	for _, id := range ids {
		peers = append(peers, domain.PeerID(id))
	}
	return peers, nil
}
