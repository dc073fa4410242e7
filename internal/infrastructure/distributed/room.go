package distributed

import (
	"context"
	"fmt"

	"callmesh/internal/core/domain"

	"go.uber.org/zap"
)

type roomBus interface {
	Listen(ctx context.Context, room string, handler RosterHandler) (<-chan error, error)
	PublishPeerJoined(ctx context.Context, room string, peerID domain.PeerID) error
}

type roomDirectory interface {
	Join(ctx context.Context, room string, peerID domain.PeerID) error
	Members(ctx context.Context, room string) ([]domain.PeerID, error)
}

// EnterRoom makes peerID a member of room and returns the other members.
//
// Roster events are listened to before presence is registered and the member
// set is read only after that, so a peer entering at the same time is either
// in the returned roster or delivered to handler, possibly both. The join is
// announced last. On error the caller still owns bus and closes it.
func EnterRoom(
	ctx context.Context,
	bus roomBus,
	directory roomDirectory,
	room string,
	peerID domain.PeerID,
	handler RosterHandler,
	logger *zap.SugaredLogger,
) ([]domain.PeerID, <-chan error, error) {
	done, err := bus.Listen(ctx, room, handler)
	if err != nil {
		return nil, nil, err
	}

	if err := directory.Join(ctx, room, peerID); err != nil {
		return nil, nil, fmt.Errorf("failed to join room %s: %w", room, err)
	}

	members, err := directory.Members(ctx, room)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list room %s: %w", room, err)
	}
	roster := make([]domain.PeerID, 0, len(members))
	for _, member := range members {
		if member != peerID {
			roster = append(roster, member)
		}
	}

	if err := bus.PublishPeerJoined(ctx, room, peerID); err != nil {
		logger.Warnw("failed to announce join", "room", room, "error", err)
	}

	logger.Infow("entered room",
		"room", room,
		"peer_id", peerID,
		"members", len(roster),
	)
	return roster, done, nil
}
