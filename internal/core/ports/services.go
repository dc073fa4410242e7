package ports

import (
	"context"

	"callmesh/internal/core/domain"
)

// RosterEventType marks a participant joining or leaving a call room.
type RosterEventType string

const (
	RosterPeerJoined RosterEventType = "peer.joined"
	RosterPeerLeft   RosterEventType = "peer.left"
)

type RosterEvent struct {
	Type RosterEventType
	Room string
	Peer domain.PeerID
}

// CallService is the call orchestrator as seen by transports and buses.
type CallService interface {
	StartCall(ctx context.Context, roster []domain.PeerID) error
	HandleSignal(ctx context.Context, raw []byte) error
	HandleRosterEvent(ctx context.Context, event RosterEvent) error
	Status(peerID domain.PeerID) (domain.CallStatus, bool)
	Statuses() []domain.CallStatus
}

// PeerRegistry owns one peer connection per remote peer.
type PeerRegistry interface {
	Invite(ctx context.Context, peerID domain.PeerID) error
	AcceptOffer(ctx context.Context, offer domain.Offer) error
	AcceptAnswer(ctx context.Context, answer domain.Answer) error
	AddRemoteCandidate(ctx context.Context, candidate domain.Candidate) error
	Remove(peerID domain.PeerID) error
	Peers() []domain.PeerID
	Status(peerID domain.PeerID) (domain.CallStatus, bool)
	Close() error
}
