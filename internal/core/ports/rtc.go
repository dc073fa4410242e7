package ports

import (
	"context"
	"time"

	"callmesh/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// PeerConnection is the platform binding for one native peer connection.
// AddICECandidate must report a missing remote description as a
// *domain.ICEError of kind ICEErrorRemoteDescriptionNotSet.
type PeerConnection interface {
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	// Rollback discards a pending local offer.
	Rollback() error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) error
	ICEConnectionState() webrtc.ICEConnectionState

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnICEConnectionStateChange(func(webrtc.ICEConnectionState))
	OnTrack(func(domain.RemoteTrack))
	OnNegotiationNeeded(func())

	Close() error
}

type PeerConnectionFactory interface {
	NewPeerConnection(peerID domain.PeerID) (PeerConnection, error)
}

// SignalingTransport delivers signals to remote peers through the relay.
type SignalingTransport interface {
	SendToPeer(ctx context.Context, target domain.PeerID, signal domain.Signal) error
}

// MediaSource hands out the shared local stream.
type MediaSource interface {
	Acquire(ctx context.Context) (*domain.LocalStream, error)
	Close() error
}

// Capturer produces a real capture stream. Failures make the media source
// fall back to synthetic tracks.
type Capturer interface {
	Capture(ctx context.Context) (*domain.LocalStream, error)
}

// TrackSink renders remote media for one peer (a video element in the web
// client, a recorder or a mixer in a headless peer).
type TrackSink interface {
	AttachRemoteTrack(track domain.RemoteTrack)
}

// SinkProvider looks up the sink for a peer. ok=false means the sink is not
// ready yet and the track event is dropped.
type SinkProvider func(peerID domain.PeerID) (sink TrackSink, ok bool)

// CallMetrics receives negotiation and candidate events.
type CallMetrics interface {
	PeerAdded()
	PeerRemoved()
	ObserveNegotiation(role string, duration time.Duration, err error)
	ICEStateChanged(state webrtc.ICEConnectionState)
	LocalCandidateForwarded()
	LocalCandidateDuplicate()
	RemoteCandidateApplied()
	RemoteCandidateQueued()
	RemoteCandidateFlushed(err error)
}
