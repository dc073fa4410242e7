package webrtc

import (
	"errors"
	"fmt"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/rtcerr"
	"go.uber.org/zap"
)

// Config holds the peer connection settings shared by every peer.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	// LogLevel is the floor for pion's internal logs; empty means warn.
	LogLevel string
}

// PeerConnectionFactory builds pion peer connections from one shared API.
type PeerConnectionFactory struct {
	config Config
	api    *webrtc.API
	logger *zap.SugaredLogger
}

func NewPeerConnectionFactory(config Config, logger *zap.SugaredLogger) *PeerConnectionFactory {
	settingEngine := webrtc.SettingEngine{
		LoggerFactory: newZapLoggerFactory(logger, config.LogLevel),
	}
	if config.PortRange.Min > 0 && config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(config.PortRange.Min, config.PortRange.Max); err != nil {
			logger.Warnw("ignoring invalid UDP port range",
				"min", config.PortRange.Min,
				"max", config.PortRange.Max,
				"error", err,
			)
		}
	}

	return &PeerConnectionFactory{
		config: config,
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		logger: logger,
	}
}

func (f *PeerConnectionFactory) NewPeerConnection(peerID domain.PeerID) (ports.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   f.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return &peerConnection{
		peerID: peerID,
		pc:     pc,
		logger: f.logger.With("peer_id", peerID),
	}, nil
}

// peerConnection adapts *webrtc.PeerConnection to ports.PeerConnection.
type peerConnection struct {
	peerID domain.PeerID
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger
}

func (p *peerConnection) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
}

func (p *peerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *peerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *peerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

// Rollback returns to stable. pion rejects an empty SDP here, so the pending
// offer's SDP is passed along.
func (p *peerConnection) Rollback() error {
	pending := p.pc.PendingLocalDescription()
	if pending == nil {
		return nil
	}
	return p.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeRollback,
		SDP:  pending.SDP,
	})
}

func (p *peerConnection) RemoteDescription() *webrtc.SessionDescription {
	return p.pc.RemoteDescription()
}

// AddICECandidate classifies binding failures so callers can tell a
// candidate that arrived too early from a broken one.
func (p *peerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	err := p.pc.AddICECandidate(candidate)
	if err == nil {
		return nil
	}
	return classifyICEError(err)
}

func classifyICEError(err error) error {
	kind := domain.ICEErrorOther
	var stateErr *rtcerr.InvalidStateError
	if errors.Is(err, webrtc.ErrNoRemoteDescription) ||
		(errors.As(err, &stateErr) && errors.Is(stateErr.Err, webrtc.ErrNoRemoteDescription)) {
		kind = domain.ICEErrorRemoteDescriptionNotSet
	}
	return &domain.ICEError{Kind: kind, Err: err}
}

// AddTrack attaches a local track and drains the sender's RTCP, without
// which pion never runs its interceptors.
func (p *peerConnection) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return err
	}

	go drainSenderRTCP(p.logger, track.ID(), sender)
	return nil
}

func (p *peerConnection) ICEConnectionState() webrtc.ICEConnectionState {
	return p.pc.ICEConnectionState()
}

func (p *peerConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if candidate == nil {
			p.logger.Debugw("ICE gathering complete")
			return
		}
		fn(candidate.ToJSON())
	})
}

func (p *peerConnection) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	p.pc.OnICEConnectionStateChange(fn)
}

func (p *peerConnection) OnTrack(fn func(domain.RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.logger.Infow("remote track started",
			"track_id", track.ID(),
			"stream_id", track.StreamID(),
			"codec", track.Codec().MimeType,
		)

		go watchReceiverRTCP(p.logger, track.ID(), receiver)

		fn(domain.RemoteTrack{
			Peer:     p.peerID,
			TrackID:  track.ID(),
			StreamID: track.StreamID(),
			Kind:     track.Kind(),
			Track:    track,
		})
	})
}

func (p *peerConnection) OnNegotiationNeeded(fn func()) {
	p.pc.OnNegotiationNeeded(fn)
}

func (p *peerConnection) Close() error {
	return p.pc.Close()
}
