package domain

import (
	"fmt"

	"github.com/pion/webrtc/v3"
)

type PeerID string

// Polite reports whether local yields to remote when both sides send an
// offer at once. The peer whose id sorts lower is polite, so exactly one
// side of every pair backs off.
func Polite(local, remote PeerID) bool {
	return local < remote
}

// NegotiationState tracks where a peer sits in the offer/answer cycle.
type NegotiationState int

const (
	StateIdle NegotiationState = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateHaveLocalAnswer
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

func (s NegotiationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateHaveLocalAnswer:
		return "have-local-answer"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal states accept no transition except Closed.
var transitions = map[NegotiationState][]NegotiationState{
	StateIdle:            {StateHaveLocalOffer, StateHaveRemoteOffer},
	StateHaveLocalOffer:  {StateConnecting, StateConnected, StateHaveRemoteOffer},
	StateHaveRemoteOffer: {StateHaveLocalAnswer},
	StateHaveLocalAnswer: {StateConnecting, StateConnected},
	StateConnecting:      {StateConnected, StateHaveLocalOffer, StateHaveRemoteOffer},
	StateConnected:       {StateHaveLocalOffer, StateHaveRemoteOffer, StateConnecting},
	StateFailed:          {StateHaveLocalOffer, StateHaveRemoteOffer},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to NegotiationState) bool {
	if from == StateClosed {
		return false
	}
	if to == StateClosed {
		return true
	}
	if to == StateFailed {
		return from != StateFailed
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns ErrInvalidTransition otherwise.
func Transition(from, to NegotiationState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsEstablished reports whether the ICE transport carries media.
func IsEstablished(state webrtc.ICEConnectionState) bool {
	return state == webrtc.ICEConnectionStateConnected || state == webrtc.ICEConnectionStateCompleted
}

const (
	StatusConnecting  = "connecting"
	StatusEstablished = "established"
	StatusFailed      = "failed"
)

// CallStatus is the per-peer connection readout shown to the user.
type CallStatus struct {
	Peer        PeerID
	ICEState    webrtc.ICEConnectionState
	Negotiation NegotiationState
	Waiting     bool
	Text        string
}

// NewCallStatus collapses ICE and negotiation state into the three user
// facing readouts.
func NewCallStatus(peer PeerID, ice webrtc.ICEConnectionState, negotiation NegotiationState) CallStatus {
	status := CallStatus{Peer: peer, ICEState: ice, Negotiation: negotiation}
	switch {
	case IsEstablished(ice):
		status.Text = StatusEstablished
	case ice == webrtc.ICEConnectionStateFailed,
		ice == webrtc.ICEConnectionStateClosed,
		negotiation == StateFailed,
		negotiation == StateClosed:
		status.Text = StatusFailed
	default:
		status.Text = StatusConnecting
		status.Waiting = true
	}
	return status
}
