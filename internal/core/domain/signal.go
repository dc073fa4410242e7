package domain

import (
	"encoding/json"
	"fmt"

	"callmesh/pkg/validation"

	"github.com/pion/webrtc/v3"
)

// SignalType represents the type of WebRTC signaling message
type SignalType string

const (
	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "candidate"

	// legacyCandidateType is what older web clients put on the wire.
	legacyCandidateType SignalType = "newIceCandidate"
)

// Envelope is the JSON shape relayed between peers.
type Envelope struct {
	SenderID  PeerID                     `json:"senderId"`
	TargetID  PeerID                     `json:"targetId"`
	Type      SignalType                 `json:"type"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Signal is one of Offer, Answer or Candidate.
type Signal interface {
	Sender() PeerID
	Target() PeerID
	Type() SignalType
	Envelope() Envelope
	isSignal()
}

type Offer struct {
	From, To PeerID
	SDP      webrtc.SessionDescription
}

type Answer struct {
	From, To PeerID
	SDP      webrtc.SessionDescription
}

type Candidate struct {
	From, To  PeerID
	Candidate webrtc.ICECandidateInit
}

func (o Offer) Sender() PeerID    { return o.From }
func (o Offer) Target() PeerID    { return o.To }
func (o Offer) Type() SignalType  { return SignalTypeOffer }
func (o Offer) isSignal()         {}
func (a Answer) Sender() PeerID   { return a.From }
func (a Answer) Target() PeerID   { return a.To }
func (a Answer) Type() SignalType { return SignalTypeAnswer }
func (a Answer) isSignal()        {}

func (c Candidate) Sender() PeerID   { return c.From }
func (c Candidate) Target() PeerID   { return c.To }
func (c Candidate) Type() SignalType { return SignalTypeCandidate }
func (c Candidate) isSignal()        {}

func (o Offer) Envelope() Envelope {
	sdp := o.SDP
	return Envelope{SenderID: o.From, TargetID: o.To, Type: SignalTypeOffer, SDP: &sdp}
}

func (a Answer) Envelope() Envelope {
	sdp := a.SDP
	return Envelope{SenderID: a.From, TargetID: a.To, Type: SignalTypeAnswer, SDP: &sdp}
}

func (c Candidate) Envelope() Envelope {
	cand := c.Candidate
	return Envelope{SenderID: c.From, TargetID: c.To, Type: SignalTypeCandidate, Candidate: &cand}
}

// EncodeSignal marshals a signal into its wire envelope.
func EncodeSignal(s Signal) ([]byte, error) {
	return json.Marshal(s.Envelope())
}

// DecodeSignal parses and validates a wire envelope. Unknown types are
// rejected with ErrUnknownSignalType.
func DecodeSignal(data []byte) (Signal, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}
	return env.Signal()
}

// Signal converts a decoded envelope into its typed form.
func (e Envelope) Signal() (Signal, error) {
	if err := validation.ValidatePeerID(string(e.SenderID)); err != nil {
		return nil, fmt.Errorf("%w: senderId: %v", ErrMalformedSignal, err)
	}
	if err := validation.ValidatePeerID(string(e.TargetID)); err != nil {
		return nil, fmt.Errorf("%w: targetId: %v", ErrMalformedSignal, err)
	}

	switch e.Type {
	case SignalTypeOffer:
		sdp, err := e.requireSDP(webrtc.SDPTypeOffer)
		if err != nil {
			return nil, err
		}
		return Offer{From: e.SenderID, To: e.TargetID, SDP: sdp}, nil
	case SignalTypeAnswer:
		sdp, err := e.requireSDP(webrtc.SDPTypeAnswer)
		if err != nil {
			return nil, err
		}
		return Answer{From: e.SenderID, To: e.TargetID, SDP: sdp}, nil
	case SignalTypeCandidate, legacyCandidateType:
		if e.Candidate == nil {
			return nil, fmt.Errorf("%w: candidate signal without candidate", ErrMalformedSignal)
		}
		return Candidate{From: e.SenderID, To: e.TargetID, Candidate: *e.Candidate}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignalType, e.Type)
	}
}

func (e Envelope) requireSDP(want webrtc.SDPType) (webrtc.SessionDescription, error) {
	if e.SDP == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s without sdp", ErrMalformedSignal, e.Type)
	}
	if e.SDP.Type != want {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s carries sdp of type %s", ErrMalformedSignal, e.Type, e.SDP.Type)
	}
	if err := validation.ValidateSDP(e.SDP.SDP); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}
	return *e.SDP, nil
}

// CandidateFingerprint identifies a physical candidate as
// sdpMid:sdpMLineIndex:candidate.
func CandidateFingerprint(c webrtc.ICECandidateInit) string {
	mid := ""
	if c.SDPMid != nil {
		mid = *c.SDPMid
	}
	index := ""
	if c.SDPMLineIndex != nil {
		index = fmt.Sprintf("%d", *c.SDPMLineIndex)
	}
	return mid + ":" + index + ":" + c.Candidate
}
