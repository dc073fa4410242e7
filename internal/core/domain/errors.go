package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPeerNotFound        = errors.New("peer not found")
	ErrSelfInvite          = errors.New("cannot invite local identity")
	ErrRegistryClosed      = errors.New("peer registry closed")
	ErrNegotiationTimeout  = errors.New("negotiation timed out")
	ErrConnectionClosed    = errors.New("connection closed")
	ErrInvalidTransition   = errors.New("invalid negotiation transition")
	ErrUnknownSignalType   = errors.New("unknown signal type")
	ErrMalformedSignal     = errors.New("malformed signal")
	ErrMisaddressedSignal  = errors.New("signal not addressed to local peer")
	ErrCaptureUnavailable  = errors.New("capture unavailable")
	ErrTransportNotStarted = errors.New("signaling transport not started")
)

// ICEErrorKind classifies failures reported by the platform binding when a
// remote candidate is applied.
type ICEErrorKind int

const (
	ICEErrorOther ICEErrorKind = iota
	// ICEErrorRemoteDescriptionNotSet means the candidate arrived before the
	// remote description. The caller queues the candidate instead of failing.
	ICEErrorRemoteDescriptionNotSet
)

func (k ICEErrorKind) String() string {
	switch k {
	case ICEErrorRemoteDescriptionNotSet:
		return "remote-description-not-set"
	default:
		return "other"
	}
}

// ICEError is returned by PeerConnection.AddICECandidate implementations.
type ICEError struct {
	Kind ICEErrorKind
	Err  error
}

func (e *ICEError) Error() string {
	return fmt.Sprintf("ice candidate rejected (%s): %v", e.Kind, e.Err)
}

func (e *ICEError) Unwrap() error {
	return e.Err
}

// IsRemoteDescriptionNotSet reports whether err carries the
// ICEErrorRemoteDescriptionNotSet classification anywhere in its chain.
func IsRemoteDescriptionNotSet(err error) bool {
	var iceErr *ICEError
	if errors.As(err, &iceErr) {
		return iceErr.Kind == ICEErrorRemoteDescriptionNotSet
	}
	return false
}
