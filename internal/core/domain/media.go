package domain

import "github.com/pion/webrtc/v3"

// LocalStream is the single capture handle shared by every peer connection.
type LocalStream struct {
	ID     string
	Tracks []webrtc.TrackLocal
	// Synthetic is set when capture failed and placeholder tracks were
	// generated instead.
	Synthetic bool
}

// TrackIDs lists the ids of the stream's tracks in attach order.
func (s *LocalStream) TrackIDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Tracks))
	for _, t := range s.Tracks {
		ids = append(ids, t.ID())
	}
	return ids
}

// RemoteTrack is a track received from a peer, routed to that peer's sink.
type RemoteTrack struct {
	Peer     PeerID
	TrackID  string
	StreamID string
	Kind     webrtc.RTPCodecType
	Track    *webrtc.TrackRemote
}
