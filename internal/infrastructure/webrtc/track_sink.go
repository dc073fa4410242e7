package webrtc

import (
	"sync"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

// TrackDrain is the remote media sink of a headless peer: it reads every
// remote track to completion and counts packets per peer.
type TrackDrain struct {
	logger *zap.SugaredLogger

	mu      sync.Mutex
	packets map[domain.PeerID]uint64
	tracks  map[domain.PeerID]int
}

func NewTrackDrain(logger *zap.SugaredLogger) *TrackDrain {
	return &TrackDrain{
		logger:  logger,
		packets: make(map[domain.PeerID]uint64),
		tracks:  make(map[domain.PeerID]int),
	}
}

// Provider returns a SinkProvider that routes every peer to the drain.
func (d *TrackDrain) Provider() ports.SinkProvider {
	return func(domain.PeerID) (ports.TrackSink, bool) {
		return d, true
	}
}

func (d *TrackDrain) AttachRemoteTrack(track domain.RemoteTrack) {
	d.mu.Lock()
	d.tracks[track.Peer]++
	d.mu.Unlock()

	if track.Track == nil {
		return
	}
	go d.consume(track)
}

func (d *TrackDrain) consume(track domain.RemoteTrack) {
	buf := make([]byte, 1500)
	packet := &rtp.Packet{}
	var count uint64

	for {
		n, _, err := track.Track.Read(buf)
		if err != nil {
			d.logger.Infow("remote track ended",
				"peer_id", track.Peer,
				"track_id", track.TrackID,
				"packets", count,
			)
			return
		}

		if err := packet.Unmarshal(buf[:n]); err != nil {
			d.logger.Warnw("error unmarshaling RTP packet",
				"peer_id", track.Peer,
				"track_id", track.TrackID,
				"error", err,
			)
			continue
		}

		count++
		d.record(track.Peer)

		if count%500 == 0 {
			d.logger.Debugw("receiving remote media",
				"peer_id", track.Peer,
				"track_id", track.TrackID,
				"sequence", packet.SequenceNumber,
				"packets", count,
			)
		}
	}
}

func (d *TrackDrain) record(peerID domain.PeerID) {
	d.mu.Lock()
	d.packets[peerID]++
	d.mu.Unlock()
}

// Packets returns how many RTP packets arrived from peerID.
func (d *TrackDrain) Packets(peerID domain.PeerID) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.packets[peerID]
}

// Tracks returns how many remote tracks peerID attached.
func (d *TrackDrain) Tracks(peerID domain.PeerID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tracks[peerID]
}
