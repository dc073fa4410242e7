package webrtc

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"callmesh/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	opusPayloadType  = 111
	opusClockRate    = 48000
	silenceInterval  = 20 * time.Millisecond
	samplesPerPacket = opusClockRate / 1000 * 20
)

// opusSilenceFrame is a 20 ms Opus frame that decodes to silence.
var opusSilenceFrame = []byte{0xf8, 0xff, 0xfe}

// silencePump writes Opus silence onto an RTP track so the remote side
// sees a live audio stream.
type silencePump struct {
	track  *webrtc.TrackLocalStaticRTP
	logger *zap.SugaredLogger

	seq       uint16
	timestamp uint32

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newSilencePump(track *webrtc.TrackLocalStaticRTP, logger *zap.SugaredLogger) *silencePump {
	return &silencePump{
		track:  track,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (p *silencePump) nextPacket() *rtp.Packet {
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: p.seq,
			Timestamp:      p.timestamp,
		},
		Payload: opusSilenceFrame,
	}
	p.seq++
	p.timestamp += samplesPerPacket
	return packet
}

func (p *silencePump) run() {
	defer close(p.done)

	ticker := time.NewTicker(silenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if err := p.track.WriteRTP(p.nextPacket()); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				p.logger.Debugw("failed to write silence packet", "track_id", p.track.ID(), "error", err)
			}
		}
	}
}

func (p *silencePump) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

// newSyntheticStream builds the fallback stream: Opus silence plus a VP8
// placeholder track that carries no frames.
func newSyntheticStream(logger *zap.SugaredLogger) (*domain.LocalStream, func(), error) {
	streamID := "synthetic-" + uuid.NewString()

	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio",
		streamID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create synthetic audio track: %w", err)
	}

	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video",
		streamID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create synthetic video track: %w", err)
	}

	pump := newSilencePump(audio, logger)
	go pump.run()

	return &domain.LocalStream{
		ID:        streamID,
		Tracks:    []webrtc.TrackLocal{audio, video},
		Synthetic: true,
	}, pump.Stop, nil
}
