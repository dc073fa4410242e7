package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"callmesh/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"
)

const oggPageDuration = 20 * time.Millisecond

// FileCapturer plays an Ogg/Opus and/or an IVF/VP8 file in a loop, standing
// in for a microphone and camera on headless peers.
type FileCapturer struct {
	audioPath string
	videoPath string
	logger    *zap.SugaredLogger

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

func NewFileCapturer(audioPath, videoPath string, logger *zap.SugaredLogger) *FileCapturer {
	return &FileCapturer{
		audioPath: audioPath,
		videoPath: videoPath,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Capture opens both files, checks their headers and starts pacing samples.
// Any failure is returned before a pump starts.
func (c *FileCapturer) Capture(ctx context.Context) (*domain.LocalStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil, errors.New("file capturer already started")
	}
	if c.audioPath == "" && c.videoPath == "" {
		return nil, domain.ErrCaptureUnavailable
	}

	streamID := "file-" + uuid.NewString()
	stream := &domain.LocalStream{ID: streamID}
	var pumps []func()

	if c.audioPath != "" {
		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
		if err != nil {
			return nil, err
		}
		if err := checkOgg(c.audioPath); err != nil {
			return nil, err
		}
		stream.Tracks = append(stream.Tracks, track)
		pumps = append(pumps, func() { c.loop(c.audioPath, func() error { return c.playOgg(track) }) })
	}

	if c.videoPath != "" {
		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			return nil, err
		}
		if err := checkIVF(c.videoPath); err != nil {
			return nil, err
		}
		stream.Tracks = append(stream.Tracks, track)
		pumps = append(pumps, func() { c.loop(c.videoPath, func() error { return c.playIVF(track) }) })
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.started = true
	for _, pump := range pumps {
		c.wg.Add(1)
		go pump()
	}
	return stream, nil
}

func checkOgg(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()
	if _, _, err := oggreader.NewWith(file); err != nil {
		return fmt.Errorf("read ogg header: %w", err)
	}
	return nil
}

func checkIVF(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open video file: %w", err)
	}
	defer file.Close()
	_, header, err := ivfreader.NewWith(file)
	if err != nil {
		return fmt.Errorf("read ivf header: %w", err)
	}
	if header.FourCC != "VP80" {
		return fmt.Errorf("unsupported ivf codec %q", header.FourCC)
	}
	return nil
}

// loop restarts play at end of file until Close.
func (c *FileCapturer) loop(path string, play func() error) {
	defer c.wg.Done()
	for {
		err := play()
		select {
		case <-c.stop:
			return
		default:
		}
		if err != nil && !errors.Is(err, io.EOF) {
			c.logger.Warnw("media file playback stopped", "path", path, "error", err)
			return
		}
	}
}

func (c *FileCapturer) playOgg(track *webrtc.TrackLocalStaticSample) error {
	file, err := os.Open(c.audioPath)
	if err != nil {
		return err
	}
	defer file.Close()

	ogg, _, err := oggreader.NewWith(file)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-c.stop:
			return nil
		case <-ticker.C:
		}

		page, header, err := ogg.ParseNextPage()
		if err != nil {
			return err
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples)/opusClockRate*1000) * time.Millisecond

		if err := track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return err
		}
	}
}

func (c *FileCapturer) playIVF(track *webrtc.TrackLocalStaticSample) error {
	file, err := os.Open(c.videoPath)
	if err != nil {
		return err
	}
	defer file.Close()

	ivf, header, err := ivfreader.NewWith(file)
	if err != nil {
		return err
	}

	frameDuration := time.Second / 30
	if header.TimebaseDenominator > 0 {
		frameDuration = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return nil
		case <-ticker.C:
		}

		frame, _, err := ivf.ParseNextFrame()
		if err != nil {
			return err
		}
		if err := track.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return err
		}
	}
}

// Close stops playback and waits for the pumps.
func (c *FileCapturer) Close() error {
	c.mu.Lock()
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}
