package webrtc

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"

	"go.uber.org/zap"
)

// MediaSource captures local media once and shares the result with every
// peer connection. When capture fails or takes longer than captureTimeout
// a synthetic stream is used instead, and that is memoized as well.
type MediaSource struct {
	capturer       ports.Capturer
	captureTimeout time.Duration
	logger         *zap.SugaredLogger

	mu      sync.Mutex
	stream  *domain.LocalStream
	stop    func()
	preview func(*domain.LocalStream)
	closed  bool
}

func NewMediaSource(capturer ports.Capturer, captureTimeout time.Duration, logger *zap.SugaredLogger) *MediaSource {
	return &MediaSource{
		capturer:       capturer,
		captureTimeout: captureTimeout,
		logger:         logger,
	}
}

// SetPreview registers the local preview. It receives the stream once, as
// soon as one exists.
func (m *MediaSource) SetPreview(preview func(*domain.LocalStream)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preview = preview
	if m.stream != nil && preview != nil {
		preview(m.stream)
	}
}

func (m *MediaSource) Acquire(ctx context.Context) (*domain.LocalStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("media source closed: %w", domain.ErrCaptureUnavailable)
	}
	if m.stream != nil {
		return m.stream, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream, err := m.capture(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		m.logger.Warnw("local capture unavailable, using synthetic media", "error", err)

		var stop func()
		stream, stop, err = newSyntheticStream(m.logger)
		if err != nil {
			return nil, err
		}
		m.stop = stop
	}

	m.stream = stream
	m.logger.Infow("local media ready",
		"stream_id", stream.ID,
		"tracks", stream.TrackIDs(),
		"synthetic", stream.Synthetic,
	)

	if m.preview != nil {
		m.preview(stream)
	}
	return stream, nil
}

type captureResult struct {
	stream *domain.LocalStream
	err    error
}

func (m *MediaSource) capture(ctx context.Context) (*domain.LocalStream, error) {
	if m.capturer == nil {
		return nil, domain.ErrCaptureUnavailable
	}

	if m.captureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.captureTimeout)
		defer cancel()
	}

	result := make(chan captureResult, 1)
	go func() {
		stream, err := m.capturer.Capture(ctx)
		result <- captureResult{stream: stream, err: err}
	}()

	select {
	case r := <-result:
		if r.err == nil && (r.stream == nil || len(r.stream.Tracks) == 0) {
			r.err = domain.ErrCaptureUnavailable
		}
		return r.stream, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("capture: %w", ctx.Err())
	}
}

// Close stops synthetic pumps and the capturer.
func (m *MediaSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.stop != nil {
		m.stop()
	}

	if closer, ok := m.capturer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
