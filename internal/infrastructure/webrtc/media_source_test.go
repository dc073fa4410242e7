package webrtc

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"callmesh/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubCapturer struct {
	mu     sync.Mutex
	calls  int
	stream *domain.LocalStream
	err    error
	block  bool
}

func (c *stubCapturer) Capture(ctx context.Context) (*domain.LocalStream, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return c.stream, c.err
}

func (c *stubCapturer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestMediaSource_FallbackIsMemoized(t *testing.T) {
	capturer := &stubCapturer{err: errors.New("permission denied")}
	source := NewMediaSource(capturer, time.Second, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { _ = source.Close() })

	first, err := source.Acquire(context.Background())
	require.NoError(t, err)
	second, err := source.Acquire(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.True(t, first.Synthetic)
	assert.Equal(t, []string{"audio", "video"}, first.TrackIDs())
	assert.Equal(t, 1, capturer.Calls(), "a failed capture is not retried")
}

func TestMediaSource_CaptureIsMemoized(t *testing.T) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "mic", "cam")
	require.NoError(t, err)
	captured := &domain.LocalStream{ID: "cam", Tracks: []webrtc.TrackLocal{track}}
	capturer := &stubCapturer{stream: captured}
	source := NewMediaSource(capturer, time.Second, zaptest.NewLogger(t).Sugar())

	var wg sync.WaitGroup
	results := make([]*domain.LocalStream, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = source.Acquire(context.Background())
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Same(t, captured, r)
	}
	assert.Equal(t, 1, capturer.Calls())
	assert.NoError(t, source.Close())
}

func TestMediaSource_SlowCaptureFallsBack(t *testing.T) {
	capturer := &stubCapturer{block: true}
	source := NewMediaSource(capturer, 20*time.Millisecond, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { _ = source.Close() })

	stream, err := source.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, stream.Synthetic)
}

func TestMediaSource_NoCapturerUsesSynthetic(t *testing.T) {
	source := NewMediaSource(nil, 0, zaptest.NewLogger(t).Sugar())

	var previews []*domain.LocalStream
	source.SetPreview(func(s *domain.LocalStream) { previews = append(previews, s) })

	stream, err := source.Acquire(context.Background())
	require.NoError(t, err)
	_, err = source.Acquire(context.Background())
	require.NoError(t, err)

	require.Len(t, previews, 1)
	assert.Same(t, stream, previews[0])

	require.NoError(t, source.Close())
	_, err = source.Acquire(context.Background())
	assert.ErrorIs(t, err, domain.ErrCaptureUnavailable)
}

func TestMediaSource_CancelledContext(t *testing.T) {
	source := NewMediaSource(&stubCapturer{block: true}, time.Second, zaptest.NewLogger(t).Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := source.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSilencePumpPacketSequence(t *testing.T) {
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "s")
	require.NoError(t, err)
	pump := newSilencePump(track, zaptest.NewLogger(t).Sugar())

	first := pump.nextPacket()
	second := pump.nextPacket()

	assert.Equal(t, uint8(opusPayloadType), first.PayloadType)
	assert.Equal(t, first.SequenceNumber+1, second.SequenceNumber)
	assert.Equal(t, first.Timestamp+960, second.Timestamp)
	assert.Equal(t, opusSilenceFrame, second.Payload)
}

func writeIVF(t *testing.T, frames int) string {
	t.Helper()
	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[4:], 0)
	binary.LittleEndian.PutUint16(header[6:], 32)
	copy(header[8:12], "VP80")
	binary.LittleEndian.PutUint16(header[12:], 64)
	binary.LittleEndian.PutUint16(header[14:], 48)
	binary.LittleEndian.PutUint32(header[16:], 30)
	binary.LittleEndian.PutUint32(header[20:], 1)
	binary.LittleEndian.PutUint32(header[24:], uint32(frames))

	data := header
	for i := 0; i < frames; i++ {
		frame := make([]byte, 12+4)
		binary.LittleEndian.PutUint32(frame[0:], 4)
		binary.LittleEndian.PutUint64(frame[4:], uint64(i))
		copy(frame[12:], []byte{0x10, 0x02, 0x00, 0x9d})
		data = append(data, frame...)
	}

	path := filepath.Join(t.TempDir(), "clip.ivf")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestFileCapturer_IVF(t *testing.T) {
	capturer := NewFileCapturer("", writeIVF(t, 3), zaptest.NewLogger(t).Sugar())

	stream, err := capturer.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"video"}, stream.TrackIDs())
	assert.False(t, stream.Synthetic)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, capturer.Close())

	_, err = capturer.Capture(context.Background())
	assert.Error(t, err, "a capturer plays once")
}

func TestFileCapturer_Failures(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	_, err := NewFileCapturer("", "", logger).Capture(context.Background())
	assert.ErrorIs(t, err, domain.ErrCaptureUnavailable)

	_, err = NewFileCapturer(filepath.Join(t.TempDir(), "missing.ogg"), "", logger).Capture(context.Background())
	assert.Error(t, err)

	bogus := filepath.Join(t.TempDir(), "bogus.ivf")
	require.NoError(t, os.WriteFile(bogus, []byte("not an ivf file at all, just text padding"), 0o600))
	_, err = NewFileCapturer("", bogus, logger).Capture(context.Background())
	assert.Error(t, err)
}

func TestTrackDrainCountsTracks(t *testing.T) {
	drain := NewTrackDrain(zaptest.NewLogger(t).Sugar())
	sink, ok := drain.Provider()("alice")
	require.True(t, ok)

	sink.AttachRemoteTrack(domain.RemoteTrack{Peer: "alice", TrackID: "audio"})
	sink.AttachRemoteTrack(domain.RemoteTrack{Peer: "alice", TrackID: "video"})

	assert.Equal(t, 2, drain.Tracks("alice"))
	assert.Zero(t, drain.Packets("alice"))
}
