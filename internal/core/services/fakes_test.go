package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/pkg/retry"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const fakeSDP = "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

// fakePC records every call in order and lets tests fire pion callbacks.
type fakePC struct {
	peer domain.PeerID

	mu          sync.Mutex
	events      []string
	remote      *webrtc.SessionDescription
	tracks      []string
	offers      int
	restarts    int
	closed      bool
	autoConnect bool
	offerGate   chan struct{}
	answerGate  chan struct{}
	entered     chan string

	onCandidate   func(webrtc.ICECandidateInit)
	onICE         func(webrtc.ICEConnectionState)
	onTrack       func(domain.RemoteTrack)
	onNegotiation func()
}

func (f *fakePC) record(event string) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
}

func (f *fakePC) enter(step string) {
	if f.entered != nil {
		f.entered <- step
	}
}

func (f *fakePC) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	f.enter("create_offer")
	if f.offerGate != nil {
		<-f.offerGate
	}
	f.mu.Lock()
	f.offers++
	if iceRestart {
		f.restarts++
	}
	f.mu.Unlock()
	f.record(fmt.Sprintf("create_offer restart=%t", iceRestart))
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fakeSDP}, nil
}

func (f *fakePC) CreateAnswer() (webrtc.SessionDescription, error) {
	f.enter("create_answer")
	if f.answerGate != nil {
		<-f.answerGate
	}
	f.record("create_answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fakeSDP}, nil
}

func (f *fakePC) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.record("set_local " + desc.Type.String())
	f.mu.Lock()
	connect := f.autoConnect && desc.Type == webrtc.SDPTypeOffer
	f.mu.Unlock()
	if connect {
		go f.FireICE(webrtc.ICEConnectionStateConnected)
	}
	return nil
}

func (f *fakePC) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.record("set_remote " + desc.Type.String())
	f.mu.Lock()
	f.remote = &desc
	f.mu.Unlock()
	return nil
}

func (f *fakePC) Rollback() error {
	f.record("rollback")
	return nil
}

func (f *fakePC) RemoteDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

func (f *fakePC) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if f.RemoteDescription() == nil {
		return &domain.ICEError{Kind: domain.ICEErrorRemoteDescriptionNotSet, Err: webrtc.ErrNoRemoteDescription}
	}
	f.record("add_candidate " + candidate.Candidate)
	return nil
}

func (f *fakePC) AddTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	f.tracks = append(f.tracks, track.ID())
	f.mu.Unlock()
	f.record("add_track " + track.ID())
	return nil
}

func (f *fakePC) ICEConnectionState() webrtc.ICEConnectionState {
	return webrtc.ICEConnectionStateNew
}

func (f *fakePC) OnICECandidate(fn func(webrtc.ICECandidateInit)) { f.onCandidate = fn }
func (f *fakePC) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	f.onICE = fn
}
func (f *fakePC) OnTrack(fn func(domain.RemoteTrack)) { f.onTrack = fn }
func (f *fakePC) OnNegotiationNeeded(fn func())       { f.onNegotiation = fn }

func (f *fakePC) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.record("close")
	return nil
}

func (f *fakePC) FireICE(state webrtc.ICEConnectionState) {
	f.onICE(state)
}

func (f *fakePC) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakePC) Tracks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tracks...)
}

func (f *fakePC) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeFactory hands out fakePCs and remembers them by peer.
type fakeFactory struct {
	mu          sync.Mutex
	created     map[domain.PeerID][]*fakePC
	autoConnect bool
	configure   func(*fakePC)
}

func newFakeFactory(autoConnect bool) *fakeFactory {
	return &fakeFactory{created: make(map[domain.PeerID][]*fakePC), autoConnect: autoConnect}
}

func (f *fakeFactory) NewPeerConnection(peerID domain.PeerID) (ports.PeerConnection, error) {
	pc := &fakePC{peer: peerID, autoConnect: f.autoConnect}
	if f.configure != nil {
		f.configure(pc)
	}
	f.mu.Lock()
	f.created[peerID] = append(f.created[peerID], pc)
	f.mu.Unlock()
	return pc, nil
}

func (f *fakeFactory) Count(peerID domain.PeerID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created[peerID])
}

func (f *fakeFactory) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, pcs := range f.created {
		n += len(pcs)
	}
	return n
}

func (f *fakeFactory) PC(t *testing.T, peerID domain.PeerID) *fakePC {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	pcs := f.created[peerID]
	require.NotEmpty(t, pcs, "no peer connection for %s", peerID)
	return pcs[len(pcs)-1]
}

// fakeTransport collects outbound signals.
type fakeTransport struct {
	mu   sync.Mutex
	sent []domain.Signal
	err  error
}

func (t *fakeTransport) SendToPeer(_ context.Context, _ domain.PeerID, signal domain.Signal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, signal)
	return nil
}

func (t *fakeTransport) SetErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

func (t *fakeTransport) Sent() []domain.Signal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.Signal(nil), t.sent...)
}

func (t *fakeTransport) OfType(kind domain.SignalType) []domain.Signal {
	var out []domain.Signal
	for _, s := range t.Sent() {
		if s.Type() == kind {
			out = append(out, s)
		}
	}
	return out
}

// fakeMedia returns the same two-track stream on every call.
type fakeMedia struct {
	mu       sync.Mutex
	stream   *domain.LocalStream
	acquired int
	closed   bool
}

func newFakeMedia(t *testing.T) *fakeMedia {
	t.Helper()
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "local")
	require.NoError(t, err)
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "local")
	require.NoError(t, err)
	return &fakeMedia{stream: &domain.LocalStream{ID: "local", Tracks: []webrtc.TrackLocal{audio, video}}}
}

func (m *fakeMedia) Acquire(context.Context) (*domain.LocalStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquired++
	return m.stream, nil
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

type registryFixture struct {
	registry  *PeerRegistryService
	factory   *fakeFactory
	transport *fakeTransport
	media     *fakeMedia
}

func newRegistryFixture(t *testing.T, localID domain.PeerID, autoConnect bool) *registryFixture {
	t.Helper()
	return newRegistryFixtureWith(t, RegistryConfig{
		LocalID:       localID,
		InviteTimeout: 2 * time.Second,
		Reconnect: retry.Config{
			Enabled:      true,
			MaxAttempts:  2,
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     10 * time.Millisecond,
			Multiplier:   2,
		},
	}, autoConnect)
}

func newRegistryFixtureWith(t *testing.T, cfg RegistryConfig, autoConnect bool) *registryFixture {
	t.Helper()
	factory := newFakeFactory(autoConnect)
	transport := &fakeTransport{}
	media := newFakeMedia(t)
	registry := NewPeerRegistry(cfg, factory, media, transport, nil, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { _ = registry.Close() })
	return &registryFixture{registry: registry, factory: factory, transport: transport, media: media}
}

func candidateInit(candidate string) webrtc.ICECandidateInit {
	mid := "0"
	index := uint16(0)
	return webrtc.ICECandidateInit{Candidate: candidate, SDPMid: &mid, SDPMLineIndex: &index}
}

func offerFrom(from, to domain.PeerID) domain.Offer {
	return domain.Offer{From: from, To: to, SDP: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fakeSDP}}
}

// offerWithUfrag is an offer carrying the given ICE credentials.
func offerWithUfrag(from, to domain.PeerID, ufrag string) domain.Offer {
	offer := offerFrom(from, to)
	offer.SDP.SDP = fakeSDP + "a=ice-ufrag:" + ufrag + "\r\na=ice-pwd:" + ufrag + "-pwd\r\n"
	return offer
}

func answerFrom(from, to domain.PeerID) domain.Answer {
	return domain.Answer{From: from, To: to, SDP: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fakeSDP}}
}

func indexOf(events []string, event string) int {
	for i, e := range events {
		if e == event {
			return i
		}
	}
	return -1
}
