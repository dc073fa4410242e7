package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/pkg/retry"
	"callmesh/pkg/tracing"

	"github.com/pion/webrtc/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type RegistryConfig struct {
	LocalID       domain.PeerID
	InviteTimeout time.Duration
	// Reconnect drives ICE restarts on the side that sent the original
	// offer. MaxAttempts counts restart offers, not retries.
	Reconnect retry.Config
}

// peerSession is the registry entry for one remote peer.
type peerSession struct {
	id     domain.PeerID
	pc     ports.PeerConnection
	polite bool

	// opMu serializes negotiation steps and remote candidate application.
	opMu sync.Mutex

	mu          sync.Mutex
	state       domain.NegotiationState
	iceState    webrtc.ICEConnectionState
	originator  bool
	restarting  bool
	offerSentAt time.Time
	attached    map[string]struct{}
	changed     chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func newPeerSession(id domain.PeerID, pc ports.PeerConnection, polite bool) *peerSession {
	return &peerSession{
		id:       id,
		pc:       pc,
		polite:   polite,
		state:    domain.StateIdle,
		iceState: webrtc.ICEConnectionStateNew,
		attached: make(map[string]struct{}),
		changed:  make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

func (s *peerSession) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *peerSession) negotiationState() domain.NegotiationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves the state machine and wakes waiters.
func (s *peerSession) transition(to domain.NegotiationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := domain.Transition(s.state, to); err != nil {
		return err
	}
	s.state = to
	s.notifyLocked()
	return nil
}

func (s *peerSession) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// settle moves a finished negotiation to Connected when ICE already carries
// media (renegotiation) and to Connecting otherwise.
func (s *peerSession) settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := domain.StateConnecting
	if domain.IsEstablished(s.iceState) {
		next = domain.StateConnected
	}
	if domain.CanTransition(s.state, next) {
		s.state = next
		s.notifyLocked()
	}
}

func (s *peerSession) fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if domain.CanTransition(s.state, domain.StateFailed) {
		s.state = domain.StateFailed
		s.notifyLocked()
	}
}

// dead reports a failed session no ICE restart is working on.
func (s *peerSession) dead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == domain.StateFailed && !s.restarting
}

// awaitEstablished blocks until ICE is connected or completed. A session
// closed while waiting resolves without error.
func (s *peerSession) awaitEstablished(ctx context.Context, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		s.mu.Lock()
		established := domain.IsEstablished(s.iceState)
		changed := s.changed
		s.mu.Unlock()

		if established {
			return nil
		}

		select {
		case <-changed:
		case <-s.closed:
			return nil
		case <-deadline:
			return domain.ErrNegotiationTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *peerSession) status() domain.CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.NewCallStatus(s.id, s.iceState, s.state)
}

func (s *peerSession) close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = domain.StateClosed
		s.notifyLocked()
		s.mu.Unlock()
		close(s.closed)
		err = s.pc.Close()
	})
	return err
}

// PeerRegistryService keeps at most one peer connection per remote peer and
// drives offer/answer negotiation on it.
type PeerRegistryService struct {
	cfg       RegistryConfig
	factory   ports.PeerConnectionFactory
	media     ports.MediaSource
	transport ports.SignalingTransport
	queue     *CandidateQueue
	metrics   ports.CallMetrics
	logger    *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[domain.PeerID]*peerSession
	sinks    ports.SinkProvider
	closed   bool
}

func NewPeerRegistry(
	cfg RegistryConfig,
	factory ports.PeerConnectionFactory,
	media ports.MediaSource,
	transport ports.SignalingTransport,
	metrics ports.CallMetrics,
	logger *zap.SugaredLogger,
) *PeerRegistryService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PeerRegistryService{
		cfg:       cfg,
		factory:   factory,
		media:     media,
		transport: transport,
		queue:     NewCandidateQueue(cfg.LocalID, transport, metrics, logger),
		metrics:   metrics,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[domain.PeerID]*peerSession),
	}
}

// SetSinkProvider installs the lookup used to route remote tracks.
func (r *PeerRegistryService) SetSinkProvider(sinks ports.SinkProvider) {
	r.mu.Lock()
	r.sinks = sinks
	r.mu.Unlock()
}

// Queue exposes the candidate queue for inspection.
func (r *PeerRegistryService) Queue() *CandidateQueue {
	return r.queue
}

func (r *PeerRegistryService) session(peerID domain.PeerID) (*peerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[peerID]
	return s, ok
}

// getOrCreate returns the session for peerID, creating and wiring a new
// peer connection when none exists. Creation happens under the registry
// lock so concurrent callers never build two connections for one peer.
// An originating caller replaces a session that failed and is not being
// restarted.
func (r *PeerRegistryService) getOrCreate(peerID domain.PeerID, originator bool) (*peerSession, bool, error) {
	r.mu.Lock()
	s, created, stale, err := r.getOrCreateLocked(peerID, originator)
	r.mu.Unlock()

	if stale != nil {
		r.queue.ResetSent(peerID)
		_ = r.release(stale, "replaced failed peer connection")
	}
	return s, created, err
}

func (r *PeerRegistryService) getOrCreateLocked(peerID domain.PeerID, originator bool) (s *peerSession, created bool, stale *peerSession, err error) {
	if r.closed {
		return nil, false, nil, domain.ErrRegistryClosed
	}
	if existing, ok := r.sessions[peerID]; ok {
		if !originator || !existing.dead() {
			return existing, false, nil, nil
		}
		stale = existing
		delete(r.sessions, peerID)
	}

	pc, err := r.factory.NewPeerConnection(peerID)
	if err != nil {
		return nil, false, stale, fmt.Errorf("create peer connection for %s: %w", peerID, err)
	}

	s = newPeerSession(peerID, pc, domain.Polite(r.cfg.LocalID, peerID))
	s.originator = originator
	r.sessions[peerID] = s
	r.queue.Revive(peerID)
	r.wire(s)
	r.metrics.PeerAdded()

	r.logger.Infow("peer connection created",
		"peer_id", peerID,
		"originator", originator,
		"polite", s.polite,
	)
	return s, true, stale, nil
}

func (r *PeerRegistryService) wire(s *peerSession) {
	s.pc.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		if s.isClosed() {
			return
		}
		_ = r.queue.OnLocalCandidate(r.ctx, s.id, candidate)
	})

	s.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		r.handleICEState(s, state)
	})

	s.pc.OnTrack(func(track domain.RemoteTrack) {
		track.Peer = s.id
		r.routeTrack(track)
	})

	s.pc.OnNegotiationNeeded(func() {
		r.handleNegotiationNeeded(s)
	})
}

// Invite sends an offer to peerID and waits until ICE connects, the invite
// timeout fires or the connection is removed. Inviting a peer that already
// has a live connection is a no-op. A connection whose offer could not be
// sent is discarded, so a later Invite starts over.
func (r *PeerRegistryService) Invite(ctx context.Context, peerID domain.PeerID) error {
	if peerID == r.cfg.LocalID {
		r.logger.Debugw("ignoring self invite", "peer_id", peerID)
		return nil
	}

	s, created, err := r.getOrCreate(peerID, true)
	if err != nil {
		return err
	}
	if !created {
		r.logger.Debugw("peer already known, invite skipped", "peer_id", peerID)
		return nil
	}

	ctx, span := tracing.TraceWebRTC(ctx, "invite", string(peerID))
	defer span.End()

	if err := r.offer(ctx, s, false); err != nil {
		tracing.RecordError(ctx, err)
		r.discard(s, err)
		return fmt.Errorf("invite %s: %w", peerID, err)
	}

	if err := s.awaitEstablished(ctx, r.cfg.InviteTimeout); err != nil {
		tracing.RecordError(ctx, err)
		r.logger.Warnw("peer did not connect",
			"peer_id", peerID,
			"timeout", r.cfg.InviteTimeout,
			"error", err,
		)
		return fmt.Errorf("invite %s: %w", peerID, err)
	}

	r.logger.Infow("peer connected", "peer_id", peerID)
	return nil
}

// offer runs one local offer round: attach tracks, create and apply the
// offer, send it.
func (r *PeerRegistryService) offer(ctx context.Context, s *peerSession, iceRestart bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isClosed() {
		return domain.ErrConnectionClosed
	}

	r.attachLocalTracks(ctx, s)

	if err := s.transition(domain.StateHaveLocalOffer); err != nil {
		return err
	}
	if iceRestart {
		r.queue.ResetSent(s.id)
	}

	desc, err := s.pc.CreateOffer(iceRestart)
	if err != nil {
		s.fail()
		r.metrics.ObserveNegotiation("offer", 0, err)
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(desc); err != nil {
		s.fail()
		r.metrics.ObserveNegotiation("offer", 0, err)
		return fmt.Errorf("set local offer: %w", err)
	}

	s.mu.Lock()
	s.offerSentAt = time.Now()
	s.mu.Unlock()

	if err := r.transport.SendToPeer(ctx, s.id, domain.Offer{From: r.cfg.LocalID, To: s.id, SDP: desc}); err != nil {
		s.fail()
		r.metrics.ObserveNegotiation("offer", 0, err)
		return fmt.Errorf("send offer: %w", err)
	}

	r.logger.Infow("offer sent",
		"peer_id", s.id,
		"ice_restart", iceRestart,
	)
	return nil
}

// AcceptOffer applies a remote offer, answers it and flushes candidates
// that arrived early. When the offer collides with one of ours, the impolite
// side ignores it and the polite side rolls back.
func (r *PeerRegistryService) AcceptOffer(ctx context.Context, offer domain.Offer) error {
	peerID := offer.From
	if peerID == r.cfg.LocalID {
		return domain.ErrSelfInvite
	}

	s, _, err := r.getOrCreate(peerID, false)
	if err != nil {
		return err
	}

	ctx, span := tracing.TraceWebRTC(ctx, "accept_offer", string(peerID))
	defer span.End()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isClosed() {
		return domain.ErrConnectionClosed
	}

	start := time.Now()
	if s.negotiationState() == domain.StateHaveLocalOffer {
		if !s.polite {
			r.logger.Infow("ignoring colliding offer", "peer_id", peerID)
			return nil
		}
		if err := s.pc.Rollback(); err != nil {
			tracing.RecordError(ctx, err)
			return fmt.Errorf("rollback local offer: %w", err)
		}
		r.logger.Infow("rolled back local offer for colliding remote offer", "peer_id", peerID)
	}

	if err := s.transition(domain.StateHaveRemoteOffer); err != nil {
		return err
	}
	if restartsICE(s.pc.RemoteDescription(), offer.SDP) {
		r.logger.Infow("remote offer restarts ICE", "peer_id", peerID)
		r.queue.ResetSent(s.id)
	}

	answer, err := r.answer(ctx, s, offer)
	r.metrics.ObserveNegotiation("answer", time.Since(start), err)
	if err != nil {
		s.fail()
		tracing.RecordError(ctx, err)
		return err
	}

	r.queue.Flush(s.id, s.pc.AddICECandidate)
	s.settle()

	r.logger.Infow("answer sent",
		"peer_id", peerID,
		"sdp_bytes", len(answer.SDP),
	)
	return nil
}

func (r *PeerRegistryService) answer(ctx context.Context, s *peerSession, offer domain.Offer) (webrtc.SessionDescription, error) {
	if err := s.pc.SetRemoteDescription(offer.SDP); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}

	r.attachLocalTracks(ctx, s)

	answer, err := s.pc.CreateAnswer()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	if err := s.transition(domain.StateHaveLocalAnswer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	if err := r.transport.SendToPeer(ctx, s.id, domain.Answer{From: r.cfg.LocalID, To: s.id, SDP: answer}); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("send answer: %w", err)
	}
	return answer, nil
}

// AcceptAnswer completes a negotiation this side started.
func (r *PeerRegistryService) AcceptAnswer(ctx context.Context, answer domain.Answer) error {
	peerID := answer.From
	s, ok := r.session(peerID)
	if !ok {
		return fmt.Errorf("answer from %s: %w", peerID, domain.ErrPeerNotFound)
	}

	ctx, span := tracing.TraceWebRTC(ctx, "accept_answer", string(peerID))
	defer span.End()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isClosed() {
		return domain.ErrConnectionClosed
	}

	if state := s.negotiationState(); state != domain.StateHaveLocalOffer {
		r.logger.Warnw("unexpected answer",
			"peer_id", peerID,
			"negotiation_state", state.String(),
		)
		return fmt.Errorf("answer from %s in %s: %w", peerID, state, domain.ErrInvalidTransition)
	}

	s.mu.Lock()
	sentAt := s.offerSentAt
	s.mu.Unlock()

	if err := s.pc.SetRemoteDescription(answer.SDP); err != nil {
		err = fmt.Errorf("set remote answer: %w", err)
		s.fail()
		r.metrics.ObserveNegotiation("offer", time.Since(sentAt), err)
		tracing.RecordError(ctx, err)
		return err
	}
	r.metrics.ObserveNegotiation("offer", time.Since(sentAt), nil)

	r.queue.Flush(s.id, s.pc.AddICECandidate)
	s.settle()

	r.logger.Infow("answer applied", "peer_id", peerID)
	return nil
}

// AddRemoteCandidate applies a remote candidate or queues it until the
// remote description is known. Candidates for unknown peers are queued too,
// since they can outrun the offer.
func (r *PeerRegistryService) AddRemoteCandidate(ctx context.Context, candidate domain.Candidate) error {
	peerID := candidate.From
	s, ok := r.session(peerID)
	if !ok {
		r.queue.Enqueue(peerID, candidate.Candidate)
		return nil
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isClosed() {
		return nil
	}

	if _, err := r.queue.OnRemoteCandidate(peerID, candidate.Candidate, s.pc); err != nil {
		r.logger.Warnw("failed to add remote candidate",
			"peer_id", peerID,
			"candidate", candidate.Candidate.Candidate,
			"error", err,
		)
		return fmt.Errorf("add candidate from %s: %w", peerID, err)
	}
	return nil
}

// Remove closes the connection to peerID and forgets its queues.
func (r *PeerRegistryService) Remove(peerID domain.PeerID) error {
	r.mu.Lock()
	s, ok := r.sessions[peerID]
	delete(r.sessions, peerID)
	r.mu.Unlock()

	r.queue.Forget(peerID)
	if !ok {
		return fmt.Errorf("remove %s: %w", peerID, domain.ErrPeerNotFound)
	}
	return r.release(s, "peer removed")
}

// discard drops s after a failure nothing will recover from, so the next
// Invite or offer starts from a fresh connection. The registry entry is only
// deleted while it still belongs to s.
func (r *PeerRegistryService) discard(s *peerSession, cause error) {
	r.mu.Lock()
	owned := r.sessions[s.id] == s
	if owned {
		delete(r.sessions, s.id)
	}
	r.mu.Unlock()
	if !owned {
		return
	}

	r.queue.Purge(s.id)
	r.logger.Warnw("discarding failed peer connection",
		"peer_id", s.id,
		"error", cause,
	)
	_ = r.release(s, "peer discarded")
}

func (r *PeerRegistryService) release(s *peerSession, msg string) error {
	err := s.close()
	r.metrics.PeerRemoved()
	r.logger.Infow(msg, "peer_id", s.id)
	if err != nil {
		return fmt.Errorf("close peer connection %s: %w", s.id, err)
	}
	return nil
}

// Peers returns the known peer ids in sorted order.
func (r *PeerRegistryService) Peers() []domain.PeerID {
	r.mu.RLock()
	peers := make([]domain.PeerID, 0, len(r.sessions))
	for id := range r.sessions {
		peers = append(peers, id)
	}
	r.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

func (r *PeerRegistryService) Status(peerID domain.PeerID) (domain.CallStatus, bool) {
	s, ok := r.session(peerID)
	if !ok {
		return domain.CallStatus{}, false
	}
	return s.status(), true
}

// Close removes every peer and rejects further work.
func (r *PeerRegistryService) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[domain.PeerID]*peerSession)
	r.mu.Unlock()

	r.cancel()

	var err error
	for id, s := range sessions {
		r.queue.Purge(id)
		if closeErr := s.close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("close %s: %w", id, closeErr))
		}
		r.metrics.PeerRemoved()
	}
	return err
}

func (r *PeerRegistryService) attachLocalTracks(ctx context.Context, s *peerSession) {
	if r.media == nil {
		return
	}
	stream, err := r.media.Acquire(ctx)
	if err != nil {
		r.logger.Warnw("no local media, negotiating receive only",
			"peer_id", s.id,
			"error", err,
		)
		return
	}

	for _, track := range stream.Tracks {
		s.mu.Lock()
		_, done := s.attached[track.ID()]
		s.mu.Unlock()
		if done {
			continue
		}
		if err := s.pc.AddTrack(track); err != nil {
			r.logger.Warnw("failed to add local track",
				"peer_id", s.id,
				"track_id", track.ID(),
				"error", err,
			)
			continue
		}
		s.mu.Lock()
		s.attached[track.ID()] = struct{}{}
		s.mu.Unlock()
	}
}

func (r *PeerRegistryService) handleICEState(s *peerSession, state webrtc.ICEConnectionState) {
	r.metrics.ICEStateChanged(state)

	s.mu.Lock()
	s.iceState = state
	switch {
	case domain.IsEstablished(state):
		if s.state == domain.StateConnecting || s.state == domain.StateHaveLocalAnswer {
			s.state = domain.StateConnected
		}
	case state == webrtc.ICEConnectionStateFailed:
		if domain.CanTransition(s.state, domain.StateFailed) {
			s.state = domain.StateFailed
		}
	case state == webrtc.ICEConnectionStateDisconnected:
		if s.state == domain.StateConnected {
			s.state = domain.StateConnecting
		}
	}
	negotiation := s.state
	failed := state == webrtc.ICEConnectionStateFailed
	reconnect := r.cfg.Reconnect.Enabled && r.cfg.Reconnect.MaxAttempts > 0
	restart := failed && reconnect && s.originator && !s.restarting
	if restart {
		s.restarting = true
	}
	// Without reconnect nobody will restart ICE, from either side.
	terminal := failed && !reconnect
	s.notifyLocked()
	s.mu.Unlock()

	r.logger.Infow("ICE connection state changed",
		"peer_id", s.id,
		"ice_state", state.String(),
		"negotiation_state", negotiation.String(),
	)

	switch {
	case restart:
		go r.reconnect(s)
	case terminal:
		go r.discard(s, fmt.Errorf("ice %s: %w", state, domain.ErrConnectionClosed))
	}
}

// reconnect issues ICE restart offers with backoff until the transport
// recovers, the attempts run out or the peer is removed.
func (r *PeerRegistryService) reconnect(s *peerSession) {
	defer func() {
		s.mu.Lock()
		s.restarting = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(r.ctx)
	defer cancel()
	go func() {
		select {
		case <-s.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	attempts := 0
	err := retry.Do(ctx, r.cfg.Reconnect, func(attempt int) error {
		if s.isClosed() {
			return retry.Permanent(domain.ErrConnectionClosed)
		}
		attempts = attempt
		r.logger.Infow("restarting ICE", "peer_id", s.id, "attempt", attempt)
		if err := r.offer(ctx, s, true); err != nil {
			return err
		}
		return s.awaitEstablished(ctx, r.cfg.InviteTimeout)
	})

	switch {
	case err == nil && !s.isClosed():
		r.logger.Infow("ICE restart recovered connection", "peer_id", s.id, "attempts", attempts)
	case err != nil && !errors.Is(err, domain.ErrConnectionClosed) && !errors.Is(err, context.Canceled):
		s.fail()
		r.logger.Warnw("ICE restart gave up",
			"peer_id", s.id,
			"attempts", attempts,
			"error", err,
		)
		r.discard(s, err)
	}
}

// handleNegotiationNeeded renegotiates an established connection when its
// track set changes. The first offer is sent explicitly by Invite.
func (r *PeerRegistryService) handleNegotiationNeeded(s *peerSession) {
	if s.isClosed() || s.negotiationState() != domain.StateConnected {
		return
	}
	go func() {
		if err := r.offer(r.ctx, s, false); err != nil {
			r.logger.Warnw("renegotiation failed", "peer_id", s.id, "error", err)
		}
	}()
}

func (r *PeerRegistryService) routeTrack(track domain.RemoteTrack) {
	r.mu.RLock()
	sinks := r.sinks
	r.mu.RUnlock()

	if sinks == nil {
		r.logger.Debugw("no sink provider, dropping remote track", "peer_id", track.Peer, "track_id", track.TrackID)
		return
	}
	sink, ok := sinks(track.Peer)
	if !ok {
		r.logger.Debugw("sink not ready, dropping remote track", "peer_id", track.Peer, "track_id", track.TrackID)
		return
	}

	r.logger.Infow("remote track attached",
		"peer_id", track.Peer,
		"track_id", track.TrackID,
		"kind", track.Kind.String(),
	)
	sink.AttachRemoteTrack(track)
}

// restartsICE reports whether next carries different ICE credentials than
// the description currently applied.
func restartsICE(current *webrtc.SessionDescription, next webrtc.SessionDescription) bool {
	if current == nil {
		return false
	}
	prev, ufrag := iceUfrag(*current), iceUfrag(next)
	return prev != "" && ufrag != "" && prev != ufrag
}

func iceUfrag(desc webrtc.SessionDescription) string {
	parsed, err := desc.Unmarshal()
	if err != nil {
		return ""
	}
	if ufrag, ok := parsed.Attribute("ice-ufrag"); ok {
		return ufrag
	}
	for _, media := range parsed.MediaDescriptions {
		if ufrag, ok := media.Attribute("ice-ufrag"); ok {
			return ufrag
		}
	}
	return ""
}
