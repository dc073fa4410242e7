package services

import (
	"context"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// candidateTarget is the slice of a peer connection the queue needs.
type candidateTarget interface {
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
}

// Limits on what is buffered for peers without a remote description.
const (
	maxPendingPerPeer = 64
	maxPendingPeers   = 128
	pendingTTL        = time.Minute
	removedWindow     = 5 * time.Second
)

type pendingCandidates struct {
	candidates []webrtc.ICECandidateInit
	touched    time.Time
}

// CandidateQueue buffers remote ICE candidates until the remote description
// is set and forwards each local candidate at most once per peer.
//
// Buffers are bounded per peer and in the number of peers, and a buffer
// nobody flushed within pendingTTL is dropped. Candidates from a peer that
// was removed less than removedWindow ago are discarded so they cannot leak
// into the next connection to that peer.
type CandidateQueue struct {
	localID   domain.PeerID
	transport ports.SignalingTransport
	metrics   ports.CallMetrics
	logger    *zap.SugaredLogger
	now       func() time.Time

	mu      sync.Mutex
	pending map[domain.PeerID]*pendingCandidates
	sent    map[domain.PeerID]map[string]struct{}
	removed map[domain.PeerID]time.Time
}

func NewCandidateQueue(
	localID domain.PeerID,
	transport ports.SignalingTransport,
	metrics ports.CallMetrics,
	logger *zap.SugaredLogger,
) *CandidateQueue {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &CandidateQueue{
		localID:   localID,
		transport: transport,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		pending:   make(map[domain.PeerID]*pendingCandidates),
		sent:      make(map[domain.PeerID]map[string]struct{}),
		removed:   make(map[domain.PeerID]time.Time),
	}
}

// OnLocalCandidate forwards a locally gathered candidate unless an identical
// one was already sent to the same peer.
func (q *CandidateQueue) OnLocalCandidate(ctx context.Context, peerID domain.PeerID, candidate webrtc.ICECandidateInit) error {
	fingerprint := domain.CandidateFingerprint(candidate)

	q.mu.Lock()
	seen, ok := q.sent[peerID]
	if !ok {
		seen = make(map[string]struct{})
		q.sent[peerID] = seen
	}
	if _, dup := seen[fingerprint]; dup {
		q.mu.Unlock()
		q.metrics.LocalCandidateDuplicate()
		q.logger.Debugw("dropping duplicate local candidate",
			"peer_id", peerID,
			"fingerprint", fingerprint,
		)
		return nil
	}
	seen[fingerprint] = struct{}{}
	q.mu.Unlock()

	err := q.transport.SendToPeer(ctx, peerID, domain.Candidate{
		From:      q.localID,
		To:        peerID,
		Candidate: candidate,
	})
	if err != nil {
		q.logger.Errorw("failed to forward local candidate",
			"peer_id", peerID,
			"error", err,
		)
		return err
	}

	q.metrics.LocalCandidateForwarded()
	return nil
}

// OnRemoteCandidate applies a remote candidate when the target already has a
// remote description and queues it otherwise. A binding error classified as
// ICEErrorRemoteDescriptionNotSet also queues. The returned bool reports
// whether the candidate was queued.
func (q *CandidateQueue) OnRemoteCandidate(peerID domain.PeerID, candidate webrtc.ICECandidateInit, target candidateTarget) (bool, error) {
	if target == nil || target.RemoteDescription() == nil {
		return q.Enqueue(peerID, candidate), nil
	}

	if err := target.AddICECandidate(candidate); err != nil {
		if domain.IsRemoteDescriptionNotSet(err) {
			return q.Enqueue(peerID, candidate), nil
		}
		return false, err
	}

	q.metrics.RemoteCandidateApplied()
	return false, nil
}

// Enqueue appends a remote candidate to the peer's pending queue and reports
// whether it was kept. Candidates are dropped for recently removed peers,
// past the per-peer limit and when too many peers already have a buffer.
func (q *CandidateQueue) Enqueue(peerID domain.PeerID, candidate webrtc.ICECandidateInit) bool {
	q.mu.Lock()
	now := q.now()
	q.expireLocked(now)

	reason := ""
	buf := q.pending[peerID]
	switch {
	case q.removedLocked(peerID, now):
		reason = "peer recently removed"
	case buf == nil && len(q.pending) >= maxPendingPeers:
		reason = "too many peers pending"
	case buf != nil && len(buf.candidates) >= maxPendingPerPeer:
		reason = "peer queue full"
	}
	if reason != "" {
		q.mu.Unlock()
		q.logger.Debugw("dropping remote candidate",
			"peer_id", peerID,
			"reason", reason,
		)
		return false
	}

	if buf == nil {
		buf = &pendingCandidates{}
		q.pending[peerID] = buf
	}
	buf.candidates = append(buf.candidates, candidate)
	buf.touched = now
	size := len(buf.candidates)
	q.mu.Unlock()

	q.metrics.RemoteCandidateQueued()
	q.logger.Debugw("queued remote candidate",
		"peer_id", peerID,
		"pending", size,
	)
	return true
}

func (q *CandidateQueue) expireLocked(now time.Time) {
	for id, buf := range q.pending {
		if now.Sub(buf.touched) > pendingTTL {
			delete(q.pending, id)
		}
	}
	for id, at := range q.removed {
		if now.Sub(at) > removedWindow {
			delete(q.removed, id)
		}
	}
}

func (q *CandidateQueue) removedLocked(peerID domain.PeerID, now time.Time) bool {
	at, ok := q.removed[peerID]
	return ok && now.Sub(at) <= removedWindow
}

// Flush hands every queued candidate of peerID to apply in arrival order and
// deletes the queue. A failing candidate is logged and the flush goes on.
func (q *CandidateQueue) Flush(peerID domain.PeerID, apply func(webrtc.ICECandidateInit) error) int {
	q.mu.Lock()
	var queued []webrtc.ICECandidateInit
	if buf := q.pending[peerID]; buf != nil {
		queued = buf.candidates
	}
	delete(q.pending, peerID)
	q.mu.Unlock()

	applied := 0
	for _, candidate := range queued {
		err := apply(candidate)
		q.metrics.RemoteCandidateFlushed(err)
		if err != nil {
			q.logger.Warnw("failed to apply queued candidate",
				"peer_id", peerID,
				"candidate", candidate.Candidate,
				"error", err,
			)
			continue
		}
		applied++
	}

	if len(queued) > 0 {
		q.logger.Debugw("flushed pending candidates",
			"peer_id", peerID,
			"queued", len(queued),
			"applied", applied,
		)
	}
	return applied
}

// Pending returns the number of candidates waiting for peerID.
func (q *CandidateQueue) Pending(peerID domain.PeerID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if buf := q.pending[peerID]; buf != nil {
		return len(buf.candidates)
	}
	return 0
}

// PendingPeers returns how many peers currently have buffered candidates.
func (q *CandidateQueue) PendingPeers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// ResetSent forgets which local candidates went to peerID, so an ICE restart
// forwards them again.
func (q *CandidateQueue) ResetSent(peerID domain.PeerID) {
	q.mu.Lock()
	delete(q.sent, peerID)
	q.mu.Unlock()
}

// Purge forgets everything known about peerID.
func (q *CandidateQueue) Purge(peerID domain.PeerID) {
	q.mu.Lock()
	delete(q.pending, peerID)
	delete(q.sent, peerID)
	q.mu.Unlock()
}

// Forget purges peerID and drops its remote candidates for removedWindow.
func (q *CandidateQueue) Forget(peerID domain.PeerID) {
	q.mu.Lock()
	delete(q.pending, peerID)
	delete(q.sent, peerID)
	q.removed[peerID] = q.now()
	q.mu.Unlock()
}

// Revive accepts candidates from peerID again, once a new connection to it
// exists.
func (q *CandidateQueue) Revive(peerID domain.PeerID) {
	q.mu.Lock()
	delete(q.removed, peerID)
	q.mu.Unlock()
}
