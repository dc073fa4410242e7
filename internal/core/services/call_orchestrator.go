package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/pkg/tracing"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// CallOrchestrator ties the peer registry, the local media source and the
// signaling transport together for one local participant.
type CallOrchestrator struct {
	localID  domain.PeerID
	registry ports.PeerRegistry
	media    ports.MediaSource
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	started  bool
	disposed bool
	inflight sync.WaitGroup
}

func NewCallOrchestrator(
	localID domain.PeerID,
	registry ports.PeerRegistry,
	media ports.MediaSource,
	logger *zap.SugaredLogger,
) *CallOrchestrator {
	return &CallOrchestrator{
		localID:  localID,
		registry: registry,
		media:    media,
		logger:   logger,
	}
}

// Start warms up the local media source. Calling it twice is harmless.
func (o *CallOrchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.disposed {
		return domain.ErrRegistryClosed
	}
	if o.started {
		return nil
	}

	stream, err := o.media.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire local media: %w", err)
	}
	o.started = true

	o.logger.Infow("call started",
		"peer_id", o.localID,
		"stream_id", stream.ID,
		"synthetic_media", stream.Synthetic,
		"tracks", stream.TrackIDs(),
	)
	return nil
}

// Dispose removes every peer and releases local media.
func (o *CallOrchestrator) Dispose() error {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return nil
	}
	o.disposed = true
	o.mu.Unlock()

	err := multierr.Combine(
		o.registry.Close(),
		o.media.Close(),
	)
	o.inflight.Wait()

	o.logger.Infow("call disposed", "peer_id", o.localID)
	return err
}

// track registers one background task if the call is running. The check and
// the Add share o.mu with Dispose, so no task starts once Dispose waits.
func (o *CallOrchestrator) track() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started || o.disposed {
		return false
	}
	o.inflight.Add(1)
	return true
}

// StartCall invites every roster member except the local peer in parallel
// and returns the combined invite errors.
func (o *CallOrchestrator) StartCall(ctx context.Context, roster []domain.PeerID) error {
	if err := o.Start(ctx); err != nil {
		return err
	}

	seen := make(map[domain.PeerID]struct{}, len(roster))
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, peerID := range roster {
		if peerID == o.localID {
			continue
		}
		if _, dup := seen[peerID]; dup {
			continue
		}
		seen[peerID] = struct{}{}

		wg.Add(1)
		go func(peerID domain.PeerID) {
			defer wg.Done()
			if err := o.registry.Invite(ctx, peerID); err != nil {
				o.logger.Errorw("invite failed", "peer_id", peerID, "error", err)
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}(peerID)
	}
	wg.Wait()

	o.logger.Infow("roster invited",
		"peer_id", o.localID,
		"invited", len(seen),
		"failed", len(multierr.Errors(errs)),
	)
	return errs
}

// HandleSignal decodes one inbound envelope and dispatches it to the
// registry.
func (o *CallOrchestrator) HandleSignal(ctx context.Context, raw []byte) error {
	sig, err := domain.DecodeSignal(raw)
	if err != nil {
		o.logger.Warnw("dropping undecodable signal", "error", err)
		return err
	}
	if sig.Target() != o.localID {
		o.logger.Warnw("dropping misaddressed signal",
			"sender_id", sig.Sender(),
			"target_id", sig.Target(),
		)
		return fmt.Errorf("signal for %s: %w", sig.Target(), domain.ErrMisaddressedSignal)
	}

	ctx, span := tracing.TraceSignal(ctx, string(sig.Type()), string(sig.Sender()), string(sig.Target()))
	defer span.End()

	switch s := sig.(type) {
	case domain.Offer:
		err = o.registry.AcceptOffer(ctx, s)
	case domain.Answer:
		err = o.registry.AcceptAnswer(ctx, s)
	case domain.Candidate:
		err = o.registry.AddRemoteCandidate(ctx, s)
	default:
		err = fmt.Errorf("%w: %s", domain.ErrUnknownSignalType, sig.Type())
	}

	if err != nil {
		tracing.RecordError(ctx, err)
		o.logger.Errorw("failed to handle signal",
			"peer_id", sig.Sender(),
			"signal_type", sig.Type(),
			"error", err,
		)
	}
	return err
}

// HandleRosterEvent invites peers that join an active call and tears down
// peers that leave. Invites run in the background so a slow peer never
// stalls the event stream.
func (o *CallOrchestrator) HandleRosterEvent(ctx context.Context, event ports.RosterEvent) error {
	if event.Peer == o.localID {
		return nil
	}

	switch event.Type {
	case ports.RosterPeerJoined:
		if !o.track() {
			o.logger.Debugw("call not active, ignoring join", "peer_id", event.Peer)
			return nil
		}
		go func() {
			defer o.inflight.Done()
			if err := o.registry.Invite(context.WithoutCancel(ctx), event.Peer); err != nil {
				o.logger.Warnw("invite after join failed", "peer_id", event.Peer, "error", err)
			}
		}()
		return nil

	case ports.RosterPeerLeft:
		err := o.registry.Remove(event.Peer)
		if errors.Is(err, domain.ErrPeerNotFound) {
			return nil
		}
		return err

	default:
		return fmt.Errorf("unknown roster event %q", event.Type)
	}
}

func (o *CallOrchestrator) Status(peerID domain.PeerID) (domain.CallStatus, bool) {
	return o.registry.Status(peerID)
}

// Statuses returns the status of every known peer, sorted by peer id.
func (o *CallOrchestrator) Statuses() []domain.CallStatus {
	peers := o.registry.Peers()
	statuses := make([]domain.CallStatus, 0, len(peers))
	for _, peerID := range peers {
		if status, ok := o.registry.Status(peerID); ok {
			statuses = append(statuses, status)
		}
	}
	return statuses
}
