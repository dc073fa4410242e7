package monitoring

import (
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.CallMetrics for peers and
// signal.RelayMetrics for the relay.
type PrometheusCollector struct {
	peersActive     prometheus.Gauge
	peersAddedTotal prometheus.Counter

	negotiationDuration *prometheus.HistogramVec
	negotiationsFailed  *prometheus.CounterVec
	iceStateChanges     *prometheus.CounterVec

	localCandidates  *prometheus.CounterVec
	remoteCandidates *prometheus.CounterVec

	relayConnections prometheus.Gauge
	relayRouted      *prometheus.CounterVec
	relayDropped     *prometheus.CounterVec
}

// NewPrometheusCollector registers every metric on reg. Passing
// prometheus.DefaultRegisterer exposes them on promhttp.Handler().
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		peersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callmesh_peers_active",
			Help: "Number of peer connections currently held",
		}),

		peersAddedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "callmesh_peers_added_total",
			Help: "Total number of peer connections created",
		}),

		negotiationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callmesh_negotiation_duration_seconds",
			Help:    "Duration of offer/answer negotiation steps",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"role"}),

		negotiationsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callmesh_negotiations_failed_total",
			Help: "Total number of failed negotiation steps",
		}, []string{"role"}),

		iceStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callmesh_ice_state_changes_total",
			Help: "ICE connection state transitions by target state",
		}, []string{"state"}),

		localCandidates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callmesh_local_candidates_total",
			Help: "Local ICE candidates by outcome",
		}, []string{"outcome"}),

		remoteCandidates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callmesh_remote_candidates_total",
			Help: "Remote ICE candidates by outcome",
		}, []string{"outcome"}),

		relayConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callmesh_relay_connections",
			Help: "Number of websocket connections held by the relay",
		}),

		relayRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callmesh_relay_messages_routed_total",
			Help: "Signaling messages forwarded by the relay",
		}, []string{"type"}),

		relayDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callmesh_relay_messages_dropped_total",
			Help: "Signaling messages rejected by the relay",
		}, []string{"reason"}),
	}
}

func (p *PrometheusCollector) PeerAdded() {
	p.peersActive.Inc()
	p.peersAddedTotal.Inc()
}

func (p *PrometheusCollector) PeerRemoved() {
	p.peersActive.Dec()
}

func (p *PrometheusCollector) ObserveNegotiation(role string, duration time.Duration, err error) {
	if err != nil {
		p.negotiationsFailed.WithLabelValues(role).Inc()
		return
	}
	p.negotiationDuration.WithLabelValues(role).Observe(duration.Seconds())
}

func (p *PrometheusCollector) ICEStateChanged(state webrtc.ICEConnectionState) {
	p.iceStateChanges.WithLabelValues(state.String()).Inc()
}

func (p *PrometheusCollector) LocalCandidateForwarded() {
	p.localCandidates.WithLabelValues("forwarded").Inc()
}

func (p *PrometheusCollector) LocalCandidateDuplicate() {
	p.localCandidates.WithLabelValues("duplicate").Inc()
}

func (p *PrometheusCollector) RemoteCandidateApplied() {
	p.remoteCandidates.WithLabelValues("applied").Inc()
}

func (p *PrometheusCollector) RemoteCandidateQueued() {
	p.remoteCandidates.WithLabelValues("queued").Inc()
}

func (p *PrometheusCollector) RemoteCandidateFlushed(err error) {
	if err != nil {
		p.remoteCandidates.WithLabelValues("flush_failed").Inc()
		return
	}
	p.remoteCandidates.WithLabelValues("flushed").Inc()
}

func (p *PrometheusCollector) MessageRouted(signalType string) {
	p.relayRouted.WithLabelValues(signalType).Inc()
}

func (p *PrometheusCollector) MessageDropped(reason string) {
	p.relayDropped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) ConnectionsChanged(count int) {
	p.relayConnections.Set(float64(count))
}
