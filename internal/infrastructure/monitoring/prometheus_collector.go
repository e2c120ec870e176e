package monitoring

import (
	"time"

	"fluxx/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements services.Metrics for the client and
// services.MatchmakingMetrics and services.ReportMetrics for the server.
type PrometheusCollector struct {
	// Client side
	sessionsCreated    *prometheus.CounterVec
	sessionsActive     prometheus.Gauge
	signalsDiscarded   *prometheus.CounterVec
	candidatesApplied  *prometheus.CounterVec
	candidatesRejected prometheus.Counter
	iceRestarts        *prometheus.CounterVec
	connectionStates   *prometheus.CounterVec
	timeToConnect      prometheus.Histogram
	queueTransitions   *prometheus.CounterVec
	rtpBytesReceived   *prometheus.CounterVec

	// Server side
	matchesTotal   prometheus.Counter
	queueWait      prometheus.Histogram
	queueDepth     prometheus.Gauge
	roomsActive    prometheus.Gauge
	signalsRelayed *prometheus.CounterVec
	bansTotal      prometheus.Counter
	reportsTotal   *prometheus.CounterVec
	storeBreakers  *prometheus.GaugeVec
	busMessages    *prometheus.CounterVec
	healthChecks   *prometheus.GaugeVec
}

// NewPrometheusCollector registers on the default registry.
func NewPrometheusCollector() *PrometheusCollector {
	return NewPrometheusCollectorWith(prometheus.DefaultRegisterer)
}

func NewPrometheusCollectorWith(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		sessionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxx_sessions_created_total",
			Help: "Peer sessions created, by negotiation role",
		}, []string{"role"}),

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fluxx_sessions_active",
			Help: "Peer sessions currently open",
		}),

		signalsDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxx_signals_discarded_total",
			Help: "Inbound signaling messages dropped by the negotiation engine",
		}, []string{"type", "reason"}),

		candidatesApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxx_ice_candidates_applied_total",
			Help: "Remote ICE candidates applied, split by whether they were buffered first",
		}, []string{"buffered"}),

		candidatesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "fluxx_ice_candidates_rejected_total",
			Help: "Remote ICE candidates the peer connection refused",
		}),

		iceRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxx_ice_restarts_total",
			Help: "ICE restart attempts by outcome",
		}, []string{"outcome"}),

		connectionStates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxx_connection_state_changes_total",
			Help: "Peer connection state changes",
		}, []string{"state"}),

		timeToConnect: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fluxx_time_to_connect_seconds",
			Help:    "Time from session creation to connected",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		queueTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxx_queue_transitions_total",
			Help: "Queue status transitions",
		}, []string{"from", "to"}),

		rtpBytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxx_rtp_received_bytes_total",
			Help: "RTP payload bytes received on remote tracks",
		}, []string{"kind"}),

		matchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fluxx_matches_total",
			Help: "Pairs formed by the matchmaker",
		}),

		queueWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fluxx_queue_wait_seconds",
			Help:    "How long the responder waited before being matched",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fluxx_queue_depth",
			Help: "Users waiting for a partner",
		}),

		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fluxx_rooms_active",
			Help: "Rooms with two members",
		}),

		signalsRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxx_signals_relayed_total",
			Help: "Negotiation messages relayed between room members",
		}, []string{"type"}),

		bansTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fluxx_bans_total",
			Help: "Bans issued",
		}),

		reportsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxx_reports_total",
			Help: "Partner reports filed, by reason",
		}, []string{"reason"}),

		storeBreakers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fluxx_store_breaker_state",
			Help: "Circuit breaker state per store (0 closed, 1 open, 2 half-open)",
		}, []string{"store"}),

		busMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxx_signal_bus_messages_total",
			Help: "Messages crossing the inter-instance signal bus",
		}, []string{"direction", "outcome"}),

		healthChecks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fluxx_health_check_up",
			Help: "Last result of each health check (1 healthy, 0 failing)",
		}, []string{"check"}),
	}
}

func (p *PrometheusCollector) SessionCreated(role domain.Role) {
	p.sessionsCreated.WithLabelValues(string(role)).Inc()
	p.sessionsActive.Inc()
}

func (p *PrometheusCollector) SessionClosed() {
	p.sessionsActive.Dec()
}

func (p *PrometheusCollector) SignalDiscarded(msgType domain.MessageType, reason string) {
	p.signalsDiscarded.WithLabelValues(string(msgType), reason).Inc()
}

func (p *PrometheusCollector) CandidateApplied(buffered bool) {
	label := "false"
	if buffered {
		label = "true"
	}
	p.candidatesApplied.WithLabelValues(label).Inc()
}

func (p *PrometheusCollector) CandidateRejected() {
	p.candidatesRejected.Inc()
}

func (p *PrometheusCollector) ICERestart(ok bool) {
	outcome := "failed"
	if ok {
		outcome = "started"
	}
	p.iceRestarts.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) ConnectionState(state domain.ConnectionState) {
	p.connectionStates.WithLabelValues(string(state)).Inc()
}

func (p *PrometheusCollector) TimeToConnect(d time.Duration) {
	p.timeToConnect.Observe(d.Seconds())
}

func (p *PrometheusCollector) QueueTransition(from, to domain.QueueStatus) {
	p.queueTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordRTPReceived counts payload bytes read from a remote track.
func (p *PrometheusCollector) RecordRTPReceived(kind domain.TrackKind, bytes int) {
	p.rtpBytesReceived.WithLabelValues(string(kind)).Add(float64(bytes))
}

func (p *PrometheusCollector) MatchMade(wait time.Duration) {
	p.matchesTotal.Inc()
	p.queueWait.Observe(wait.Seconds())
}

func (p *PrometheusCollector) QueueDepth(n int) {
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusCollector) ActiveRooms(n int) {
	p.roomsActive.Set(float64(n))
}

func (p *PrometheusCollector) SignalRelayed(msgType domain.MessageType) {
	p.signalsRelayed.WithLabelValues(string(msgType)).Inc()
}

func (p *PrometheusCollector) UserBanned() {
	p.bansTotal.Inc()
}

func (p *PrometheusCollector) UserReported(reason domain.ReportReason) {
	p.reportsTotal.WithLabelValues(string(reason)).Inc()
}

// StoreBreakerState records a store breaker transition. state follows
// circuitbreaker.State numbering.
func (p *PrometheusCollector) StoreBreakerState(store string, state int) {
	p.storeBreakers.WithLabelValues(store).Set(float64(state))
}

func (p *PrometheusCollector) BusMessage(direction, outcome string) {
	p.busMessages.WithLabelValues(direction, outcome).Inc()
}

func (p *PrometheusCollector) HealthCheckResult(check string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	p.healthChecks.WithLabelValues(check).Set(v)
}
