package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay gauges
var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_signaling_active_rooms",
		Help: "Number of rooms with at least one connected participant",
	})
	ActiveParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_signaling_active_participants",
		Help: "Number of connected signaling sockets",
	})
)

// Relay counters
var (
	MessagesRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_signaling_messages_relayed_total",
		Help: "Signaling messages relayed by type",
	}, []string{"type"})
	SocketsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_signaling_sockets_dropped_total",
		Help: "Sockets closed by the relay by reason",
	}, []string{"reason"})
	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_signaling_rate_limited_total",
		Help: "Inbound messages rejected by the per-socket rate limit",
	})
	JoinsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_signaling_joins_rejected_total",
		Help: "WebSocket joins rejected before upgrade by reason",
	}, []string{"reason"})
)

// Client counters
var (
	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_client_calls_total",
		Help: "Calls finished by terminal status",
	}, []string{"status"})
	CallSetupSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "call_client_setup_seconds",
		Help:    "Time from Initialize to first connected peer",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
	})
)
