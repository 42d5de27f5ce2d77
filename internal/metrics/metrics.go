// Package metrics declares the Prometheus collectors for the signaling hub.
//
// Naming convention: namespace_subsystem_name.
//   - namespace: meeting_hub (application-level grouping)
//   - subsystem: websocket, room, admission, signaling, transcription, redis, circuit_breaker, rate_limit
//   - name: specific metric (connections_active, events_total, etc.)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "meeting_hub",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "meeting_hub",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "meeting_hub",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants in each room",
	}, []string{"room_id"})

	WebSocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meeting_hub",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "meeting_hub",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing a WebSocket message",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	AdmissionRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meeting_hub",
		Subsystem: "admission",
		Name:      "requests_total",
		Help:      "Total join requests processed, by outcome",
	}, []string{"outcome"})

	PendingRequestsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "meeting_hub",
		Subsystem: "admission",
		Name:      "pending_requests",
		Help:      "Current number of pending join requests per room",
	}, []string{"room_id"})

	AdmissionExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "meeting_hub",
		Subsystem: "admission",
		Name:      "expired_total",
		Help:      "Total pending join requests expired by the sweeper",
	})

	SignalingRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meeting_hub",
		Subsystem: "signaling",
		Name:      "relayed_total",
		Help:      "Total signaling messages relayed, by type and status",
	}, []string{"type", "status"})

	TranscriptEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "meeting_hub",
		Subsystem: "transcription",
		Name:      "entries_total",
		Help:      "Total finalized transcription entries appended",
	})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "meeting_hub",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meeting_hub",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meeting_hub",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meeting_hub",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total requests evaluated by the rate limiter",
	}, []string{"endpoint"})

	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meeting_hub",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
