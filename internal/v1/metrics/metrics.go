package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the game engine.
//
// Naming convention: namespace_subsystem_name
// - namespace: find_the_ai (application-level grouping)
// - subsystem: room, scheduler, llm, bus (feature-level grouping)
//
// Metric Types:
// - Gauge: Current state (rooms, players, in-flight generations)
// - Counter: Cumulative events (messages, trigger drops, LLM failures)
// - Histogram: Latency distributions (LLM calls, operation time)

var (
	// ActiveRooms tracks the current number of live rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "find_the_ai",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomHumans tracks the number of connected humans per room.
	RoomHumans = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "find_the_ai",
		Subsystem: "room",
		Name:      "humans_count",
		Help:      "Number of human players in each room",
	}, []string{"room_code"})

	// MessagesTotal counts chat messages appended, by sender kind.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "find_the_ai",
		Subsystem: "room",
		Name:      "messages_total",
		Help:      "Total chat messages appended to room logs",
	}, []string{"kind"})

	// GamesTotal counts finished games by winner.
	GamesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "find_the_ai",
		Subsystem: "room",
		Name:      "games_total",
		Help:      "Total games finished, labelled by winner",
	}, []string{"winner"})

	// TriggerDrops counts scheduler triggers dropped because a cycle was in flight.
	TriggerDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "find_the_ai",
		Subsystem: "scheduler",
		Name:      "trigger_drops_total",
		Help:      "Scheduler triggers dropped while another cycle held the trigger lock",
	})

	// GenerationsInFlight tracks agents currently generating a reply.
	GenerationsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "find_the_ai",
		Subsystem: "scheduler",
		Name:      "generations_in_flight",
		Help:      "AI generations currently running on the worker pool",
	})

	// LLMCallDuration tracks LLM call latency by call type and outcome.
	LLMCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "find_the_ai",
		Subsystem: "llm",
		Name:      "call_seconds",
		Help:      "LLM call latency",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 30},
	}, []string{"call", "status"})

	// BusSubscribers tracks attached subscribers per room.
	BusSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "find_the_ai",
		Subsystem: "bus",
		Name:      "subscribers",
		Help:      "Attached event-stream subscribers per room",
	}, []string{"room_code"})

	// BusDrops counts subscribers dropped on buffer overflow.
	BusDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "find_the_ai",
		Subsystem: "bus",
		Name:      "subscriber_drops_total",
		Help:      "Subscribers dropped because their event buffer overflowed",
	})

	// CircuitBreakerState reports breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "find_the_ai",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker state per downstream (0=closed,1=open,2=half-open)",
	}, []string{"name"})

	// CircuitBreakerFailures counts requests rejected by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "find_the_ai",
		Subsystem: "breaker",
		Name:      "rejections_total",
		Help:      "Requests rejected while a circuit breaker was open",
	}, []string{"name"})

	// ActiveWebSocketConnections tracks active subscriber sockets.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "find_the_ai",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// RateLimitRequests counts requests that passed the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "find_the_ai",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Requests checked and allowed by the rate limiter",
	}, []string{"path"})

	// RateLimitExceeded counts requests rejected by the rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "find_the_ai",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Requests rejected because a rate limit was reached",
	}, []string{"path", "limit_type"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
