package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// WebSocketSessions is the gauge of open duplex sessions by room kind.
	WebSocketSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "huddle_websocket_sessions",
		Help: "Number of open WebSocket sessions by room kind",
	}, []string{"room_kind"})

	// WebSocketRooms is the gauge of rooms with at least one session.
	WebSocketRooms = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "huddle_websocket_rooms",
		Help: "Number of active rooms by kind",
	}, []string{"room_kind"})

	// WebSocketFramesTotal counts inbound frames by type and outcome.
	WebSocketFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_websocket_frames_total",
		Help: "Inbound WebSocket frames by type and outcome",
	}, []string{"frame_type", "outcome"})

	// WebSocketClosesTotal counts server-initiated session closes by reason.
	WebSocketClosesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_websocket_closes_total",
		Help: "Server-initiated WebSocket closes by reason",
	}, []string{"reason"})

	// BroadcastLatency records the time from room submission to fan-out completion.
	BroadcastLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "huddle_broadcast_latency_seconds",
		Help:    "Latency of persist-and-broadcast per room event",
		Buckets: prometheus.DefBuckets,
	}, []string{"room_kind"})

	// MessagesPersisted counts appended messages by type.
	MessagesPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_messages_persisted_total",
		Help: "Messages appended to the store by type",
	}, []string{"message_type"})

	// TokenVerifyFailures counts rejected tokens by failure kind.
	TokenVerifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_token_verify_failures_total",
		Help: "Rejected tokens by failure kind",
	}, []string{"kind"})

	// AccountTransitions counts account state transitions.
	AccountTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_account_transitions_total",
		Help: "Account state machine transitions",
	}, []string{"from", "to"})

	// ModerationActionsTotal counts moderation actions by type.
	ModerationActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_moderation_actions_total",
		Help: "Moderation actions applied by type",
	}, []string{"action"})

	// PresenceTransitions counts presence status changes.
	PresenceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_presence_transitions_total",
		Help: "Presence status changes by target status and cause",
	}, []string{"status", "cause"})

	// SweeperRuns counts periodic task runs by task and outcome.
	SweeperRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_sweeper_runs_total",
		Help: "Periodic task runs by task and outcome",
	}, []string{"task", "outcome"})

	// SweeperAffected counts rows changed by each periodic task.
	SweeperAffected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_sweeper_affected_total",
		Help: "Rows changed by periodic tasks",
	}, []string{"task"})

	// EventHandlerPanics counts recovered panics in event bus handlers.
	EventHandlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_event_handler_panics_total",
		Help: "Recovered panics in event bus handlers by event type",
	}, []string{"event"})
)
