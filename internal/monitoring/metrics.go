package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the session server, exposed at /metrics.
var (
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arcade_sessions_active",
		Help: "Current number of live sessions",
	})

	SessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arcade_sessions_created_total",
		Help: "Total number of sessions created",
	})

	SessionsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arcade_sessions_ended_total",
		Help: "Total sessions ended by reason",
	}, []string{"reason"})

	PlayersJoined = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arcade_players_joined_total",
		Help: "Total players joined across all sessions",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arcade_connections_active",
		Help: "Current number of open WebSocket connections",
	})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arcade_connections_rejected_total",
		Help: "Connection attempts rejected before upgrade, by reason",
	}, []string{"reason"})

	MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arcade_messages_received_total",
		Help: "Inbound messages accepted by the codec, by type",
	}, []string{"type"})

	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arcade_messages_sent_total",
		Help: "Outbound messages enqueued to clients",
	})

	QuestionsServed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arcade_questions_served_total",
		Help: "Questions issued to players, by source",
	}, []string{"source"})

	AnswersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arcade_answers_total",
		Help: "Answers accepted, by result",
	}, []string{"result"})

	DeathsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arcade_deaths_total",
		Help: "Death events accepted",
	})

	SendQueueDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arcade_send_queue_drops_total",
		Help: "Connections closed because their send queue overflowed",
	})

	HeartbeatTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arcade_heartbeat_timeouts_total",
		Help: "Connections closed after a missed heartbeat",
	})

	BroadcastDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "arcade_broadcast_duration_seconds",
		Help:    "Time to enqueue one broadcast to all session connections",
		Buckets: []float64{.000001, .00001, .0001, .001, .01, .1},
	})

	EventPublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arcade_event_publish_failures_total",
		Help: "Session lifecycle events that failed to publish",
	})

	CPUUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arcade_cpu_usage_percent",
		Help: "Process CPU usage percentage",
	})

	MemoryUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arcade_memory_usage_percent",
		Help: "System memory usage percentage",
	})

	GoroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arcade_goroutines_active",
		Help: "Current number of goroutines",
	})
)

func init() {
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SessionsCreated)
	prometheus.MustRegister(SessionsEnded)
	prometheus.MustRegister(PlayersJoined)
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(ConnectionsRejected)
	prometheus.MustRegister(MessagesReceived)
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(QuestionsServed)
	prometheus.MustRegister(AnswersTotal)
	prometheus.MustRegister(DeathsTotal)
	prometheus.MustRegister(SendQueueDrops)
	prometheus.MustRegister(HeartbeatTimeouts)
	prometheus.MustRegister(BroadcastDuration)
	prometheus.MustRegister(EventPublishFailures)
	prometheus.MustRegister(CPUUsagePercent)
	prometheus.MustRegister(MemoryUsagePercent)
	prometheus.MustRegister(GoroutinesActive)
}
