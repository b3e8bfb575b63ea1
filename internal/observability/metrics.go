package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersTotal counts gift transfers by outcome.
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_transfers_total",
		Help: "Total number of gift transfers by outcome",
	}, []string{"outcome"})

	// LedgerAmount records the amount of every completed ledger entry by kind.
	LedgerAmount = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fetch_ledger_entry_amount",
		Help:    "Amount of completed ledger entries",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	}, []string{"kind"})

	// StoreRetries counts retried store transactions by operation.
	StoreRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_store_retries_total",
		Help: "Total number of store operations retried after a write conflict",
	}, []string{"operation"})

	// SideEffectFailures counts best-effort post-commit effects that failed.
	SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_side_effect_failures_total",
		Help: "Total number of failed post-commit side effects",
	}, []string{"effect"})

	// FriendRequestsTotal counts friend graph operations by action and outcome.
	FriendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_friend_requests_total",
		Help: "Total friend graph operations by action and outcome",
	}, []string{"action", "outcome"})

	// NotificationsTotal counts notification records appended by kind.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_notifications_total",
		Help: "Total notifications appended by kind",
	}, []string{"kind"})

	// HubSubscribers is the gauge of live change-event subscriptions.
	HubSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fetch_hub_subscribers",
		Help: "Number of active change-event subscriptions",
	})

	// HubDrops counts events dropped because a subscriber was too slow.
	HubDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_hub_drops_total",
		Help: "Total number of change events dropped due to backpressure",
	}, []string{"event_type"})

	// RedisErrors counts Redis errors by command.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fetch_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// ScheduledJobRuns counts scheduler job executions by job and outcome.
	ScheduledJobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_scheduled_job_runs_total",
		Help: "Total scheduled job runs by job and outcome",
	}, []string{"job", "outcome"})

	// ActiveWebSockets is the gauge of open change-stream connections.
	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fetch_active_websockets",
		Help: "Number of open change-stream websocket connections",
	})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
