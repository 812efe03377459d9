// Package telemetry provides application-level observability for the
// procurement backend.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<PRQ_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text
// exposition format and is intended to be scraped every 15–60 seconds.  It is
// NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Workflow transition counters by action and result
//   - Budget ledger reservation outcomes and optimistic-write conflicts
//   - Policy denial counters by reason
//   - Notification delivery counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as
// /api/v1/requisitions/:id/transitions) rather than the raw request URL to
// prevent unbounded label cardinality from user-supplied path segments such
// as requisition IDs.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Workflow metrics — recorded by the transition endpoints.
//
// WorkflowTransitionsTotal is a CounterVec with labels {action, result} where
// result is "applied", "invalid", "denied", "conflict", or "error".
//
// Example PromQL queries:
//   - Transition rate by action:  sum by (action) (rate(workflow_transitions_total{result="applied"}[5m]))
//   - Conflict ratio:             sum(rate(workflow_transitions_total{result="conflict"}[5m])) / sum(rate(workflow_transitions_total[5m]))
//
// PolicyDenialsTotal counts denied mutation attempts by deny reason. A spike
// in tenant_mismatch is a probe signal worth alerting on.
var (
	WorkflowTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Total number of requisition transition attempts, by action and result.",
		},
		[]string{"action", "result"},
	)

	PolicyDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_denials_total",
			Help: "Total number of denied mutation attempts, by deny reason.",
		},
		[]string{"reason"},
	)
)

// Budget ledger metrics.
//
// BudgetReservationsTotal is a CounterVec with label {outcome}:
// "reserved", "committed", "released", or "exceeded".
//
// BudgetConflictsTotal counts optimistic version-check misses on budget
// accounts. Retries absorb most of them; the counter measures contention,
// not failures.
//
// Example alert: increase(budget_reservations_total{outcome="exceeded"}[1h]) > 10
var (
	BudgetReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budget_reservations_total",
			Help: "Total number of budget ledger operations, by outcome.",
		},
		[]string{"outcome"},
	)

	BudgetConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "budget_conflicts_total",
			Help: "Total number of optimistic concurrency conflicts on budget account writes.",
		},
	)
)

// NotificationsSentTotal is a CounterVec with label {status} ("sent" or
// "failed") incremented once per delivery attempt by the notification mailer
// job. A stalled "sent" series with pending outbox rows accumulating is the
// SMTP outage signal.
var NotificationsSentTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of notification delivery attempts, by status.",
	},
	[]string{"status"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections
// currently held by the sql.DB connection pool.  It is sampled every 30
// seconds by StartDBStatsCollector rather than per-request to avoid the
// overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <PRQ_DATABASE_MAX_CONNECTIONS> * 100
//   - Alert on near-exhaustion: db_open_connections > 20  (for max_connections=25)
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the
// DBOpenConnections gauge.  The goroutine exits cleanly when the database
// becomes unreachable (db.Ping fails), which happens automatically when the
// application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
