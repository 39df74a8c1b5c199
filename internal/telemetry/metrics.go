// Package telemetry provides application-level observability for the Heirloom
// family administration service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<HLM_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format and is intended to be scraped every 15–60 seconds.  It is NOT served by
// the Gin router, which keeps the scrape path off the public ingress and out of
// the rate-limiting middleware.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Admin-claim lifecycle counters (created, transitions, endorsements, grants)
//   - Notification fan-out counters
//   - Grant/expiry sweep duration histogram
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/claims/:id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as claim or family IDs.
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
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template, NOT the raw URL.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and
// exponential-ish buckets from 5 ms to 30 s.
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

// Admin-claim lifecycle metrics.
//
// ClaimsCreatedTotal is a CounterVec with label {claim_type} incremented once
// per successfully persisted claim.
//
// ClaimTransitionsTotal is a CounterVec with labels {from, to} incremented by
// the claim processor on every state change, including sweep-driven expiries
// and grants.  A spike in pending→denied is an early signal of contested
// takeovers worth a moderator's attention.
//
// Example PromQL queries:
//   - Approval rate:   sum(rate(claim_transitions_total{to="approved"}[1d]))
//   - Grants per week: increase(claim_transitions_total{to="granted"}[7d])
var (
	ClaimsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_claims_created_total",
			Help: "Total number of admin claims created, by claim type.",
		},
		[]string{"claim_type"},
	)

	ClaimTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_claim_transitions_total",
			Help: "Total number of admin claim state transitions, by from and to status.",
		},
		[]string{"from", "to"},
	)

	EndorsementsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_endorsements_recorded_total",
			Help: "Total number of endorsement votes recorded (including vote changes), by endorsement type.",
		},
		[]string{"endorsement_type"},
	)
)

// Notification fan-out metrics.  NotificationFailuresTotal counting up while
// NotificationsSentTotal stalls is the alert signal for a broken insert path —
// fan-out failures are deliberately swallowed by the notifier, so metrics and
// logs are the only place they surface.
var (
	NotificationsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of in-app notification rows successfully inserted.",
		},
	)

	NotificationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_failures_total",
			Help: "Total number of notification inserts that failed (best-effort, logged only).",
		},
	)
)

// SweepDuration is a Histogram using the default Prometheus buckets.  Each
// observation represents one complete pass of the claim sweeper (expiring
// stale email challenges and granting cooled-off claims).
var SweepDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "claim_sweep_duration_seconds",
		Help:    "Duration of a single claim grant/expiry sweep pass.",
		Buckets: prometheus.DefBuckets,
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
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
