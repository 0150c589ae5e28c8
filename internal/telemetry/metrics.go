// Package telemetry provides application-level observability for the LMS
// security core.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and
// served from a side-channel HTTP server started by cmd/server (default port
// 9090, path /metrics). The endpoint is not part of the Gin router, so it is
// never rate-limited or gated by the policy middleware.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template)
//   - Authentication outcome counters (success / failure / locked / mfa)
//   - Policy decision counters by denying rule
//   - Audit chain append failures and verification state
//   - Database connection pool gauge (polled every 30 s)
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/resources/:id)
// rather than the raw request URL to prevent unbounded label cardinality.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics: labelled by method, route template, and status code.
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

// Authentication metrics: recorded by the authentication guard.
//
// The outcome label takes one of: success, failure, locked, mfa_required.
// An alert on rate(login_attempts_total{outcome="locked"}[15m])
// is a cheap brute-force early-warning signal.
var LoginAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "login_attempts_total",
		Help: "Total number of login attempts, by outcome.",
	},
	[]string{"outcome"},
)

// Policy decision metrics: recorded by the enforcement point.
//
// The rule label is the denying rule (OFF_HOURS, MAC, ABAC, DAC) or "none"
// for an allow, so a per-rule deny rate can be graphed directly:
//
//	sum by (rule) (rate(policy_decisions_total{allowed="false"}[5m]))
var PolicyDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "policy_decisions_total",
		Help: "Total number of access decisions, by outcome and denying rule.",
	},
	[]string{"allowed", "rule"},
)

// Audit chain metrics.
//
// AuditAppendFailuresTotal counts audit entries that could not be written.
// Audit writes are deliberately best-effort (a failed write never fails the
// caller's primary action), so this counter IS the operational visibility
// for that tradeoff; alert on any increase:
//
//	increase(audit_append_failures_total[5m]) > 0
//
// AuditChainValid is set by the periodic verification job: 1 while the most
// recent full-chain verification passed, 0 after a failure. Alert on 0.
var (
	AuditAppendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_append_failures_total",
			Help: "Total number of audit chain append failures (swallowed, best-effort writes).",
		},
	)

	AuditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entries successfully appended, by action.",
		},
		[]string{"action"},
	)

	AuditChainValid = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_chain_valid",
			Help: "1 if the last full audit chain verification succeeded, 0 otherwise.",
		},
	)

	AuditChainLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_chain_length",
			Help: "Number of entries covered by the last audit chain verification.",
		},
	)
)

// DBOpenConnections tracks the number of open connections currently held by
// the sql.DB pool. It is sampled every 30 seconds by StartDBStatsCollector
// rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates DBOpenConnections.
// The goroutine exits when the database becomes unreachable, which happens
// naturally at shutdown when the deferred db.Close() runs.
//
// Call this once, immediately after the database connection succeeds:
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
