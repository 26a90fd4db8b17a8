// Package telemetry provides application-level observability for the storefront
// identity service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and served
// on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<SFA_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Elevation request submissions and approvals, by tier and outcome
//   - Login and second-factor attempts, by stage and outcome
//   - Outbound notification deliveries
//   - Rate limiter rejections
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /superadmin/users/:userId/ban)
// rather than the raw request URL. Outcome labels are fixed short strings, never
// error messages.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Error rate (%):        sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route: histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
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

// Provisioning metrics.
//
// ProvisioningRequestsTotal counts elevation request submissions with labels
// {tier, outcome}; outcome is "created", "conflict", "invalid", "forbidden" or "error".
// ProvisioningApprovalsTotal counts approval attempts with the same labels;
// outcome is "approved", "not_found", "expired", "invalid_token", "conflict" or "error".
//
// Example PromQL queries:
//   - Failed approvals:  sum by (outcome) (rate(provisioning_approvals_total{outcome!="approved"}[1h]))
var (
	ProvisioningRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_requests_total",
			Help: "Total number of elevation request submissions, by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	ProvisioningApprovalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_approvals_total",
			Help: "Total number of elevation approval attempts, by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)
)

// LoginAttemptsTotal counts login workflow steps with labels {stage, outcome}.
// stage is "password", "code" or "registration"; outcome is "ok" or a short
// failure class ("invalid", "unverified", "banned", "expired", ...). A spike in
// {stage="password",outcome="invalid"} is the usual credential stuffing signal.
var LoginAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "login_attempts_total",
		Help: "Total number of login and verification attempts, by stage and outcome.",
	},
	[]string{"stage", "outcome"},
)

// NotificationsSentTotal counts outbound emails with labels {kind, status}.
// status is "sent" or "failed". Failures never fail the originating request.
var NotificationsSentTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of outbound notification emails, by kind and delivery status.",
	},
	[]string{"kind", "status"},
)

// RateLimitedRequestsTotal counts requests rejected by the rate limiter, by scope.
var RateLimitedRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rate_limited_requests_total",
		Help: "Total number of requests rejected by the rate limiter, by limiter scope.",
	},
	[]string{"scope"},
)

// SweptRecordsTotal counts records cleaned up by the expiry sweeper, by kind
// ("elevation_request" or "code").
var SweptRecordsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "expiry_swept_records_total",
		Help: "Total number of expired records removed or cleared by the background sweeper.",
	},
	[]string{"kind"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples connection pool statistics every 30 seconds
// until ctx is cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
