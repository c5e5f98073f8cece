package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmerrifield20/serviceledger/internal/serviceledger"
)

var (
	ledgerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	ledgerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// LedgerMetrics holds the ledger's domain metrics. It satisfies
// serviceledger.MetricsRecorder.
type LedgerMetrics struct {
	appends       prometheus.Counter
	conflicts     prometheus.Counter
	verifications *prometheus.CounterVec
	audits        *prometheus.CounterVec
	chainValid    prometheus.Gauge
	blocks        prometheus.Gauge
}

// NewLedgerMetrics registers the ledger metrics with reg
// (prometheus.DefaultRegisterer in production).
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	f := promauto.With(reg)
	return &LedgerMetrics{
		appends: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_appends_total",
			Help: "Total service records committed to the ledger.",
		}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_append_conflicts_total",
			Help: "Total append attempts that lost a race for the next block and were retried.",
		}),
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_verifications_total",
			Help: "Total record verifications by result.",
		}, []string{"result"}),
		audits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_audits_total",
			Help: "Total full-chain audits by result.",
		}, []string{"result"}),
		chainValid: f.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_chain_valid",
			Help: "1 if the most recent audit found no integrity issues, 0 otherwise.",
		}),
		blocks: f.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_blocks",
			Help: "Number of blocks seen by the most recent audit.",
		}),
	}
}

// AppendCommitted implements serviceledger.MetricsRecorder.
func (m *LedgerMetrics) AppendCommitted() { m.appends.Inc() }

// AppendConflict implements serviceledger.MetricsRecorder.
func (m *LedgerMetrics) AppendConflict() { m.conflicts.Inc() }

// Verification implements serviceledger.MetricsRecorder.
func (m *LedgerMetrics) Verification(reason serviceledger.VerifyReason) {
	m.verifications.WithLabelValues(string(reason)).Inc()
}

// ObserveAudit records the outcome of a chain audit.
func (m *LedgerMetrics) ObserveAudit(report *serviceledger.AuditReport) {
	m.blocks.Set(float64(report.TotalBlocks))
	if report.IsValid {
		m.chainValid.Set(1)
		m.audits.WithLabelValues("valid").Inc()
	} else {
		m.chainValid.Set(0)
		m.audits.WithLabelValues("broken").Inc()
	}
}

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		ledgerRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		ledgerRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
