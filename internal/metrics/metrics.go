// Package metrics provides Prometheus instrumentation for the RiskOps service.
package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskops",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskops",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AnalysesTotal counts risk analyses by pre-mitigation severity level.
	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskops",
			Name:      "analyses_total",
			Help:      "Total risk analyses by severity level.",
		},
		[]string{"level"},
	)

	// SeverityScore observes global severity scores (0-100).
	SeverityScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "riskops",
		Name:      "severity_score",
		Help:      "Global severity score of analysed incidents.",
		Buckets:   []float64{10, 25, 40, 50, 60, 75, 90, 100},
	})

	// RiskReductionPct observes the simulated mitigation effect.
	RiskReductionPct = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "riskops",
		Name:      "risk_reduction_pct",
		Help:      "Risk reduction percentage after simulated mitigation.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})

	// EstimatedCost observes estimated incident costs.
	EstimatedCost = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "riskops",
		Name:      "estimated_cost",
		Help:      "Estimated incident cost before mitigation.",
		Buckets:   []float64{0, 100, 1000, 5000, 10000, 50000, 100000, 500000},
	})

	// ReportsTotal counts PDF report generations by result.
	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskops",
			Name:      "reports_total",
			Help:      "Total incident reports generated by result.",
		},
		[]string{"result"},
	)

	// ValidationFailuresTotal counts rejected requests.
	ValidationFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "riskops",
		Name:      "validation_failures_total",
		Help:      "Total requests rejected by structural validation.",
	})

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "riskops",
		Name:      "rate_limited_total",
		Help:      "Total requests rejected with 429.",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "riskops",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AnalysesTotal,
		SeverityScore,
		RiskReductionPct,
		EstimatedCost,
		ReportsTotal,
		ValidationFailuresTotal,
		RateLimitedTotal,
		ActiveWebSocketClients,
	)
}

// ObserveAnalysis records one completed analysis.
func ObserveAnalysis(level string, score, reductionPct, cost float64) {
	AnalysesTotal.WithLabelValues(level).Inc()
	SeverityScore.Observe(score)
	RiskReductionPct.Observe(reductionPct)
	EstimatedCost.Observe(cost)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// route pattern keeps cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
