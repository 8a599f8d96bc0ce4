package observability

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gepspresale/core/events"
)

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	presaleMetricsOnce sync.Once
	presaleRegistry    *PresaleMetrics
)

// HTTP returns the lazily-initialised registry recording API activity.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "geps",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "geps",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "geps",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "geps",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by rate limiting.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason.
func (m *httpMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// PresaleMetrics tracks sale progress. It also implements events.Emitter so it
// can be fanned out alongside the journal.
type PresaleMetrics struct {
	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	purchases     *prometheus.CounterVec
	tokensSold    prometheus.Counter
	claims        prometheus.Counter
	currentStage  prometheus.Gauge
	phase         prometheus.Gauge
	oracleFailure *prometheus.CounterVec
}

// Presale returns the singleton presale metrics registry.
func Presale() *PresaleMetrics {
	presaleMetricsOnce.Do(func() {
		presaleRegistry = &PresaleMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "geps",
				Subsystem: "presale",
				Name:      "operations_total",
				Help:      "Count of presale operations segmented by operation and result code.",
			}, []string{"operation", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "geps",
				Subsystem: "presale",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for presale operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "geps",
				Subsystem: "presale",
				Name:      "purchases_total",
				Help:      "Committed purchases segmented by payment currency.",
			}, []string{"currency"}),
			tokensSold: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "geps",
				Subsystem: "presale",
				Name:      "tokens_sold_total",
				Help:      "Token base units sold, as a float approximation.",
			}),
			claims: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "geps",
				Subsystem: "presale",
				Name:      "claims_total",
				Help:      "Completed claims.",
			}),
			currentStage: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "geps",
				Subsystem: "presale",
				Name:      "current_stage",
				Help:      "Index of the stage currently selling.",
			}),
			phase: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "geps",
				Subsystem: "presale",
				Name:      "phase",
				Help:      "Sale phase: 0 not started, 1 active, 2 ended.",
			}),
			oracleFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "geps",
				Subsystem: "presale",
				Name:      "oracle_failures_total",
				Help:      "Price feed refresh failures segmented by currency.",
			}, []string{"currency"}),
		}
		prometheus.MustRegister(
			presaleRegistry.operations,
			presaleRegistry.latency,
			presaleRegistry.purchases,
			presaleRegistry.tokensSold,
			presaleRegistry.claims,
			presaleRegistry.currentStage,
			presaleRegistry.phase,
			presaleRegistry.oracleFailure,
		)
	})
	return presaleRegistry
}

// Observe records an operation outcome. code is a stable error code, empty on
// success.
func (m *PresaleMetrics) Observe(operation, code string, duration time.Duration) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if code == "" {
		code = "ok"
	}
	m.operations.WithLabelValues(op, code).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordOracleFailure increments the feed failure counter.
func (m *PresaleMetrics) RecordOracleFailure(currency string) {
	if m == nil {
		return
	}
	m.oracleFailure.WithLabelValues(strings.ToUpper(strings.TrimSpace(currency))).Inc()
}

// Emit implements events.Emitter.
func (m *PresaleMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	raw := evt.Event()
	if raw == nil {
		return
	}
	attrs := raw.Attributes
	switch raw.Type {
	case events.TypePresaleStarted:
		m.phase.Set(1)
		m.currentStage.Set(0)
	case events.TypePresalePurchased:
		m.purchases.WithLabelValues(attrs["currency"]).Inc()
		if amount, ok := new(big.Float).SetString(attrs["amount"]); ok {
			f, _ := amount.Float64()
			m.tokensSold.Add(f)
		}
	case events.TypePresaleStage:
		if to, err := strconv.Atoi(attrs["to"]); err == nil {
			m.currentStage.Set(float64(to))
		}
	case events.TypePresaleEnded:
		m.phase.Set(2)
	case events.TypePresaleClaimed:
		m.claims.Inc()
	}
}
