package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	synthMetricsOnce sync.Once
	synthRegistry    *SynthMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *HTTPMetrics
)

// SynthMetrics captures mint/burn coordinator activity and solvency gauges.
type SynthMetrics struct {
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	errors      *prometheus.CounterVec
	aborts      *prometheus.CounterVec
	outstanding prometheus.Gauge
	treasury    prometheus.Gauge
	feeVault    prometheus.Gauge
	paused      prometheus.Gauge
}

// Synth returns the singleton metrics registry for the synth engine.
func Synth() *SynthMetrics {
	synthMetricsOnce.Do(func() {
		synthRegistry = &SynthMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otc",
				Subsystem: "synth",
				Name:      "requests_total",
				Help:      "Count of synth operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "otc",
				Subsystem: "synth",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for synth operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otc",
				Subsystem: "synth",
				Name:      "errors_total",
				Help:      "Count of synth failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otc",
				Subsystem: "synth",
				Name:      "aborts_total",
				Help:      "Count of aborted operations segmented by the last stage reached.",
			}, []string{"operation", "stage"}),
			outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "otc",
				Subsystem: "synth",
				Name:      "total_outstanding",
				Help:      "Synthetic units outstanding after the last committed operation.",
			}),
			treasury: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "otc",
				Subsystem: "synth",
				Name:      "treasury_balance",
				Help:      "Collateral units held by the treasury after the last committed operation.",
			}),
			feeVault: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "otc",
				Subsystem: "synth",
				Name:      "fee_vault_balance",
				Help:      "Collateral units accrued in the fee account.",
			}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "otc",
				Subsystem: "synth",
				Name:      "paused",
				Help:      "Set to 1 while mint and burn are paused.",
			}),
		}
		prometheus.MustRegister(
			synthRegistry.requests,
			synthRegistry.latency,
			synthRegistry.errors,
			synthRegistry.aborts,
			synthRegistry.outstanding,
			synthRegistry.treasury,
			synthRegistry.feeVault,
			synthRegistry.paused,
		)
	})
	return synthRegistry
}

// Observe records the execution metrics for a synth operation. reason should
// be a low-cardinality label such as the registered error description.
func (m *SynthMetrics) Observe(operation string, duration time.Duration, reason string) {
	if m == nil {
		return
	}
	op := label(operation)
	outcome := "success"
	if reason = strings.TrimSpace(reason); reason != "" {
		outcome = "error"
		m.errors.WithLabelValues(op, reason).Inc()
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordAbort counts an operation aborted at stage.
func (m *SynthMetrics) RecordAbort(operation, stage string) {
	if m == nil {
		return
	}
	m.aborts.WithLabelValues(label(operation), label(stage)).Inc()
}

// RecordBalances publishes solvency gauges after a commit.
func (m *SynthMetrics) RecordBalances(outstanding float64, treasury, feeVault uint64) {
	if m == nil {
		return
	}
	m.outstanding.Set(outstanding)
	m.treasury.Set(float64(treasury))
	m.feeVault.Set(float64(feeVault))
}

// RecordPaused tracks the pause gate.
func (m *SynthMetrics) RecordPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

// OracleMetrics wraps collectors for the price poller.
type OracleMetrics struct {
	fetches *prometheus.CounterVec
	price   *prometheus.GaugeVec
	age     *prometheus.GaugeVec
}

// Oracle returns the singleton metrics registry for price polling.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otc",
				Subsystem: "oracle",
				Name:      "fetches_total",
				Help:      "Upstream price fetches segmented by source and outcome.",
			}, []string{"source", "outcome"}),
			price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "otc",
				Subsystem: "oracle",
				Name:      "price_cents",
				Help:      "Latest aggregated price per feed in cents.",
			}, []string{"feed"}),
			age: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "otc",
				Subsystem: "oracle",
				Name:      "snapshot_age_seconds",
				Help:      "Age of the newest accepted observation when the snapshot was taken.",
			}, []string{"feed"}),
		}
		prometheus.MustRegister(oracleRegistry.fetches, oracleRegistry.price, oracleRegistry.age)
	})
	return oracleRegistry
}

// RecordFetch counts an upstream fetch.
func (m *OracleMetrics) RecordFetch(source string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.fetches.WithLabelValues(label(source), outcome).Inc()
}

// RecordSnapshot publishes the aggregated price for a feed.
func (m *OracleMetrics) RecordSnapshot(feed string, cents float64, age time.Duration) {
	if m == nil {
		return
	}
	m.price.WithLabelValues(label(feed)).Set(cents)
	m.age.WithLabelValues(label(feed)).Set(age.Seconds())
}

// HTTPMetrics tracks API handler outcomes.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	throttle *prometheus.CounterVec
}

// HTTP returns the singleton metrics registry for the API server.
func HTTP() *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otc",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "API requests segmented by route and status code.",
			}, []string{"route", "status"}),
			throttle: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otc",
				Subsystem: "http",
				Name:      "throttled_total",
				Help:      "API requests rejected by rate limiting.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.throttle)
	})
	return httpRegistry
}

// RecordRequest counts a completed request.
func (m *HTTPMetrics) RecordRequest(route string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(label(route), statusLabel(status)).Inc()
}

// RecordThrottle counts a rate-limited request.
func (m *HTTPMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttle.WithLabelValues(label(route)).Inc()
}

func label(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
