package observability

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	cdpMetricsOnce sync.Once
	cdpRegistry    *CDPMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// ModuleMetrics returns the lazily-initialised registry recording gateway
// request activity per route.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Total gateway errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "cdp",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// CDPMetrics tracks engine operations and the protocol's headline balances.
type CDPMetrics struct {
	operations   *prometheus.CounterVec
	failures     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	events       *prometheus.CounterVec
	rateBps      prometheus.Gauge
	index        prometheus.Gauge
	globalDebt   prometheus.Gauge
	treasury     prometheus.Gauge
	locked       *prometheus.GaugeVec
	staked       *prometheus.GaugeVec
	liquidations *prometheus.CounterVec
}

// CDP returns the singleton metrics registry for the CDP engine.
func CDP() *CDPMetrics {
	cdpMetricsOnce.Do(func() {
		cdpRegistry = &CDPMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "engine",
				Name:      "failures_total",
				Help:      "Count of rejected engine operations segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "cdp",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of committed events segmented by type.",
			}, []string{"type"}),
			rateBps: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "protocol",
				Name:      "interest_rate_bps",
				Help:      "Current annual interest rate in basis points.",
			}),
			index: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "protocol",
				Name:      "interest_index",
				Help:      "Global interest index as a multiplier of 1.0.",
			}),
			globalDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "protocol",
				Name:      "global_debt",
				Help:      "Outstanding stablecoin debt in base units.",
			}),
			treasury: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "protocol",
				Name:      "pending_treasury",
				Help:      "Protocol revenue awaiting withdrawal in base units.",
			}),
			locked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "pool",
				Name:      "collateral_locked",
				Help:      "Collateral escrowed by open positions per asset.",
			}, []string{"asset"}),
			staked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "pool",
				Name:      "stability_staked",
				Help:      "Stablecoin staked in each stability pool.",
			}, []string{"asset"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "pool",
				Name:      "liquidations_total",
				Help:      "Count of liquidations per collateral asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			cdpRegistry.operations,
			cdpRegistry.failures,
			cdpRegistry.latency,
			cdpRegistry.events,
			cdpRegistry.rateBps,
			cdpRegistry.index,
			cdpRegistry.globalDebt,
			cdpRegistry.treasury,
			cdpRegistry.locked,
			cdpRegistry.staked,
			cdpRegistry.liquidations,
		)
	})
	return cdpRegistry
}

// Observe records one engine operation. reason should be a stable code and is
// only consulted when err is non-nil.
func (m *CDPMetrics) Observe(operation string, duration time.Duration, reason string, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		if reason == "" {
			reason = "unknown"
		}
		m.failures.WithLabelValues(op, reason).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordEvent counts a committed event.
func (m *CDPMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.events.WithLabelValues(eventType).Inc()
}

// RecordProtocol publishes the protocol singleton's balances. index is at
// indexScale fixed point.
func (m *CDPMetrics) RecordProtocol(rateBps uint64, index, indexScale, globalDebt, treasury *uint256.Int) {
	if m == nil {
		return
	}
	m.rateBps.Set(float64(rateBps))
	if index != nil && indexScale != nil && !indexScale.IsZero() {
		ratio := new(big.Float).Quo(new(big.Float).SetInt(index.ToBig()), new(big.Float).SetInt(indexScale.ToBig()))
		f, _ := ratio.Float64()
		m.index.Set(f)
	}
	m.globalDebt.Set(toFloat(globalDebt))
	m.treasury.Set(toFloat(treasury))
}

// RecordPool publishes a collateral pool's locked collateral and staked
// stablecoin.
func (m *CDPMetrics) RecordPool(asset string, locked, staked *uint256.Int) {
	if m == nil {
		return
	}
	asset = normalizeLabel(asset)
	m.locked.WithLabelValues(asset).Set(toFloat(locked))
	m.staked.WithLabelValues(asset).Set(toFloat(staked))
}

// RecordLiquidation increments the liquidation counter for asset.
func (m *CDPMetrics) RecordLiquidation(asset string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(normalizeLabel(asset)).Inc()
}

// OracleMetrics tracks price feed freshness and refresh outcomes.
type OracleMetrics struct {
	refreshes *prometheus.CounterVec
	age       *prometheus.GaugeVec
}

// Oracle returns the singleton oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "oracle",
				Name:      "refreshes_total",
				Help:      "Count of price feed refreshes segmented by source and outcome.",
			}, []string{"source", "outcome"}),
			age: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "oracle",
				Name:      "quote_age_seconds",
				Help:      "Age of the latest quote per feed at refresh time.",
			}, []string{"feed"}),
		}
		prometheus.MustRegister(oracleRegistry.refreshes, oracleRegistry.age)
	})
	return oracleRegistry
}

// RecordRefresh counts one refresh attempt.
func (m *OracleMetrics) RecordRefresh(source string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.refreshes.WithLabelValues(source, outcome).Inc()
}

// RecordAge sets the observed age of feed's latest quote.
func (m *OracleMetrics) RecordAge(feed string, age time.Duration) {
	if m == nil {
		return
	}
	m.age.WithLabelValues(feed).Set(age.Seconds())
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}

func normalizeLabel(asset string) string {
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
}
