package observability

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// EngineMetrics records exchange activity: mint/redeem volume and counts,
// operation latency, failure reasons and the outstanding token supply.
type EngineMetrics struct {
	ops       *prometheus.CounterVec
	failures  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	supply    prometheus.Gauge
	transfers prometheus.Counter
}

// Engine returns the lazily-initialised exchange metrics registry.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		m := &EngineMetrics{
			ops: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "usnd_engine_operations_total",
				Help: "Completed exchange operations by kind.",
			}, []string{"op"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "usnd_engine_failures_total",
				Help: "Rejected exchange operations by kind and reason.",
			}, []string{"op", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "usnd_engine_operation_seconds",
				Help:    "Wall-clock duration of exchange operations.",
				Buckets: prometheus.DefBuckets,
			}, []string{"op"}),
			supply: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "usnd_engine_total_supply_tokens",
				Help: "Outstanding token supply in whole tokens.",
			}),
			transfers: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "usnd_engine_transfers_total",
				Help: "Completed intra-ledger token transfers.",
			}),
		}
		prometheus.MustRegister(m.ops, m.failures, m.latency, m.supply, m.transfers)
		engineRegistry = m
	})
	return engineRegistry
}

// RecordOp counts a completed operation and its duration.
func (m *EngineMetrics) RecordOp(op string, duration time.Duration) {
	if m == nil {
		return
	}
	op = normaliseLabel(op)
	m.ops.WithLabelValues(op).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordFailure counts a rejected operation under its failure reason.
func (m *EngineMetrics) RecordFailure(op, reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(normaliseLabel(op), normaliseLabel(reason)).Inc()
}

// RecordTransfer counts an intra-ledger token transfer.
func (m *EngineMetrics) RecordTransfer() {
	if m == nil {
		return
	}
	m.transfers.Inc()
}

var wholeToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// SetTotalSupply publishes the outstanding supply, truncated to whole tokens.
func (m *EngineMetrics) SetTotalSupply(supply *big.Int) {
	if m == nil || supply == nil {
		return
	}
	whole := new(big.Int).Quo(supply, wholeToken)
	value, _ := new(big.Float).SetInt(whole).Float64()
	m.supply.Set(value)
}

func normaliseLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return strings.ReplaceAll(value, " ", "_")
}
