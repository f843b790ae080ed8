// Package metrics exposes ledger telemetry as Prometheus collectors on a
// private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/vm"
)

// Collector records operation outcomes, settlements and chain progress.
type Collector struct {
	registry *prometheus.Registry

	opsTotal    *prometheus.CounterVec
	opLatency   *prometheus.HistogramVec
	settlements prometheus.Counter
	payouts     prometheus.Histogram
	chainHeight prometheus.Gauge
}

// NewCollector creates a Collector. An empty namespace defaults to "lottochain".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "lottochain"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.opsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Submitted operations by type and outcome (ok, validation, not_found, conflict, state, internal)",
		},
		[]string{"type", "result"},
	)

	c.opLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Time from submission to commit or rejection",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8), // 100µs to ~1.6s
		},
		[]string{"type"},
	)

	c.settlements = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lottery",
		Name:      "settlements_total",
		Help:      "Lotteries filled and paid out",
	})

	c.payouts = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "lottery",
		Name:      "payout",
		Help:      "Pool size paid to each winner",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	})

	c.chainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "height",
		Help:      "Height of the last committed block",
	})

	c.registry.MustRegister(c.opsTotal, c.opLatency, c.settlements, c.payouts, c.chainHeight)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// unknownType labels operations no module registered, keeping the type
// label set bounded.
const unknownType = "unknown"

// RecordOperation counts one submitted operation.
func (c *Collector) RecordOperation(typ core.TxType, duration time.Duration, err error) {
	label := string(typ)
	if _, ok := vm.Lookup(typ); !ok {
		label = unknownType
	}
	c.opsTotal.WithLabelValues(label, core.Classify(err)).Inc()
	c.opLatency.WithLabelValues(label).Observe(duration.Seconds())
}

// SetHeight records the committed chain height.
func (c *Collector) SetHeight(height int64) {
	c.chainHeight.Set(float64(height))
}

// Attach subscribes the collector to committed-state events.
func (c *Collector) Attach(em *events.Emitter) {
	em.Subscribe(events.EventLotterySettled, func(ev events.Event) {
		c.settlements.Inc()
		if payout, ok := ev.Data["payout"].(int64); ok {
			c.payouts.Observe(float64(payout))
		}
	})
	em.Subscribe(events.EventBlockCommit, func(ev events.Event) {
		c.SetHeight(ev.BlockHeight)
	})
}
