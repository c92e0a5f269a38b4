// Package metrics exports ledger state as Prometheus gauges and counters.
package metrics

import (
	"net/http"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/stakeledger/staking"
)

const namespace = "stakeledger"

// Collector implements staking.Observer.
type Collector struct {
	decimals int32
	reg      *prometheus.Registry

	poolBalance   prometheus.Gauge
	pendingReward prometheus.Gauge
	totalStaked   prometheus.Gauge
	historical    prometheus.Gauge
	openPositions prometheus.Gauge
	operations    *prometheus.CounterVec
	rejections    *prometheus.CounterVec
}

// New registers the ledger metrics on a fresh registry. Amount gauges
// are in whole tokens of the given decimals.
func New(decimals int32) *Collector {
	c := &Collector{
		decimals: decimals,
		reg:      prometheus.NewRegistry(),
		poolBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_balance_tokens",
			Help: "Reward pool balance.",
		}),
		pendingReward: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pending_reward_tokens",
			Help: "Rewards reserved against the pool.",
		}),
		totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "total_staked_tokens",
			Help: "Principal in open positions.",
		}),
		historical: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "historical_staked_tokens",
			Help: "Principal ever committed.",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_positions",
			Help: "Number of open positions.",
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "operations_total",
			Help: "Committed operations by kind.",
		}, []string{"op"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejections_total",
			Help: "Rejected operations by kind and error code.",
		}, []string{"op", "code"}),
	}

	c.reg.MustRegister(
		c.poolBalance, c.pendingReward, c.totalStaked, c.historical,
		c.openPositions, c.operations, c.rejections,
	)
	return c
}

func (c *Collector) Committed(op string, t staking.Totals) {
	c.operations.WithLabelValues(op).Inc()
	c.poolBalance.Set(c.tokens(t.PoolBalance))
	c.pendingReward.Set(c.tokens(t.TotalPendingReward))
	c.totalStaked.Set(c.tokens(t.TotalStaked))
	c.historical.Set(c.tokens(t.HistoricalStaked))
	c.openPositions.Set(float64(t.OpenPositions))
}

func (c *Collector) Rejected(op, code string) {
	if code == "" {
		code = "UNKNOWN"
	}
	c.rejections.WithLabelValues(op, code).Inc()
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collector) tokens(a *uint256.Int) float64 {
	if a == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(a.ToBig(), -c.decimals).Float64()
	return f
}
