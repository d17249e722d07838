package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LendpoolMetrics struct {
	serviceRequests *prometheus.CounterVec
	tokensDrawn     *prometheus.CounterVec
	locksReleased   *prometheus.CounterVec
	activePools     prometheus.Gauge
	rpcRequests     *prometheus.CounterVec
	rpcDuration     prometheus.Histogram
}

var (
	lendpoolOnce     sync.Once
	lendpoolRegistry *LendpoolMetrics
)

func Lendpool() *LendpoolMetrics {
	lendpoolOnce.Do(func() {
		lendpoolRegistry = &LendpoolMetrics{
			serviceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lendpool_service_requests_total",
				Help: "Count of service requests by outcome.",
			}, []string{"outcome"}),
			tokensDrawn: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lendpool_pool_draws_total",
				Help: "Count of pool draws by pool kind.",
			}, []string{"kind"}),
			locksReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lendpool_locks_released_total",
				Help: "Count of time-locks released by the unlock sweep.",
			}, []string{"kind"}),
			activePools: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lendpool_active_pools",
				Help: "Number of active lending pools.",
			}),
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lendpool_rpc_requests_total",
				Help: "Count of RPC requests by method and outcome.",
			}, []string{"method", "outcome"}),
			rpcDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "lendpool_rpc_duration_seconds",
				Help:    "Latency of RPC request handling.",
				Buckets: prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			lendpoolRegistry.serviceRequests,
			lendpoolRegistry.tokensDrawn,
			lendpoolRegistry.locksReleased,
			lendpoolRegistry.activePools,
			lendpoolRegistry.rpcRequests,
			lendpoolRegistry.rpcDuration,
		)
	})
	return lendpoolRegistry
}

func (m *LendpoolMetrics) ObserveServiceRequest(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.serviceRequests.WithLabelValues(outcome).Inc()
}

func (m *LendpoolMetrics) ObservePoolDraw(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "pool"
	}
	m.tokensDrawn.WithLabelValues(kind).Inc()
}

func (m *LendpoolMetrics) ObserveLocksReleased(kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.locksReleased.WithLabelValues(kind).Add(float64(count))
}

func (m *LendpoolMetrics) SetActivePools(count int) {
	if m == nil {
		return
	}
	m.activePools.Set(float64(count))
}

func (m *LendpoolMetrics) ObserveRPC(method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
	m.rpcDuration.Observe(seconds)
}
