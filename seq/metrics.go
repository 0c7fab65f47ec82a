package seq

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "seq"

// metrics 记录每一层的成功、失败与耗时
// 时间戳层的 allocations 计数即降级路径的使用次数
type metrics struct {
	allocations *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "allocations_total",
			Help:      "IDs handed out, by sequence and by the tier that produced them.",
		}, []string{"sequence", "tier"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tier_failures_total",
			Help:      "Tier attempts that failed and fell through to the next tier.",
		}, []string{"sequence", "tier"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "allocate_duration_seconds",
			Help:      "Time spent in a single tier, successful or not.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"tier"}),
	}

	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	for _, c := range []prometheus.Collector{m.allocations, m.failures, m.duration} {
		if err := reg.Register(c); err != nil {
			// 同一个 Registerer 上创建多个分配器时复用已注册的指标
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
			switch existing := are.ExistingCollector.(type) {
			case *prometheus.CounterVec:
				if c == prometheus.Collector(m.allocations) {
					m.allocations = existing
				} else {
					m.failures = existing
				}
			case *prometheus.HistogramVec:
				m.duration = existing
			}
		}
	}
	return m, nil
}
