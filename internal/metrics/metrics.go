package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Generations        prometheus.Counter
	GenerationFailures prometheus.Counter
	GenerationSeconds  prometheus.Histogram
	StorageErrors      prometheus.Counter
	PurgedLogs         prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			Generations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "llmgate",
				Name:      "generations_total",
				Help:      "Total generation requests attempted",
			}),
			GenerationFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "llmgate",
				Name:      "generation_failures_total",
				Help:      "Total generation requests that ended in an error",
			}),
			GenerationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "llmgate",
				Name:      "generation_duration_seconds",
				Help:      "Wall-clock duration of generation attempts",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			}),
			StorageErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "llmgate",
				Name:      "storage_errors_total",
				Help:      "Total log store operations dropped or degraded due to storage failure",
			}),
			PurgedLogs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "llmgate",
				Name:      "logs_purged_total",
				Help:      "Total log rows removed by retention purges",
			}),
		}
		prometheus.MustRegister(
			global.Generations,
			global.GenerationFailures,
			global.GenerationSeconds,
			global.StorageErrors,
			global.PurgedLogs,
		)
	})
	return global
}
