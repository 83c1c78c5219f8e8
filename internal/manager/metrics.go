package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	generationsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llamagen",
			Subsystem: "engine",
			Name:      "generations_total",
			Help:      "Finished generations by terminal phase or error kind",
		},
		[]string{"model", "outcome"},
	)

	tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llamagen",
			Subsystem: "engine",
			Name:      "tokens_total",
			Help:      "Prompt and predicted tokens processed",
		},
		[]string{"model", "kind"},
	)

	modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llamagen",
			Subsystem: "engine",
			Name:      "model_loads_total",
			Help:      "Model load attempts by result",
		},
		[]string{"model", "result"},
	)

	modelLoadSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "llamagen",
			Subsystem: "engine",
			Name:      "model_load_seconds",
			Help:      "Time spent opening a model session",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	queueWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "llamagen",
			Subsystem: "engine",
			Name:      "queue_wait_seconds",
			Help:      "Time spent waiting for a queue slot",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	backpressureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llamagen",
			Subsystem: "engine",
			Name:      "backpressure_total",
			Help:      "Requests rejected because the queue stayed full",
		},
		[]string{"model"},
	)
)

func init() {
	prometheus.MustRegister(generationsCounter, tokensTotal, modelLoadsTotal, modelLoadSeconds, queueWait, backpressureTotal)
}
