package telemetry

import "github.com/prometheus/client_golang/prometheus"

const consultdNamespace string = "consultd"

var (
	promSessionTotal        prometheus.Gauge
	promQueueDepth          *prometheus.GaugeVec
	ServiceOperationCounter *prometheus.CounterVec
)

func init() {
	promSessionTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: consultdNamespace,
		Subsystem: "session",
		Name:      "total",
	})

	promQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: consultdNamespace,
		Subsystem: "queue",
		Name:      "depth",
	}, []string{"doctor_id"})

	ServiceOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   consultdNamespace,
			Subsystem:   "node",
			Name:        "service_operation",
			ConstLabels: prometheus.Labels{"node_id": "1"},
		},
		[]string{"type", "status", "error_type"},
	)

	prometheus.MustRegister(promSessionTotal)
	prometheus.MustRegister(promQueueDepth)
	prometheus.MustRegister(ServiceOperationCounter)
}

func SessionStarted() {
	promSessionTotal.Inc()
}

func SessionStopped() {
	promSessionTotal.Dec()
}

func QueueDepth(doctorID string, depth int) {
	promQueueDepth.WithLabelValues(doctorID).Set(float64(depth))
}
