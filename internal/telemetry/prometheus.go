package telemetry

import "github.com/prometheus/client_golang/prometheus"

const presenceNamespace string = "superviz"

var (
	promParticipantsTotal   prometheus.Gauge
	promActiveComponents    *prometheus.GaugeVec
	ServiceOperationCounter *prometheus.CounterVec
)

func init() {
	promParticipantsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: presenceNamespace,
		Subsystem: "room",
		Name:      "participants",
	})

	promActiveComponents = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: presenceNamespace,
			Subsystem: "component",
			Name:      "active",
		},
		[]string{"component"},
	)

	ServiceOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: presenceNamespace,
			Subsystem: "session",
			Name:      "service_operation",
		},
		[]string{"type", "status", "error_type"},
	)

	prometheus.MustRegister(promParticipantsTotal)
	prometheus.MustRegister(promActiveComponents)
	prometheus.MustRegister(ServiceOperationCounter)
}

func ParticipantsChanged(total int) {
	promParticipantsTotal.Set(float64(total))
}

func ComponentAttached(name string) {
	promActiveComponents.WithLabelValues(name).Inc()
	ServiceOperationCounter.WithLabelValues("component_attach", "success", "").Inc()
}

func ComponentDetached(name string) {
	promActiveComponents.WithLabelValues(name).Dec()
}

func SlotAssigned() {
	ServiceOperationCounter.WithLabelValues("slot_assign", "success", "").Inc()
}

func SlotExhausted() {
	ServiceOperationCounter.WithLabelValues("slot_assign", "error", "pool_exhausted").Inc()
}

func SlotCollision() {
	ServiceOperationCounter.WithLabelValues("slot_collision", "success", "").Inc()
}

func SlotReleased() {
	ServiceOperationCounter.WithLabelValues("slot_release", "success", "").Inc()
}
