// ABOUTME: Prometheus metrics for the gateway pipeline and outbound path
// ABOUTME: Counters and gauges registered once on a caller-supplied registry

package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	Ingested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "unigate_ingested_total", Help: "Messages accepted into the pipeline"},
		[]string{"channel"},
	)
	DedupHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "unigate_dedup_hits_total", Help: "Duplicate events rejected before the store"},
		[]string{"channel"},
	)
	NormalizeSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "unigate_normalize_skips_total", Help: "Events with no canonical mapping"},
		[]string{"channel"},
	)
	DroppedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "unigate_dropped_events_total", Help: "Events dropped by adapter buffers"},
		[]string{"channel"},
	)
	StoreWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "unigate_store_writes_total", Help: "Store write outcomes"},
		[]string{"result"},
	)
	Classified = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "unigate_classified_total", Help: "Messages by assigned priority"},
		[]string{"priority"},
	)
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "unigate_sends_total", Help: "Outbound send outcomes"},
		[]string{"channel", "result"},
	)
	AdapterRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "unigate_adapter_restarts_total", Help: "Adapter reconnect attempts"},
		[]string{"channel"},
	)
	Degraded = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "unigate_degraded", Help: "1 while the store write breaker is open"},
	)
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "unigate_intake_depth", Help: "Events waiting in the intake queue"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(Ingested, DedupHits, NormalizeSkips, DroppedEvents,
		StoreWrites, Classified, Sends, AdapterRestarts, Degraded, QueueDepth)
}
