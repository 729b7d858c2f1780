package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	namespace = "omen"

	outcomeReceived     = "received"
	outcomeDeduplicated = "deduplicated"
	outcomeValidated    = "validated"
	outcomeRejected     = "rejected"
	outcomeDropped      = "dropped"
	outcomeFailed       = "failed"

	stageValidate = "validate"
	stageEnrich   = "enrich"
	stageGenerate = "generate"
	stagePersist  = "persist"
	stageLedger   = "ledger"
	stagePublish  = "publish"

	resultOK    = "ok"
	resultError = "error"
)

// latencyBuckets covers the per-stage batch cost in milliseconds, from
// sub-millisecond cache hits up to multi-second webhook round trips.
var latencyBuckets = []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// promSet holds every instrument the collector registers.
type promSet struct {
	batchesTotal    prometheus.Counter
	eventsTotal     *prometheus.CounterVec
	signalsTotal    *prometheus.CounterVec
	rejectionsTotal *prometheus.CounterVec
	failuresTotal   prometheus.Counter
	stageLatency    *prometheus.HistogramVec

	sourceUp        *prometheus.GaugeVec
	sourceLatency   *prometheus.GaugeVec
	sourceErrorRate *prometheus.GaugeVec
	sourceChecks    *prometheus.CounterVec
}

func newPromSet(registry *prometheus.Registry) *promSet {
	s := &promSet{
		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batches_total",
			Help:      "Batches processed through the signal pipeline.",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Events observed per pipeline outcome.",
		}, []string{"outcome"}),
		signalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "signals_total",
			Help:      "Signals emitted, split by cache replays.",
		}, []string{"cached"}),
		rejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "rejections_total",
			Help:      "Validation rejections by reason.",
		}, []string{"reason"}),
		failuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "failures_total",
			Help:      "Events that failed a pipeline stage.",
		}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_latency_ms",
			Help:      "Per-batch latency of each pipeline stage in milliseconds.",
			Buckets:   latencyBuckets,
		}, []string{"stage"}),
		sourceUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "up",
			Help:      "Whether the last check of the source succeeded.",
		}, []string{"source"}),
		sourceLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "latency_ms",
			Help:      "Smoothed fetch latency per source in milliseconds.",
		}, []string{"source"}),
		sourceErrorRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "error_rate",
			Help:      "Smoothed fetch error rate per source.",
		}, []string{"source"}),
		sourceChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "checks_total",
			Help:      "Source health checks by result.",
		}, []string{"source", "result"}),
	}

	registry.MustRegister(
		s.batchesTotal,
		s.eventsTotal,
		s.signalsTotal,
		s.rejectionsTotal,
		s.failuresTotal,
		s.stageLatency,
		s.sourceUp,
		s.sourceLatency,
		s.sourceErrorRate,
		s.sourceChecks,
		collectors.NewGoCollector(),
	)
	return s
}
