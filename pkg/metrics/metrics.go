// Package metrics exposes Vigil's process-global Prometheus counters and
// histograms: one set of gauges/histograms per pipeline stage (spec.md §5
// calls out metric counters as one of the two process-wide resources,
// alongside the threat-intel cache).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Ingest (C4)
	IngestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vigil_ingest_duration_seconds",
		Help:    "Time from first byte to artifact.uploaded publish",
		Buckets: prometheus.DefBuckets,
	})

	IngestDeduplicatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_ingest_deduplicated_total",
		Help: "Uploads resolved to an existing artifact via (tenant_id, sha256) dedupe",
	})

	IngestFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_ingest_failures_total",
		Help: "Ingest failures by error kind",
	}, []string{"kind"})

	OutboxDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_ingest_outbox_depth",
		Help: "Number of undelivered artifact.uploaded intents in the outbox",
	})

	// Static engine (C5)
	StaticDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vigil_static_duration_seconds",
		Help:    "Static analysis duration from message receipt to acknowledgment",
		Buckets: prometheus.DefBuckets,
	})

	StaticScoreHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vigil_static_score",
		Help:    "Distribution of computed static_score values",
		Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	StaticPartialTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_static_partial_total",
		Help: "Static reports flagged partial due to a wall-clock cap",
	})

	// Sandbox / dynamic engine (C6, C7)
	SandboxStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_sandbox_state_transitions_total",
		Help: "Sandbox lifecycle transitions by target state",
	}, []string{"state"})

	DynamicDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vigil_dynamic_duration_seconds",
		Help:    "Dynamic analysis duration from job start to Destroyed",
		Buckets: prometheus.DefBuckets,
	})

	RansomwareCandidatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_ransomware_candidates_total",
		Help: "Behavioral reports that flipped the ransomware_candidate bit",
	})

	// Verdict synthesizer (C8)
	SynthesisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vigil_synthesis_duration_seconds",
		Help:    "Time from trigger to verdict persisted",
		Buckets: prometheus.DefBuckets,
	})

	VerdictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_verdicts_total",
		Help: "Verdicts produced by category",
	}, []string{"verdict"})

	// Streaming fabric (C9)
	StreamSubscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_stream_subscriptions_active",
		Help: "Currently open (subscription, artifact_id) channels",
	})

	StreamBackpressureDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_stream_backpressure_drops_total",
		Help: "Messages diverted to the side cache because the outbound queue was full",
	})

	StreamReplaysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_stream_replays_total",
		Help: "Reconnects that triggered a buffered-message replay",
	})

	// Shared infrastructure (C1-C3)
	BusPublishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_bus_publish_total",
		Help: "Bus publishes by subject and outcome",
	}, []string{"subject", "outcome"})

	BusAckTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_bus_ack_total",
		Help: "Bus message acknowledgments by subject and outcome",
	}, []string{"subject", "outcome"})

	ObjectStoreRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_object_store_retries_total",
		Help: "Object store operation retries by operation",
	}, []string{"operation"})
)

func init() {
	prometheus.MustRegister(
		IngestDuration,
		IngestDeduplicatedTotal,
		IngestFailuresTotal,
		OutboxDepth,
		StaticDuration,
		StaticScoreHistogram,
		StaticPartialTotal,
		SandboxStateTransitions,
		DynamicDuration,
		RansomwareCandidatesTotal,
		SynthesisDuration,
		VerdictsTotal,
		StreamSubscriptionsActive,
		StreamBackpressureDrops,
		StreamReplaysTotal,
		BusPublishTotal,
		BusAckTotal,
		ObjectStoreRetries,
	)
}

// Timer measures an operation's elapsed duration for histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a new Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time on histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time on a vector histogram with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
