// Package metrics provides Prometheus metrics for the lifeos daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector the daemon exports.
type Manager struct {
	namespace   string
	subsystem   string
	tickBuckets []float64
	registry    prometheus.Registerer

	// Tick loop
	ticksTotal        prometheus.Counter
	ticksFailed       prometheus.Counter
	tickDuration      prometheus.Histogram
	daemonState       *prometheus.GaugeVec
	consecutiveFailed prometheus.Gauge

	// Estimate
	effectiveScore prometheus.Gauge
	baseScore      prometheus.Gauge
	debt           prometheus.Gauge
	heartRate      *prometheus.GaugeVec
	degraded       *prometheus.CounterVec

	// Shadow estimator
	calibrationError   prometheus.Gauge
	calibrationUpdates prometheus.Counter
	coefficient        *prometheus.GaugeVec

	// Inputs
	eventsRecorded *prometheus.CounterVec
	eventsDropped  prometheus.Counter
	samplesDropped prometheus.Counter
	fetchTotal     *prometheus.CounterVec

	// Storage maintenance
	rowsPurged      *prometheus.CounterVec
	daysAggregated  prometheus.Counter
	lockHeartbeatAt prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:   "lifeos",
		subsystem:   "daemon",
		tickBuckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		registry:    prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.ticksTotal = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "ticks_total",
		Help: "Ticks executed, successful or not",
	})
	m.ticksFailed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "ticks_failed_total",
		Help: "Ticks whose persistence write failed",
	})
	m.tickDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "tick_duration_seconds",
		Help:    "Wall time of one compute-and-persist cycle",
		Buckets: m.tickBuckets,
	})
	m.daemonState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "state",
		Help: "1 for the current daemon state, 0 otherwise",
	}, []string{"state"})
	m.consecutiveFailed = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "consecutive_failed_ticks",
		Help: "Failed ticks since the last successful write",
	})

	m.effectiveScore = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "resource",
		Name: "effective_score",
		Help: "Most recent effective cognitive-resource score",
	})
	m.baseScore = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "resource",
		Name: "base_score",
		Help: "Most recent decayed base score",
	})
	m.debt = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "resource",
		Name: "cognitive_debt",
		Help: "Accumulated cognitive debt",
	})
	m.heartRate = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "resource",
		Name: "heart_rate_bpm",
		Help: "Heart rate used by the latest tick, by provenance",
	}, []string{"provenance"})
	m.degraded = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "resource",
		Name: "degraded_snapshots_total",
		Help: "Snapshots carrying a degraded-input flag, by flag",
	}, []string{"flag"})

	m.calibrationError = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "shadow",
		Name: "calibration_error_bpm",
		Help: "Signed error of the last calibration (measured - estimated)",
	})
	m.calibrationUpdates = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "shadow",
		Name: "calibrations_total",
		Help: "Calibration updates applied",
	})
	m.coefficient = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "shadow",
		Name: "coefficient",
		Help: "Current estimator coefficient values",
	}, []string{"name"})

	m.eventsRecorded = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "telemetry",
		Name: "events_total",
		Help: "Input events accepted by the aggregator, by kind",
	}, []string{"kind"})
	m.eventsDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "telemetry",
		Name: "events_dropped_total",
		Help: "Input events dropped because the queue was full",
	})
	m.samplesDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "telemetry",
		Name: "samples_dropped_total",
		Help: "Activity samples of failed ticks discarded from the full replay buffer",
	})
	m.fetchTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "biometric",
		Name: "fetch_total",
		Help: "Biometric fetch outcomes, by operation and result",
	}, []string{"op", "result"})

	m.rowsPurged = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "store",
		Name: "rows_purged_total",
		Help: "Rolling rows removed by retention, by table",
	}, []string{"table"})
	m.daysAggregated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "store",
		Name: "days_aggregated_total",
		Help: "Days folded into the summary store",
	})
	m.lockHeartbeatAt = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "lock_heartbeat_timestamp_seconds",
		Help: "Unix time of the last process-lock heartbeat",
	})
}

// Global convenience functions.

func RecordTick(seconds float64, failed bool) {
	globalManager.ticksTotal.Inc()
	globalManager.tickDuration.Observe(seconds)
	if failed {
		globalManager.ticksFailed.Inc()
	}
}

func UpdateConsecutiveFailures(n int) { globalManager.consecutiveFailed.Set(float64(n)) }

// UpdateDaemonState sets the state gauge to 1 for current and 0 for the rest.
func UpdateDaemonState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		globalManager.daemonState.WithLabelValues(s).Set(v)
	}
}

func UpdateScores(effective, base, debt float64) {
	globalManager.effectiveScore.Set(effective)
	globalManager.baseScore.Set(base)
	globalManager.debt.Set(debt)
}

func UpdateHeartRate(provenance string, bpm float64) {
	globalManager.heartRate.WithLabelValues(provenance).Set(bpm)
}

func RecordDegraded(flags []string) {
	for _, f := range flags {
		globalManager.degraded.WithLabelValues(f).Inc()
	}
}

func RecordCalibration(errBPM float64) {
	globalManager.calibrationError.Set(errBPM)
	globalManager.calibrationUpdates.Inc()
}

func UpdateCoefficients(alpha, beta, gamma float64) {
	globalManager.coefficient.WithLabelValues("alpha").Set(alpha)
	globalManager.coefficient.WithLabelValues("beta").Set(beta)
	globalManager.coefficient.WithLabelValues("gamma").Set(gamma)
}

func RecordEvent(kind string) { globalManager.eventsRecorded.WithLabelValues(kind).Inc() }
func RecordEventDropped()     { globalManager.eventsDropped.Inc() }

func RecordSamplesDropped(n int) { globalManager.samplesDropped.Add(float64(n)) }

func RecordFetch(op, result string) {
	globalManager.fetchTotal.WithLabelValues(op, result).Inc()
}

func RecordPurged(table string, n int64) {
	globalManager.rowsPurged.WithLabelValues(table).Add(float64(n))
}

func RecordDaysAggregated(n int) { globalManager.daysAggregated.Add(float64(n)) }

func UpdateLockHeartbeat(unix float64) { globalManager.lockHeartbeatAt.Set(unix) }

// GetRegistry returns the custom registry for exposing metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
