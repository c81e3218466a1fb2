// Package metrics exposes engine telemetry through a private Prometheus registry.
//
// Metric naming follows Prometheus conventions:
//   - irisett_ prefix for all metrics
//   - _total suffix for counters
//   - _seconds suffix for durations
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store owns the collectors and the registry they are served from.
type Store struct {
	registry *prometheus.Registry

	queueDepth        prometheus.Gauge
	queueDrops        prometheus.Counter
	jobsRunning       prometheus.Gauge
	jobsQueued        prometheus.Gauge
	jobsRejected      prometheus.Counter
	jobTimeouts       prometheus.Counter
	checkDuration     *prometheus.HistogramVec
	checkOutcomes     *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	monitors          *prometheus.GaugeVec
	persistenceErrors *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	ready             prometheus.Gauge
	lastTick          prometheus.Gauge
}

func NewStore() *Store {
	s := &Store{
		registry: prometheus.NewRegistry(),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "irisett_result_queue_depth",
			Help: "Result records buffered for persistence.",
		}),
		queueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "irisett_result_queue_dropped_total",
			Help: "Result records dropped because the persistence buffer was full.",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "irisett_jobs_running",
			Help: "Checks currently holding an execution slot.",
		}),
		jobsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "irisett_jobs_queued",
			Help: "Checks waiting for an execution slot.",
		}),
		jobsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "irisett_jobs_rejected_total",
			Help: "Submissions refused because the job queue was full.",
		}),
		jobTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "irisett_job_timeouts_total",
			Help: "Checks abandoned after exceeding their hard timeout.",
		}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "irisett_check_duration_seconds",
			Help:    "Check execution time by check type.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"check_type"}),
		checkOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irisett_check_outcomes_total",
			Help: "Check outcomes by check type and result.",
		}, []string{"check_type", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irisett_transitions_total",
			Help: "Monitor state transitions by resulting status.",
		}, []string{"status"}),
		monitors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "irisett_monitors",
			Help: "Registered monitors by current status.",
		}, []string{"status"}),
		persistenceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irisett_persistence_errors_total",
			Help: "Failed store writes by operation.",
		}, []string{"op"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irisett_notification_deliveries_total",
			Help: "Notification delivery attempts by channel and result.",
		}, []string{"channel", "result"}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "irisett_ready",
			Help: "Whether the engine considers itself ready (1=ready).",
		}),
		lastTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "irisett_scheduler_last_tick_timestamp_seconds",
			Help: "Unix time of the most recent scheduler tick.",
		}),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.queueDepth,
		s.queueDrops,
		s.jobsRunning,
		s.jobsQueued,
		s.jobsRejected,
		s.jobTimeouts,
		s.checkDuration,
		s.checkOutcomes,
		s.transitions,
		s.monitors,
		s.persistenceErrors,
		s.deliveries,
		s.ready,
		s.lastTick,
	)
	return s
}

// Registry exposes the underlying registry for tests and additional collectors.
func (s *Store) Registry() *prometheus.Registry { return s.registry }

func (s *Store) ObserveQueueDepth(depth int) { s.queueDepth.Set(float64(depth)) }
func (s *Store) IncQueueDrops()              { s.queueDrops.Inc() }

func (s *Store) ObserveExecutor(running, queued int) {
	s.jobsRunning.Set(float64(running))
	s.jobsQueued.Set(float64(queued))
}

func (s *Store) IncJobsRejected() { s.jobsRejected.Inc() }
func (s *Store) IncJobTimeouts()  { s.jobTimeouts.Inc() }

func (s *Store) ObserveCheck(checkType string, pass bool, d time.Duration) {
	result := "fail"
	if pass {
		result = "pass"
	}
	s.checkOutcomes.WithLabelValues(checkType, result).Inc()
	s.checkDuration.WithLabelValues(checkType).Observe(d.Seconds())
}

func (s *Store) IncTransitions(status string) { s.transitions.WithLabelValues(status).Inc() }

// ObserveMonitors replaces the per-status monitor gauge.
func (s *Store) ObserveMonitors(counts map[string]int) {
	s.monitors.Reset()
	for status, n := range counts {
		s.monitors.WithLabelValues(status).Set(float64(n))
	}
}

func (s *Store) IncPersistenceErrors(op string) { s.persistenceErrors.WithLabelValues(op).Inc() }

func (s *Store) IncDeliveries(channel string, ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	s.deliveries.WithLabelValues(channel, result).Inc()
}

func (s *Store) ObserveReadiness(ready bool) {
	if ready {
		s.ready.Set(1)
		return
	}
	s.ready.Set(0)
}

func (s *Store) ObserveTick(at time.Time) { s.lastTick.Set(float64(at.Unix())) }

// NewHTTPHandler serves the store's registry in the Prometheus exposition format.
func NewHTTPHandler(store *Store) http.Handler {
	return promhttp.HandlerFor(store.registry, promhttp.HandlerOpts{})
}
