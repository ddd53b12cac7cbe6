package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Job outcomes recorded by the dispatcher
const (
	OutcomeCompleted = "completed"
	OutcomeConflict  = "lease_conflict"
	OutcomeRetried   = "retried"
	OutcomeFaulted   = "faulted"
	OutcomeAborted   = "aborted"
)

// Metrics prometheus collectors of the diagnostic engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	jobs          *prometheus.CounterVec
	steps         *prometheus.CounterVec
	runDuration   prometheus.Histogram
	webhookEvents *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	verdicts      *prometheus.CounterVec
	statusFlips   prometheus.Counter
	logsPruned    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netdoctor",
			Name:      "diagnostic_jobs_total",
			Help:      "Diagnostic jobs handled, by outcome.",
		}, []string{"outcome"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netdoctor",
			Name:      "diagnostic_steps_total",
			Help:      "Diagnostic steps executed, by step and status.",
		}, []string{"step", "status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "netdoctor",
			Name:      "diagnostic_run_seconds",
			Help:      "Wall time of a diagnostic pipeline run.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netdoctor",
			Name:      "webhook_events_total",
			Help:      "Device status events received, by result.",
		}, []string{"result"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "netdoctor",
			Name:      "queue_depth",
			Help:      "Jobs in the diagnostic queue, by state.",
		}, []string{"state"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netdoctor",
			Name:      "diagnostic_verdicts_total",
			Help:      "Persisted diagnostic logs, by verdict.",
		}, []string{"verdict"}),
		statusFlips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netdoctor",
			Name:      "device_down_transitions_total",
			Help:      "Devices the status sweep saw going down.",
		}),
		logsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netdoctor",
			Name:      "diagnostic_logs_pruned_total",
			Help:      "Diagnostic logs removed by retention.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.jobs, m.steps, m.runDuration, m.webhookEvents, m.queueDepth,
			m.verdicts, m.statusFlips, m.logsPruned)
	}
	return m
}

func (m *Metrics) JobHandled(outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StepFinished(step, status string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(step, status).Inc()
}

func (m *Metrics) RunFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) WebhookEvent(result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) QueueDepth(state string, n int64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(state).Set(float64(n))
}

func (m *Metrics) Concluded(verdict string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(verdict).Inc()
}

func (m *Metrics) DeviceWentDown() {
	if m == nil {
		return
	}
	m.statusFlips.Inc()
}

func (m *Metrics) LogsPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.logsPruned.Add(float64(n))
}
