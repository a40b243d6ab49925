package automation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reading outcomes recorded by Metrics.
const (
	OutcomeProcessed = "processed"
	OutcomeInvalid   = "invalid"
	OutcomeQueueFull = "queue_full"
	OutcomeStorage   = "storage_error"
	OutcomeDropped   = "worker_stopped"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	readings       *prometheus.CounterVec
	rulesFired     *prometheus.CounterVec
	integrity      prometheus.Counter
	commands       *prometheus.CounterVec
	events         *prometheus.CounterVec
	cooldownWrites *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	workers        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "growrack",
			Name:      "readings_total",
			Help:      "Sensor readings handled by the engine, by outcome.",
		}, []string{"outcome"}),
		rulesFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "growrack",
			Name:      "rules_matched_total",
			Help:      "Rules whose conditions held, by cooldown result (reserved, cooldown).",
		}, []string{"result"}),
		integrity: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "growrack",
			Name:      "rule_integrity_errors_total",
			Help:      "Stored rules skipped because they cannot be executed.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "growrack",
			Name:      "commands_total",
			Help:      "Actuator commands dispatched, by channel and result.",
		}, []string{"channel", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "growrack",
			Name:      "automation_events_total",
			Help:      "Automation events emitted, by result.",
		}, []string{"result"}),
		cooldownWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "growrack",
			Name:      "cooldown_persist_total",
			Help:      "last_triggered_at writes, by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "growrack",
			Name:      "cycle_duration_seconds",
			Help:      "Time to process one reading end to end.",
			Buckets:   prometheus.DefBuckets,
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "growrack",
			Name:      "rack_workers",
			Help:      "Rack workers currently running.",
		}),
	}

	reg.MustRegister(
		m.readings,
		m.rulesFired,
		m.integrity,
		m.commands,
		m.events,
		m.cooldownWrites,
		m.cycleDuration,
		m.workers,
	)
	return m
}

func (m *Metrics) reading(outcome string) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ruleMatched(reserved bool) {
	if m == nil {
		return
	}
	result := "cooldown"
	if reserved {
		result = "reserved"
	}
	m.rulesFired.WithLabelValues(result).Inc()
}

func (m *Metrics) integrityError() {
	if m == nil {
		return
	}
	m.integrity.Inc()
}

func (m *Metrics) command(ch Channel, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(string(ch), result).Inc()
}

func (m *Metrics) event(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.events.WithLabelValues(result).Inc()
}

func (m *Metrics) cooldownWrite(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.cooldownWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) cycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) workerStarted() {
	if m == nil {
		return
	}
	m.workers.Inc()
}

func (m *Metrics) workerStopped() {
	if m == nil {
		return
	}
	m.workers.Dec()
}
