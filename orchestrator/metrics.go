package orchestrator

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report scheduler activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	tasksQueued      prometheus.Gauge
	tasksActive      prometheus.Gauge
	agentsRegistered prometheus.Gauge
	tasksCompleted   *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	assignments      *prometheus.CounterVec
}

// MustNewMetrics constructs Metrics registered with reg. Collectors that are
// already registered are reused, so several orchestrators may share a
// registry. Any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gauge := func(name, help string) prometheus.Gauge {
		return register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskforce",
			Subsystem: "orchestrator",
			Name:      name,
			Help:      help,
		}))
	}
	return &Metrics{
		tasksQueued:      gauge("tasks_queued", "Number of tasks waiting for an agent."),
		tasksActive:      gauge("tasks_active", "Number of tasks currently executing."),
		agentsRegistered: gauge("agents_registered", "Number of agents in the roster."),
		tasksCompleted: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskforce",
			Subsystem: "orchestrator",
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks that finished, by result status.",
		}, []string{"status"})),
		taskDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskforce",
			Subsystem: "orchestrator",
			Name:      "task_duration_seconds",
			Help:      "Task execution time by agent and result status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent", "status"})),
		assignments: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskforce",
			Subsystem: "orchestrator",
			Name:      "assignments_total",
			Help:      "Task assignments by the strategy that chose the agent.",
		}, []string{"strategy"})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) setQueued(n int) {
	if m == nil {
		return
	}
	m.tasksQueued.Set(float64(n))
}

func (m *Metrics) setActive(n int) {
	if m == nil {
		return
	}
	m.tasksActive.Set(float64(n))
}

func (m *Metrics) setAgents(n int) {
	if m == nil {
		return
	}
	m.agentsRegistered.Set(float64(n))
}

func (m *Metrics) observeCompletion(agentID, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasksCompleted.WithLabelValues(status).Inc()
	m.taskDuration.WithLabelValues(agentID, status).Observe(d.Seconds())
}

func (m *Metrics) incAssignment(strategy string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(strategy).Inc()
}
