package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the Orchis engine.
// A nil *Metrics is safe to use everywhere and records nothing.
type Metrics struct {
	config MetricsConfig

	// Plan metrics
	planDuration *prometheus.HistogramVec

	// Task metrics
	tasksDispatched *prometheus.CounterVec
	taskRetries     *prometheus.CounterVec
	taskFailures    *prometheus.CounterVec

	// Rollback metrics
	teardowns *prometheus.CounterVec

	// Solver metrics
	solveDuration prometheus.Histogram
	solveFailures prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		planDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_duration_seconds",
				Help:      "Duration of plan execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"state"},
		),

		tasksDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_dispatched_total",
				Help:      "Total number of tasks dispatched to adapters",
			},
			[]string{"kind"},
		),
		taskRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_retries_total",
				Help:      "Total number of task retry attempts",
			},
			[]string{"kind"},
		),
		taskFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_failures_total",
				Help:      "Total number of permanently failed tasks",
			},
			[]string{"kind"},
		),

		teardowns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollback_teardowns_total",
				Help:      "Total number of rollback teardown calls",
			},
			[]string{"kind", "outcome"},
		),

		solveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "solve_duration_seconds",
				Help:      "Duration of placement solves in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		solveFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "solve_failures_total",
				Help:      "Total number of infeasible placement solves",
			},
		),
	}

	registry.MustRegister(
		m.planDuration,
		m.tasksDispatched,
		m.taskRetries,
		m.taskFailures,
		m.teardowns,
		m.solveDuration,
		m.solveFailures,
	)

	return m, nil
}

// ObservePlanDuration records a terminal plan with its duration.
func (m *Metrics) ObservePlanDuration(state string, duration time.Duration) {
	if m == nil {
		return
	}
	m.planDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// IncTasksDispatched increments the dispatched counter for a resource kind.
func (m *Metrics) IncTasksDispatched(kind string) {
	if m == nil {
		return
	}
	m.tasksDispatched.WithLabelValues(kind).Inc()
}

// IncTaskRetries increments the retry counter for a resource kind.
func (m *Metrics) IncTaskRetries(kind string) {
	if m == nil {
		return
	}
	m.taskRetries.WithLabelValues(kind).Inc()
}

// IncTaskFailures increments the failure counter for a resource kind.
func (m *Metrics) IncTaskFailures(kind string) {
	if m == nil {
		return
	}
	m.taskFailures.WithLabelValues(kind).Inc()
}

// IncTeardowns records a rollback teardown call and its outcome.
func (m *Metrics) IncTeardowns(kind string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.teardowns.WithLabelValues(kind, outcome).Inc()
}

// ObserveSolve records a placement solve and whether it was feasible.
func (m *Metrics) ObserveSolve(duration time.Duration, feasible bool) {
	if m == nil {
		return
	}
	m.solveDuration.Observe(duration.Seconds())
	if !feasible {
		m.solveFailures.Inc()
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer(log *Logger) {
	if m == nil || !m.config.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Errorf("metrics server error: %v", err)
			}
		}
	}()
}
