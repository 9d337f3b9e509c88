// Package observability owns the service's prometheus metrics and the
// JSON audit trail.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions      prometheus.Gauge
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram
	sessionsArchived    prometheus.Counter

	planningCallDuration prometheus.Histogram
	planningCyclesPerRun prometheus.Histogram

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentErrorsTotal *prometheus.CounterVec
	providerCooldown *prometheus.GaugeVec

	streamEventsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
}

func gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
}

func histogram(name, help string, buckets []float64) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets})
}

func histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: name, Help: help, Buckets: prometheus.DefBuckets},
		labels,
	)
}

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize:    gaugeVec("queue_size", "Current queue size by lane.", "lane"),
			enqueueTotal: counterVec("enqueue_total", "Total enqueue operations by lane.", "lane"),
			dequeueTotal: counterVec("dequeue_total", "Total completed tasks by lane and status.", "lane", "status"),
			taskDuration: histogramVec("task_duration_seconds", "Task execution duration in seconds by lane.", "lane"),

			activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "active_sessions",
				Help: "Current active session count.",
			}),
			sessionLoadDuration: histogram("session_load_duration_seconds",
				"Session load duration in seconds.", prometheus.DefBuckets),
			sessionSaveDuration: histogram("session_save_duration_seconds",
				"Session save duration in seconds.", prometheus.DefBuckets),
			sessionsArchived: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "sessions_archived_total",
				Help: "Total sessions moved to the archive directory.",
			}),

			planningCallDuration: histogram("planning_call_duration_seconds",
				"Single planning completion duration in seconds.", prometheus.DefBuckets),
			planningCyclesPerRun: histogram("planning_cycles_per_run",
				"Planning cycles consumed per agent run.", []float64{1, 2, 3, 4, 5, 6, 8, 10, 15}),

			toolExecutionTotal:    counterVec("tool_execution_total", "Total tool executions by tool and status.", "tool", "status"),
			toolExecutionDuration: histogramVec("tool_execution_duration_seconds", "Tool execution duration in seconds by tool.", "tool"),
			toolErrorsTotal:       counterVec("tool_errors_total", "Total tool execution errors by tool.", "tool"),

			agentRunTotal:    counterVec("agent_run_total", "Total agent runs by provider and status.", "provider", "status"),
			agentRunDuration: histogramVec("agent_run_duration_seconds", "Agent run duration in seconds by provider.", "provider"),
			agentErrorsTotal: counterVec("agent_errors_total", "Total agent errors by provider.", "provider"),
			providerCooldown: gaugeVec("provider_cooldown_active", "Provider cooldown active state (1 active, 0 inactive).", "provider"),

			streamEventsTotal: counterVec("stream_events_total", "Total emitted stream events by kind.", "kind"),
		}

		prometheus.MustRegister(
			m.queueSize, m.enqueueTotal, m.dequeueTotal, m.taskDuration,
			m.activeSessions, m.sessionLoadDuration, m.sessionSaveDuration, m.sessionsArchived,
			m.planningCallDuration, m.planningCyclesPerRun,
			m.toolExecutionTotal, m.toolExecutionDuration, m.toolErrorsTotal,
			m.agentRunTotal, m.agentRunDuration, m.agentErrorsTotal, m.providerCooldown,
			m.streamEventsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered registers the metric set on first call.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the prometheus exposition endpoint.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, statusLabel(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}

func RecordSessionArchived(count int) {
	getMetrics().sessionsArchived.Add(float64(count))
}

func RecordPlanningCall(duration time.Duration) {
	getMetrics().planningCallDuration.Observe(duration.Seconds())
}

func RecordPlanningCycles(cycles int) {
	getMetrics().planningCyclesPerRun.Observe(float64(cycles))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordAgentRun(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if !success {
		m.agentErrorsTotal.WithLabelValues(provider).Inc()
	}
}

func SetProviderCooldown(provider string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	getMetrics().providerCooldown.WithLabelValues(provider).Set(value)
}

func RecordStreamEvent(kind string) {
	getMetrics().streamEventsTotal.WithLabelValues(kind).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
