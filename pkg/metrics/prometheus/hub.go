// Package prometheus provides the Prometheus-backed collectors for the hub.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nmdchub/nmdchub/pkg/metrics"
)

// HubMetrics tracks the NMDC side of the hub: connections, logins, command
// dispatch, broadcast fan-out, and task-queue pressure.
type HubMetrics struct {
	connectionsOpen   prometheus.Gauge
	connectionsTotal  prometheus.Counter
	loginsTotal       prometheus.Counter
	commandsTotal     *prometheus.CounterVec
	deniedTotal       *prometheus.CounterVec
	broadcastsTotal   prometheus.Counter
	framesSentTotal   prometheus.Counter
	taskQueueDepth    prometheus.Gauge
	tasksTotal        prometheus.Counter
	punishmentsActive *prometheus.GaugeVec
}

// NewHubMetrics creates a new Prometheus-backed hub metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called); all
// methods are safe to call on a nil receiver.
func NewHubMetrics() *HubMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &HubMetrics{
		connectionsOpen: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "nmdchub_connections_open",
			Help: "Number of currently open client connections",
		}),
		connectionsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nmdchub_connections_total",
			Help: "Total number of accepted client connections",
		}),
		loginsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nmdchub_logins_total",
			Help: "Total number of completed logins",
		}),
		commandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nmdchub_commands_total",
				Help: "Total number of dispatched commands by verb",
			},
			[]string{"verb"},
		),
		deniedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nmdchub_commands_denied_total",
				Help: "Total number of commands rejected at check or hook stage by verb",
			},
			[]string{"verb"},
		),
		broadcastsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nmdchub_broadcasts_total",
			Help: "Total number of frames broadcast to the full roster",
		}),
		framesSentTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nmdchub_frames_sent_total",
			Help: "Total number of frames written to client sessions",
		}),
		taskQueueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "nmdchub_task_queue_depth",
			Help: "Number of tasks waiting for a pool worker",
		}),
		tasksTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nmdchub_tasks_total",
			Help: "Total number of tasks executed by the worker pool",
		}),
		punishmentsActive: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nmdchub_punishments_active",
				Help: "Number of active punishment entries by type",
			},
			[]string{"type"}, // "ban", "silence", "stupidify"
		),
	}
}

// RecordConnectionOpened records an accepted connection.
func (m *HubMetrics) RecordConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.connectionsOpen.Inc()
}

// RecordConnectionClosed records a closed connection.
func (m *HubMetrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsOpen.Dec()
}

// RecordLogin records a completed login.
func (m *HubMetrics) RecordLogin() {
	if m == nil {
		return
	}
	m.loginsTotal.Inc()
}

// RecordCommand records a dispatched command.
func (m *HubMetrics) RecordCommand(verb string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(verb).Inc()
}

// RecordDenied records a command rejected at the check or hook stage.
func (m *HubMetrics) RecordDenied(verb string) {
	if m == nil {
		return
	}
	m.deniedTotal.WithLabelValues(verb).Inc()
}

// RecordBroadcast records a full-roster broadcast.
func (m *HubMetrics) RecordBroadcast() {
	if m == nil {
		return
	}
	m.broadcastsTotal.Inc()
}

// RecordFrameSent records a frame written to a client session.
func (m *HubMetrics) RecordFrameSent() {
	if m == nil {
		return
	}
	m.framesSentTotal.Inc()
}

// SetTaskQueueDepth records the current task queue depth.
func (m *HubMetrics) SetTaskQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.taskQueueDepth.Set(float64(depth))
}

// RecordTask records a task executed by the worker pool.
func (m *HubMetrics) RecordTask() {
	if m == nil {
		return
	}
	m.tasksTotal.Inc()
}

// SetActivePunishments records the active entry count for a punishment type.
func (m *HubMetrics) SetActivePunishments(punishmentType string, count int) {
	if m == nil {
		return
	}
	m.punishmentsActive.WithLabelValues(punishmentType).Set(float64(count))
}
