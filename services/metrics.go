package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/qianlnk/werewolf-channels/models"
)

// Metrics 服务端指标，nil 时所有方法为空操作
type Metrics struct {
	actions        *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	registrations  *prometheus.CounterVec
	broadcastDrops prometheus.Counter
	activeSessions prometheus.Gauge
	connections    prometheus.Gauge
}

// NewMetrics 在 reg 上注册指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "werewolf_actions_total",
			Help: "submitted actions by kind and result code",
		}, []string{"kind", "result"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "werewolf_phase_transitions_total",
			Help: "phase transitions by target phase",
		}, []string{"phase"}),
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "werewolf_entry_operations_total",
			Help: "entry queue operations by op and result code",
		}, []string{"op", "result"}),
		broadcastDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "werewolf_broadcast_drops_total",
			Help: "subscribers dropped because their send queue was full",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "werewolf_active_sessions",
			Help: "sessions not yet finished",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "werewolf_ws_connections",
			Help: "open websocket connections",
		}),
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return ErrorCode(err)
}

// kindLabel 只有已知的动作类型作为标签值，其余归为 unknown
func kindLabel(kind models.ActionKind) string {
	for _, k := range models.ActionKinds {
		if k == kind {
			return string(k)
		}
	}
	return "unknown"
}

func (m *Metrics) action(kind models.ActionKind, err error) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(kindLabel(kind), resultLabel(err)).Inc()
}

func (m *Metrics) transition(phase string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(phase).Inc()
}

func (m *Metrics) entry(op string, err error) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(op, resultLabel(err)).Inc()
}

func (m *Metrics) drop() {
	if m == nil {
		return
	}
	m.broadcastDrops.Inc()
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) sessionEnded() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}
