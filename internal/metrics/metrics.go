package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the cworld server.
type Metrics struct {
	ConnectionsTotal   prometheus.Counter
	ActiveConnections  prometheus.Gauge
	ActiveParticipants prometheus.Gauge
	EventsTotal        *prometheus.CounterVec
	DroppedTotal       *prometheus.CounterVec
	BroadcastsTotal    prometheus.Counter
	ChatMessagesTotal  prometheus.Counter
	UploadsTotal       *prometheus.CounterVec
	ReapedTotal        prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cworld_connections_total",
			Help: "Total WebSocket connections accepted",
		}),
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cworld_active_connections",
			Help: "Current accepted WebSocket connections",
		}),
		ActiveParticipants: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cworld_active_participants",
			Help: "Current joined participants",
		}),
		EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cworld_events_total",
			Help: "Total inbound events handled",
		}, []string{"event"}),
		DroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cworld_dropped_events_total",
			Help: "Total inbound events dropped",
		}, []string{"reason"}),
		BroadcastsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cworld_broadcasts_total",
			Help: "Total broadcast fan-outs performed",
		}),
		ChatMessagesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cworld_chat_messages_total",
			Help: "Total chat messages appended to history",
		}),
		UploadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cworld_uploads_total",
			Help: "Total billboard uploads by result",
		}, []string{"result"}),
		ReapedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cworld_reaped_sessions_total",
			Help: "Total participants evicted for inactivity",
		}),
	}
}
