package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Realtime holds the fan-out collectors scraped from /metrics.
type Realtime struct {
	connections  prometheus.Gauge
	subscribers  prometheus.Gauge
	delivered    *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	queueDropped prometheus.Counter
}

func NewRealtime(reg prometheus.Registerer) *Realtime {
	factory := promauto.With(reg)
	return &Realtime{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "comms_realtime_connections",
			Help: "Open websocket and SSE connections.",
		}),
		subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "comms_realtime_subscriptions",
			Help: "Active channel subscriptions across all connections.",
		}),
		delivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "comms_realtime_events_delivered_total",
			Help: "Events handed to subscriber buffers.",
		}, []string{"event_kind"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "comms_realtime_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full.",
		}, []string{"event_kind"}),
		queueDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "comms_realtime_dispatch_dropped_total",
			Help: "Events dropped because the dispatch queue was full.",
		}),
	}
}

func (r *Realtime) ConnectionOpened() {
	if r == nil {
		return
	}
	r.connections.Inc()
}

func (r *Realtime) ConnectionClosed() {
	if r == nil {
		return
	}
	r.connections.Dec()
}

func (r *Realtime) SubscriptionAdded() {
	if r == nil {
		return
	}
	r.subscribers.Inc()
}

func (r *Realtime) SubscriptionRemoved() {
	if r == nil {
		return
	}
	r.subscribers.Dec()
}

func (r *Realtime) Delivered(kind string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.delivered.WithLabelValues(kind).Add(float64(n))
}

func (r *Realtime) Dropped(kind string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.dropped.WithLabelValues(kind).Add(float64(n))
}

func (r *Realtime) QueueDropped() {
	if r == nil {
		return
	}
	r.queueDropped.Inc()
}
