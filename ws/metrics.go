package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "txflow_ws_connections",
	Help: "Number of live websocket sessions.",
})

var sessionsStartedCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "txflow_ws_sessions_started_total",
	Help: "Total number of websocket sessions accepted.",
})

var clientMessagesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "txflow_ws_client_messages_total",
	Help: "Total inbound client messages, by frame type.",
}, []string{"type"})

var eventsSentCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "txflow_ws_events_sent_total",
	Help: "Total transaction events written to subscribers.",
})

var eventsDroppedCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "txflow_ws_events_dropped_total",
	Help: "Total transaction events dropped by backpressure or rate limits.",
})
