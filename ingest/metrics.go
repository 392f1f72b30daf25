package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "txflow_ingest_messages_total",
	Help: "Input topic messages, by processing outcome.",
}, []string{"outcome"})

var batchFlushCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "txflow_ingest_batch_flushes_total",
	Help: "Batch flushes against the transaction store.",
})

var batchSizeHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "txflow_ingest_batch_size",
	Help:    "Distribution of flushed batch sizes.",
	Buckets: prometheus.ExponentialBuckets(1, 2, 10),
})

var dlqMessagesCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "txflow_ingest_dlq_messages_total",
	Help: "Messages published to the dead-letter topic.",
})

var wsEventsEmittedCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "txflow_ingest_ws_events_emitted_total",
	Help: "Committed transactions handed to the fan-out bridge.",
})

var bridgeDroppedCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "txflow_ingest_bridge_dropped_total",
	Help: "Fan-out events dropped because the bridge was full.",
})
