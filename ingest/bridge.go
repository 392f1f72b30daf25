package ingest

import (
	log "github.com/sirupsen/logrus"

	"github.com/solfeed/txflow/store"
)

// bridgeBuffer bounds the fan-out channel. Ingestion never blocks on slow
// subscription delivery: events beyond the buffer are dropped and counted.
const bridgeBuffer = 1024

// Bridge carries committed transactions from the ingestion pipeline to the
// live subscription layer.
type Bridge struct {
	ch    chan store.Transaction
	stats *Stats
}

// NewBridge returns a Bridge reporting drops against |stats|.
func NewBridge(stats *Stats) *Bridge {
	return &Bridge{
		ch:    make(chan store.Transaction, bridgeBuffer),
		stats: stats,
	}
}

// Emit queues |tx| for fan-out without blocking.
func (b *Bridge) Emit(tx store.Transaction) {
	select {
	case b.ch <- tx:
		b.stats.recordWSEvent()
		wsEventsEmittedCounter.Inc()
	default:
		log.WithField("signature", tx.Signature).Warn("fan-out bridge full, dropping event")
		bridgeDroppedCounter.Inc()
	}
}

// C is the receive side consumed by the subscription broadcaster.
func (b *Bridge) C() <-chan store.Transaction { return b.ch }
