package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/solfeed/txflow/store"
)

// Upserter is the slice of the transaction store used by the pipeline.
type Upserter interface {
	BulkUpsert(ctx context.Context, txs []store.Transaction) (*store.BulkResult, error)
}

// BatcherConfig tunes batch accumulation and the write retry policy.
type BatcherConfig struct {
	MaxSize      int
	MaxRetries   int
	RetryBackoff time.Duration
	PollInterval time.Duration
	EmitEvents   bool
}

type entry struct {
	tx  store.Transaction
	msg *sarama.ConsumerMessage
	// settled entries were already dead-lettered and only await an
	// in-order offset mark.
	settled bool
}

// Batcher accumulates normalized records from one partition claim and
// flushes them as a single idempotent bulk write.
//
// Flush returns the consumer messages whose offsets are safe to mark: the
// longest prefix of the batch, in arrival order, whose entries were either
// written, skipped as duplicates, or durably dead-lettered. Entries past the
// first unresolved one are never marked, so a session restart redelivers
// them and the idempotent write skips whatever had already landed.
type Batcher struct {
	upserter Upserter
	dlq      Sink
	bridge   *Bridge
	stats    *Stats
	cfg      BatcherConfig

	entries   []entry
	lastFlush time.Time
}

// NewBatcher returns an empty Batcher.
func NewBatcher(upserter Upserter, dlq Sink, bridge *Bridge, stats *Stats, cfg BatcherConfig) *Batcher {
	return &Batcher{
		upserter:  upserter,
		dlq:       dlq,
		bridge:    bridge,
		stats:     stats,
		cfg:       cfg,
		lastFlush: time.Now(),
	}
}

// Add appends a normalized record, reporting whether the batch is full.
func (b *Batcher) Add(tx store.Transaction, msg *sarama.ConsumerMessage) bool {
	b.entries = append(b.entries, entry{tx: tx, msg: msg})
	return len(b.entries) >= b.cfg.MaxSize
}

// AddSettled appends a message which was already dead-lettered, so its
// offset is marked in order with the surrounding batch.
func (b *Batcher) AddSettled(msg *sarama.ConsumerMessage) bool {
	b.entries = append(b.entries, entry{msg: msg, settled: true})
	return len(b.entries) >= b.cfg.MaxSize
}

// Due reports whether a non-empty batch has waited a full poll interval.
func (b *Batcher) Due() bool {
	return len(b.entries) > 0 && time.Since(b.lastFlush) >= b.cfg.PollInterval
}

// Len returns the number of accumulated entries.
func (b *Batcher) Len() int { return len(b.entries) }

// Flush writes the accumulated batch, dead-letters records which failed
// every retry, emits newly inserted records to the fan-out bridge, and
// returns the messages safe to mark. A non-nil error means some entries
// were left unresolved and the claim should be surrendered for redelivery.
func (b *Batcher) Flush(ctx context.Context) ([]*sarama.ConsumerMessage, error) {
	b.lastFlush = time.Now()
	if len(b.entries) == 0 {
		return nil, nil
	}
	var entries = b.entries
	b.entries = nil

	batchFlushCounter.Inc()
	batchSizeHistogram.Observe(float64(len(entries)))

	var txs = make([]store.Transaction, 0, len(entries))
	for _, e := range entries {
		if !e.settled {
			txs = append(txs, e.tx)
		}
	}

	var inserted, failed, upsertErr = b.upsertWithRetry(ctx, txs)

	var marks []*sarama.ConsumerMessage
	var emitted = make(map[string]struct{})
	var halted = 0

	for _, e := range entries {
		if e.settled {
			if halted == 0 {
				marks = append(marks, e.msg)
			}
			continue
		}
		var sig = e.tx.Signature

		if _, ok := inserted[sig]; ok {
			if _, dup := emitted[sig]; dup {
				// Repeated signature within one batch: only one row exists.
				b.stats.recordSkipped(1)
				messagesCounter.WithLabelValues("skipped").Inc()
			} else {
				emitted[sig] = struct{}{}
				b.stats.recordInserted(1)
				messagesCounter.WithLabelValues("inserted").Inc()
				if b.cfg.EmitEvents {
					var tx = e.tx
					tx.CreatedAt = time.Now().UTC()
					b.bridge.Emit(tx)
				}
			}
			if halted == 0 {
				marks = append(marks, e.msg)
			}
			continue
		}

		if halted > 0 || upsertErr != nil {
			// Fate unknown; leave for redelivery.
			halted++
			continue
		}

		if cause, ok := failed[sig]; ok {
			if dlqErr := b.dlq.SendRecord(e.tx, cause); dlqErr != nil {
				halted++
				continue
			}
			b.stats.recordFailed(1)
			b.stats.recordDLQSent()
			messagesCounter.WithLabelValues("failed").Inc()
			marks = append(marks, e.msg)
			continue
		}

		// Already present in the store.
		b.stats.recordSkipped(1)
		messagesCounter.WithLabelValues("skipped").Inc()
		marks = append(marks, e.msg)
	}

	if upsertErr != nil {
		return marks, fmt.Errorf("flushing batch: %w", upsertErr)
	}
	if halted > 0 {
		return marks, fmt.Errorf("flushing batch: %d of %d entries unresolved", halted, len(entries))
	}
	return marks, nil
}

// upsertWithRetry writes |txs|, retrying just the failed records with a
// linear backoff. It returns the accumulated set of inserted signatures
// and, once retries are exhausted, the remaining failures by signature.
func (b *Batcher) upsertWithRetry(ctx context.Context, txs []store.Transaction) (map[string]struct{}, map[string]string, error) {
	var inserted = make(map[string]struct{})
	if len(txs) == 0 {
		return inserted, nil, nil
	}

	var pending = txs
	for attempt := 1; ; attempt++ {
		var result, err = b.upserter.BulkUpsert(ctx, pending)
		if result != nil {
			for sig := range result.Inserted {
				inserted[sig] = struct{}{}
			}
		}
		if err != nil {
			return inserted, nil, err
		}
		if len(result.Failed) == 0 {
			return inserted, nil, nil
		}

		var failed = make(map[string]string, len(result.Failed))
		for _, f := range result.Failed {
			failed[f.Signature] = f.Err.Error()
		}
		log.WithFields(log.Fields{
			"attempt": attempt,
			"failed":  len(failed),
		}).Error("batch write failed")

		if attempt >= b.cfg.MaxRetries {
			return inserted, failed, nil
		}

		select {
		case <-time.After(b.cfg.RetryBackoff * time.Duration(attempt)):
		case <-ctx.Done():
			return inserted, nil, ctx.Err()
		}

		var retry = make([]store.Transaction, 0, len(failed))
		for _, tx := range pending {
			if _, ok := failed[tx.Signature]; ok {
				retry = append(retry, tx)
			}
		}
		pending = retry
	}
}
