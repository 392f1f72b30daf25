package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/stretchr/testify/require"

	"github.com/solfeed/txflow/store"
)

type fakeUpserter struct {
	calls int
	fn    func(call int, txs []store.Transaction) (*store.BulkResult, error)
}

func (f *fakeUpserter) BulkUpsert(_ context.Context, txs []store.Transaction) (*store.BulkResult, error) {
	f.calls++
	return f.fn(f.calls, txs)
}

type fakeSink struct {
	raws      []string
	records   []store.Transaction
	recordErr error
}

func (f *fakeSink) SendRaw(payload []byte, _ string) error {
	f.raws = append(f.raws, string(payload))
	return nil
}

func (f *fakeSink) SendRecord(tx store.Transaction, _ string) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.records = append(f.records, tx)
	return nil
}

func (f *fakeSink) Close() error { return nil }

// insertAll reports every submitted record as newly inserted.
func insertAll(_ int, txs []store.Transaction) (*store.BulkResult, error) {
	var result = &store.BulkResult{Inserted: make(map[string]struct{})}
	for _, tx := range txs {
		result.Inserted[tx.Signature] = struct{}{}
	}
	return result, nil
}

func testMsg(offset int64) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "tx.raw", Partition: 0, Offset: offset}
}

func testBatcher(upserter Upserter, sink Sink, stats *Stats) (*Batcher, *Bridge) {
	var bridge = NewBridge(stats)
	return NewBatcher(upserter, sink, bridge, stats, BatcherConfig{
		MaxSize:      10,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
		PollInterval: 50 * time.Millisecond,
		EmitEvents:   true,
	}), bridge
}

func drainBridge(bridge *Bridge) []store.Transaction {
	var out []store.Transaction
	for {
		select {
		case tx := <-bridge.C():
			out = append(out, tx)
		default:
			return out
		}
	}
}

func TestBatcherFlushInsertsAndSkips(t *testing.T) {
	var stats = NewStats()
	var upserter = &fakeUpserter{fn: func(_ int, txs []store.Transaction) (*store.BulkResult, error) {
		// s2 already exists.
		var result = &store.BulkResult{Inserted: make(map[string]struct{})}
		for _, tx := range txs {
			if tx.Signature != "s2" {
				result.Inserted[tx.Signature] = struct{}{}
			}
		}
		return result, nil
	}}
	var sink = &fakeSink{}
	var batcher, bridge = testBatcher(upserter, sink, stats)

	batcher.Add(store.Transaction{Signature: "s1", Slot: 1}, testMsg(1))
	batcher.Add(store.Transaction{Signature: "s2", Slot: 2}, testMsg(2))
	batcher.Add(store.Transaction{Signature: "s3", Slot: 3}, testMsg(3))

	var marks, err = batcher.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, marks, 3)
	require.Equal(t, int64(1), marks[0].Offset)
	require.Equal(t, int64(3), marks[2].Offset)

	var events = drainBridge(bridge)
	require.Len(t, events, 2)
	require.Equal(t, "s1", events[0].Signature)
	require.Equal(t, "s3", events[1].Signature)
	require.False(t, events[0].CreatedAt.IsZero())

	var snapshot = stats.Snapshot()
	require.Equal(t, uint64(2), snapshot.MessagesInserted)
	require.Equal(t, uint64(1), snapshot.MessagesSkipped)
	require.Equal(t, uint64(2), snapshot.WSEventsEmitted)
	require.Zero(t, snapshot.DLQMessagesSent)
	require.Empty(t, sink.records)
	require.Zero(t, batcher.Len())
}

func TestBatcherRetriesThenSucceeds(t *testing.T) {
	var stats = NewStats()
	var upserter = &fakeUpserter{fn: func(call int, txs []store.Transaction) (*store.BulkResult, error) {
		if call == 1 {
			// First attempt: s1 lands, s2 fails.
			return &store.BulkResult{
				Inserted: map[string]struct{}{"s1": {}},
				Failed:   []store.BulkFailure{{Signature: "s2", Err: errors.New("connection reset")}},
			}, nil
		}
		// Retry carries only the failed record.
		require.Len(t, txs, 1)
		require.Equal(t, "s2", txs[0].Signature)
		return insertAll(call, txs)
	}}
	var sink = &fakeSink{}
	var batcher, bridge = testBatcher(upserter, sink, stats)

	batcher.Add(store.Transaction{Signature: "s1"}, testMsg(1))
	batcher.Add(store.Transaction{Signature: "s2"}, testMsg(2))

	var marks, err = batcher.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, marks, 2)
	require.Equal(t, 2, upserter.calls)
	require.Len(t, drainBridge(bridge), 2)
	require.Empty(t, sink.records)
}

func TestBatcherDeadLettersExhaustedRecords(t *testing.T) {
	var stats = NewStats()
	var upserter = &fakeUpserter{fn: func(call int, txs []store.Transaction) (*store.BulkResult, error) {
		var result = &store.BulkResult{Inserted: make(map[string]struct{})}
		for _, tx := range txs {
			if tx.Signature == "s2" {
				result.Failed = append(result.Failed, store.BulkFailure{Signature: "s2", Err: errors.New("constraint violation")})
			} else {
				result.Inserted[tx.Signature] = struct{}{}
			}
		}
		return result, nil
	}}
	var sink = &fakeSink{}
	var batcher, _ = testBatcher(upserter, sink, stats)

	batcher.Add(store.Transaction{Signature: "s1"}, testMsg(1))
	batcher.Add(store.Transaction{Signature: "s2"}, testMsg(2))
	batcher.Add(store.Transaction{Signature: "s3"}, testMsg(3))

	var marks, err = batcher.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, marks, 3)
	require.Equal(t, 3, upserter.calls)

	require.Len(t, sink.records, 1)
	require.Equal(t, "s2", sink.records[0].Signature)

	var snapshot = stats.Snapshot()
	require.Equal(t, uint64(2), snapshot.MessagesInserted)
	require.Equal(t, uint64(1), snapshot.MessagesFailed)
	require.Equal(t, uint64(1), snapshot.DLQMessagesSent)
}

func TestBatcherHaltsWhenDeadLetterFails(t *testing.T) {
	var stats = NewStats()
	var upserter = &fakeUpserter{fn: func(_ int, txs []store.Transaction) (*store.BulkResult, error) {
		var result = &store.BulkResult{Inserted: make(map[string]struct{})}
		for _, tx := range txs {
			if tx.Signature == "s2" {
				result.Failed = append(result.Failed, store.BulkFailure{Signature: "s2", Err: errors.New("boom")})
			} else {
				result.Inserted[tx.Signature] = struct{}{}
			}
		}
		return result, nil
	}}
	var sink = &fakeSink{recordErr: errors.New("broker unavailable")}
	var batcher, _ = testBatcher(upserter, sink, stats)

	batcher.Add(store.Transaction{Signature: "s1"}, testMsg(1))
	batcher.Add(store.Transaction{Signature: "s2"}, testMsg(2))
	batcher.Add(store.Transaction{Signature: "s3"}, testMsg(3))

	var marks, err = batcher.Flush(context.Background())
	require.Error(t, err)

	// Only the prefix before the unresolved entry is safe to mark. The
	// inserted record past it stays unmarked and relies on redelivery
	// being skipped by the idempotent write.
	require.Len(t, marks, 1)
	require.Equal(t, int64(1), marks[0].Offset)
}

func TestBatcherDuplicateSignatureWithinBatch(t *testing.T) {
	var stats = NewStats()
	var upserter = &fakeUpserter{fn: insertAll}
	var sink = &fakeSink{}
	var batcher, bridge = testBatcher(upserter, sink, stats)

	batcher.Add(store.Transaction{Signature: "s1", Slot: 1}, testMsg(1))
	batcher.Add(store.Transaction{Signature: "s1", Slot: 1}, testMsg(2))

	var marks, err = batcher.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, marks, 2)

	// One row, one event.
	require.Len(t, drainBridge(bridge), 1)
	var snapshot = stats.Snapshot()
	require.Equal(t, uint64(1), snapshot.MessagesInserted)
	require.Equal(t, uint64(1), snapshot.MessagesSkipped)
}

func TestBatcherMarksSettledEntriesInOrder(t *testing.T) {
	var stats = NewStats()
	var upserter = &fakeUpserter{fn: insertAll}
	var sink = &fakeSink{}
	var batcher, _ = testBatcher(upserter, sink, stats)

	batcher.Add(store.Transaction{Signature: "s1"}, testMsg(1))
	require.False(t, batcher.AddSettled(testMsg(2)))
	batcher.Add(store.Transaction{Signature: "s3"}, testMsg(3))

	var marks, err = batcher.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, marks, 3)
	require.Equal(t, int64(2), marks[1].Offset)
}

func TestBatcherFullAndDue(t *testing.T) {
	var stats = NewStats()
	var upserter = &fakeUpserter{fn: insertAll}
	var batcher, _ = testBatcher(upserter, &fakeSink{}, stats)
	batcher.cfg.MaxSize = 2

	require.False(t, batcher.Add(store.Transaction{Signature: "s1"}, testMsg(1)))
	require.True(t, batcher.Add(store.Transaction{Signature: "s2"}, testMsg(2)))

	require.False(t, batcher.Due())
	batcher.lastFlush = time.Now().Add(-time.Second)
	require.True(t, batcher.Due())

	_, err := batcher.Flush(context.Background())
	require.NoError(t, err)
	require.False(t, batcher.Due())
}

func TestBatcherFlushEmptyIsNoop(t *testing.T) {
	var upserter = &fakeUpserter{fn: insertAll}
	var batcher, _ = testBatcher(upserter, &fakeSink{}, NewStats())

	var marks, err = batcher.Flush(context.Background())
	require.NoError(t, err)
	require.Empty(t, marks)
	require.Zero(t, upserter.calls)
}

func TestBridgeDropsWhenFull(t *testing.T) {
	var stats = NewStats()
	var bridge = NewBridge(stats)

	for i := 0; i < bridgeBuffer+5; i++ {
		bridge.Emit(store.Transaction{Signature: "s"})
	}
	require.Len(t, bridge.C(), bridgeBuffer)
	require.Equal(t, uint64(bridgeBuffer), stats.Snapshot().WSEventsEmitted)
}
