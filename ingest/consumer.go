package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/solfeed/txflow/config"
	"github.com/solfeed/txflow/store"
)

// Consumer drives the ingestion pipeline: it joins the consumer group,
// processes partition claims into batches, and commits offsets only after
// each record is written, skipped, or durably dead-lettered.
type Consumer struct {
	cfg    config.Kafka
	icfg   config.Ingest
	store  Upserter
	dlq    Sink
	bridge *Bridge
	stats  *Stats
	group  sarama.ConsumerGroup
}

// NewConsumer joins the configured consumer group. Offsets are committed
// explicitly; automatic commits are disabled.
func NewConsumer(cfg config.Kafka, icfg config.Ingest, upserter Upserter, dlq Sink, bridge *Bridge, stats *Stats) (*Consumer, error) {
	var saramaCfg = sarama.NewConfig()
	saramaCfg.Version = sarama.MaxVersion
	saramaCfg.ClientID = fmt.Sprintf("%s-%s", cfg.GroupID, uuid.NewString())
	saramaCfg.ChannelBufferSize = cfg.MaxPollRecords
	saramaCfg.Metadata.Timeout = cfg.MetadataTimeout()
	saramaCfg.Consumer.Offsets.AutoCommit.Enable = false
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Consumer.Group.Session.Timeout = cfg.SessionTimeout()
	saramaCfg.Consumer.Group.Heartbeat.Interval = cfg.SessionTimeout() / 3
	saramaCfg.Consumer.Fetch.Max = int32(cfg.MessageMaxBytes)
	saramaCfg.Consumer.Retry.Backoff = cfg.RetryBackoff()

	var group, err = sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("joining consumer group %s: %w", cfg.GroupID, err)
	}

	log.WithFields(log.Fields{
		"brokers":    cfg.Brokers,
		"groupID":    cfg.GroupID,
		"inputTopic": cfg.InputTopic,
	}).Info("kafka ingestion initialized")

	return &Consumer{
		cfg:    cfg,
		icfg:   icfg,
		store:  upserter,
		dlq:    dlq,
		bridge: bridge,
		stats:  stats,
		group:  group,
	}, nil
}

// Run consumes until |ctx| is cancelled, rejoining the group after
// rebalances and backing off on session errors.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.group.Close()

	var topics = []string{c.cfg.InputTopic}
	for {
		if err := c.group.Consume(ctx, topics, c); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithField("err", err).Error("consumer session failed")
			select {
			case <-time.After(c.cfg.RetryBackoff()):
			case <-ctx.Done():
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Setup(session sarama.ConsumerGroupSession) error {
	log.WithFields(log.Fields{
		"memberID":   session.MemberID(),
		"generation": session.GenerationID(),
	}).Info("consumer group session started")
	return nil
}

func (c *Consumer) Cleanup(session sarama.ConsumerGroupSession) error {
	log.WithField("memberID", session.MemberID()).Info("consumer group session ended")
	return nil
}

// ConsumeClaim processes one partition: messages accumulate into a batch
// which flushes when full or when a poll interval elapses, and the claim
// is surrendered whenever an entry cannot be settled.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	var batcher = NewBatcher(c.store, c.dlq, c.bridge, c.stats, BatcherConfig{
		MaxSize:      c.icfg.DBInsertBatchSize,
		MaxRetries:   c.cfg.MaxRetries,
		RetryBackoff: c.cfg.RetryBackoff(),
		PollInterval: c.cfg.PollInterval(),
		EmitEvents:   c.icfg.EmitWSEvents,
	})

	var ticker = time.NewTicker(c.cfg.PollInterval())
	defer ticker.Stop()

	var flush = func() error {
		var marks, err = batcher.Flush(session.Context())
		for _, msg := range marks {
			session.MarkMessage(msg, "")
		}
		if len(marks) > 0 {
			session.Commit()
		}
		return err
	}

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return flush()
			}
			var full, err = c.consume(batcher, msg)
			if err != nil {
				// Settle what we can, then surrender the claim so the
				// unresolved message is redelivered.
				if flushErr := flush(); flushErr != nil {
					log.WithField("err", flushErr).Error("flush on claim surrender left entries unresolved")
				}
				return err
			}
			if full {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if batcher.Due() {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-session.Context().Done():
			return flush()
		}
	}
}

// consume normalizes one message. Unprocessable messages are dead-lettered
// immediately; their offsets are marked in batch order via AddSettled.
func (c *Consumer) consume(batcher *Batcher, msg *sarama.ConsumerMessage) (bool, error) {
	c.stats.recordReceived()
	messagesCounter.WithLabelValues("received").Inc()

	var tx *store.Transaction
	var raw, err = ParseRaw(msg.Value)
	if err == nil {
		if tx, err = Normalize(raw); err == nil {
			err = ValidateNormalized(tx)
		}
	}

	if err != nil {
		log.WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
			"err":       err,
		}).Error("failed to process message")

		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			messagesCounter.WithLabelValues("parse_error").Inc()
		} else {
			messagesCounter.WithLabelValues("validation_error").Inc()
		}
		c.stats.recordFailed(1)

		if dlqErr := c.dlq.SendRaw(msg.Value, err.Error()); dlqErr != nil {
			return false, dlqErr
		}
		c.stats.recordDLQSent()
		return batcher.AddSettled(msg), nil
	}

	c.stats.recordProcessed()
	return batcher.Add(*tx, msg), nil
}
