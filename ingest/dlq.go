package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/solfeed/txflow/store"
)

// Sink routes unrecoverable messages and records to the dead-letter topic.
// A nil error means the entry is durably acknowledged by the broker, which
// is the precondition for committing the source offset.
type Sink interface {
	// SendRaw dead-letters a whole raw payload which failed parse or
	// validation, keyed by arrival time.
	SendRaw(payload []byte, cause string) error
	// SendRecord dead-letters a normalized record which could not be
	// persisted, keyed by its signature.
	SendRecord(tx store.Transaction, cause string) error
	// Close shuts the underlying producer down.
	Close() error
}

// DLQ is a Sink publishing through a synchronous Kafka producer.
type DLQ struct {
	producer sarama.SyncProducer
	topic    string
}

// NewDLQ connects a synchronous producer for the dead-letter topic.
// Acknowledgment waits for the full ISR so a returned nil really means
// the broker has the entry.
func NewDLQ(brokers []string, topic string, maxRetries, maxMessageBytes int) (*DLQ, error) {
	var cfg = sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = maxRetries
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.MaxMessageBytes = maxMessageBytes

	var producer, err = sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating dead-letter producer: %w", err)
	}
	return &DLQ{producer: producer, topic: topic}, nil
}

func (d *DLQ) SendRaw(payload []byte, cause string) error {
	var key = fmt.Sprintf("dlq-%d", time.Now().Unix())
	return d.send(key, DLQMessage{
		OriginalMessage: string(payload),
		Error:           cause,
		Timestamp:       time.Now().UTC(),
	})
}

func (d *DLQ) SendRecord(tx store.Transaction, cause string) error {
	return d.send(tx.Signature, DLQMessage{
		OriginalMessage: tx,
		Error:           cause,
		Timestamp:       time.Now().UTC(),
	})
}

func (d *DLQ) send(key string, message DLQMessage) error {
	var payload, err = json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding dead-letter message: %w", err)
	}

	_, _, err = d.producer.SendMessage(&sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		log.WithFields(log.Fields{
			"topic": d.topic,
			"key":   key,
			"err":   err,
		}).Error("failed to publish dead-letter message")
		return fmt.Errorf("publishing dead-letter message: %w", err)
	}

	dlqMessagesCounter.Inc()
	return nil
}

func (d *DLQ) Close() error { return d.producer.Close() }
