package ingest

import (
	"context"
	"fmt"

	"github.com/Shopify/sarama"

	"github.com/solfeed/txflow/config"
)

// HealthChecker probes broker connectivity for readiness checks, using a
// client separate from the consumer group so a probe never disturbs an
// active session.
type HealthChecker struct {
	client sarama.Client
}

// NewHealthChecker dials the configured brokers.
func NewHealthChecker(cfg config.Kafka) (*HealthChecker, error) {
	var saramaCfg = sarama.NewConfig()
	saramaCfg.Version = sarama.MaxVersion
	saramaCfg.ClientID = cfg.GroupID + "-health"
	saramaCfg.Metadata.Timeout = cfg.MetadataTimeout()
	saramaCfg.Metadata.Retry.Max = 1

	var client, err = sarama.NewClient(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("dialing brokers %v: %w", cfg.Brokers, err)
	}
	return &HealthChecker{client: client}, nil
}

// Ping refreshes broker metadata, bounded by the metadata timeout.
func (h *HealthChecker) Ping(context.Context) error {
	if err := h.client.RefreshMetadata(); err != nil {
		return fmt.Errorf("refreshing broker metadata: %w", err)
	}
	return nil
}

// Close releases the client.
func (h *HealthChecker) Close() error { return h.client.Close() }
