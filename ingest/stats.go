package ingest

import (
	"sync"
	"time"
)

// Stats aggregates pipeline counters for the operational status endpoint.
type Stats struct {
	mu sync.Mutex
	s  StatsSnapshot
}

// StatsSnapshot is a point-in-time copy of the pipeline counters.
type StatsSnapshot struct {
	MessagesReceived  uint64     `json:"messages_received"`
	MessagesProcessed uint64     `json:"messages_processed"`
	MessagesInserted  uint64     `json:"messages_inserted"`
	MessagesSkipped   uint64     `json:"messages_skipped"`
	MessagesFailed    uint64     `json:"messages_failed"`
	DLQMessagesSent   uint64     `json:"dlq_messages_sent"`
	WSEventsEmitted   uint64     `json:"ws_events_emitted"`
	LastProcessedAt   *time.Time `json:"last_processed_at"`
}

// NewStats returns zeroed Stats.
func NewStats() *Stats { return new(Stats) }

// Snapshot copies the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s
}

func (s *Stats) recordReceived() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.MessagesReceived++
}

func (s *Stats) recordProcessed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.MessagesProcessed++
	var now = time.Now().UTC()
	s.s.LastProcessedAt = &now
}

func (s *Stats) recordInserted(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.MessagesInserted += n
}

func (s *Stats) recordSkipped(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.MessagesSkipped += n
}

func (s *Stats) recordFailed(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.MessagesFailed += n
}

func (s *Stats) recordDLQSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.DLQMessagesSent++
}

func (s *Stats) recordWSEvent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.WSEventsEmitted++
}
