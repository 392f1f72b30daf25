// Package ingest consumes raw transaction messages from Kafka, normalizes
// and validates them, persists them in idempotent batches, routes
// unrecoverable failures to a dead-letter topic, and fans committed records
// out to live subscription sessions.
package ingest

import (
	"encoding/json"
	"fmt"
	"time"
)

// RawTransaction is the wire shape of an input topic message.
type RawTransaction struct {
	Signature    string            `json:"signature"`
	Slot         int64             `json:"slot"`
	From         *string           `json:"from"`
	To           *string           `json:"to"`
	Lamports     *int64            `json:"lamports"`
	ProgramIDs   []string          `json:"program_ids"`
	Instructions []json.RawMessage `json:"instructions"`
	BlockTime    *string           `json:"block_time"`
}

// ParseError is a message which could not be decoded at all.
type ParseError struct {
	Payload string
	Cause   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s", e.Cause)
}

// ValidationError is a decoded message which violates a field constraint.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Reason)
}

// DLQMessage is the payload written to the dead-letter topic. For messages
// which failed parse or validation OriginalMessage is the raw payload text;
// for records which could not be persisted it is the normalized record.
type DLQMessage struct {
	OriginalMessage interface{} `json:"original_message"`
	Error           string      `json:"error"`
	Timestamp       time.Time   `json:"timestamp"`
	RetryCount      int         `json:"retry_count"`
}
