package ingest

import (
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/solfeed/txflow/store"
)

// Field constraints applied during normalization.
const (
	maxPayloadBytes   = 1 << 20
	maxProgramIDs     = 50
	maxInstructions   = 100
	minSignatureChars = 80
	maxSignatureChars = 100
	pubkeyChars       = 44
)

var emptyInstructions = json.RawMessage("[]")

// ParseRaw decodes a raw topic payload, enforcing the size cap first.
func ParseRaw(payload []byte) (*RawTransaction, error) {
	if len(payload) > maxPayloadBytes {
		return nil, &ValidationError{Field: "message_size", Reason: "message too large (max 1MB)"}
	}

	var raw = new(RawTransaction)
	if err := json.Unmarshal(payload, raw); err != nil {
		return nil, &ParseError{Payload: string(payload), Cause: err.Error()}
	}
	return raw, nil
}

// Normalize converts a raw message into a storable Transaction. A malformed
// block_time is dropped rather than failing the record; missing instructions
// normalize to an empty sequence.
func Normalize(raw *RawTransaction) (*store.Transaction, error) {
	if raw.Signature == "" {
		return nil, &ValidationError{Field: "signature", Reason: "signature cannot be empty"}
	}
	if raw.Slot < 0 {
		return nil, &ValidationError{Field: "slot", Reason: "slot must be non-negative"}
	}
	if len(raw.ProgramIDs) > maxProgramIDs {
		return nil, &ValidationError{Field: "program_ids", Reason: "too many program IDs (max 50)"}
	}
	if len(raw.Instructions) > maxInstructions {
		return nil, &ValidationError{Field: "instructions", Reason: "too many instructions (max 100)"}
	}

	var blockTime *int64
	if raw.BlockTime != nil {
		if parsed, err := time.Parse(time.RFC3339, *raw.BlockTime); err != nil {
			log.WithFields(log.Fields{
				"signature": raw.Signature,
				"blockTime": *raw.BlockTime,
				"err":       err,
			}).Warn("failed to parse block_time, dropping field")
		} else {
			var epoch = parsed.Unix()
			blockTime = &epoch
		}
	}

	var instructions = emptyInstructions
	if raw.Instructions != nil {
		var encoded, err = json.Marshal(raw.Instructions)
		if err != nil {
			return nil, &ParseError{Cause: err.Error()}
		}
		instructions = encoded
	}

	return &store.Transaction{
		Signature:    raw.Signature,
		Slot:         raw.Slot,
		FromPubkey:   raw.From,
		ToPubkey:     raw.To,
		Lamports:     raw.Lamports,
		ProgramIDs:   raw.ProgramIDs,
		Instructions: instructions,
		BlockTime:    blockTime,
	}, nil
}

// ValidateNormalized applies the field-shape constraints of the index:
// signature and pubkey lengths, and non-negative lamports.
func ValidateNormalized(tx *store.Transaction) error {
	if len(tx.Signature) < minSignatureChars || len(tx.Signature) > maxSignatureChars {
		return &ValidationError{Field: "signature", Reason: "invalid signature length"}
	}
	if tx.FromPubkey != nil && len(*tx.FromPubkey) != pubkeyChars {
		return &ValidationError{Field: "from_pubkey", Reason: "invalid pubkey length"}
	}
	if tx.ToPubkey != nil && len(*tx.ToPubkey) != pubkeyChars {
		return &ValidationError{Field: "to_pubkey", Reason: "invalid pubkey length"}
	}
	if tx.Lamports != nil && *tx.Lamports < 0 {
		return &ValidationError{Field: "lamports", Reason: "lamports must be non-negative"}
	}
	return nil
}
