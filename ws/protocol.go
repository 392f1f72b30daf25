// Package ws serves the live transaction subscription channel. Each
// connection runs a session actor which accepts subscription requests,
// delivers matching fan-out events, enforces per-session rate limits and
// heartbeats, and closes idle or abusive peers.
package ws

import (
	"github.com/solfeed/txflow/store"
)

// Frame type tags. Clients send Subscribe, Unsubscribe and Pong; the server
// sends the rest.
const (
	TypeSubscribe   = "Subscribe"
	TypeUnsubscribe = "Unsubscribe"
	TypePong        = "Pong"

	TypeAck   = "Ack"
	TypeEvent = "Event"
	TypeError = "Error"
	TypePing  = "Ping"
	TypeInfo  = "Info"
)

// Error codes carried by Error frames.
const (
	codeInvalidMessage       = "invalid_message"
	codeTooManySubscriptions = "too_many_subscriptions"
	codeRateLimited          = "rate_limited"
)

// clientFrame is the decoded envelope of an inbound message. Fields beyond
// Type are populated per frame type.
type clientFrame struct {
	Type           string   `json:"type"`
	Filters        *Filters `json:"filters"`
	ResumeFromSlot *int64   `json:"resume_from_slot"`
	ID             string   `json:"id"`
	TS             uint64   `json:"ts"`
}

type ackFrame struct {
	Type    string  `json:"type"`
	ID      string  `json:"id"`
	Filters Filters `json:"filters"`
}

type eventFrame struct {
	Type string            `json:"type"`
	Sub  string            `json:"sub"`
	TX   store.Transaction `json:"tx"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type pingFrame struct {
	Type string `json:"type"`
	TS   uint64 `json:"ts"`
}

type infoFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Filters select the transactions a subscription receives. Nil fields do
// not constrain.
type Filters struct {
	Signature *string `json:"signature"`
	From      *string `json:"from"`
	To        *string `json:"to"`
	ProgramID *string `json:"program_id"`
	SlotFrom  *int64  `json:"slot_from"`
	SlotTo    *int64  `json:"slot_to"`
}

// Match reports whether |tx| satisfies every set filter: exact equality on
// signature, from and to, membership for program_id, and an inclusive slot
// range.
func (f Filters) Match(tx *store.Transaction) bool {
	if f.Signature != nil && tx.Signature != *f.Signature {
		return false
	}
	if f.From != nil && (tx.FromPubkey == nil || *tx.FromPubkey != *f.From) {
		return false
	}
	if f.To != nil && (tx.ToPubkey == nil || *tx.ToPubkey != *f.To) {
		return false
	}
	if f.ProgramID != nil {
		var found bool
		for _, id := range tx.ProgramIDs {
			if id == *f.ProgramID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.SlotFrom != nil && tx.Slot < *f.SlotFrom {
		return false
	}
	if f.SlotTo != nil && tx.Slot > *f.SlotTo {
		return false
	}
	return true
}
