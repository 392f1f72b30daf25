// Package store provides typed access to the durable transaction index.
// It exposes get-by-signature, bulk idempotent upsert, filtered listing,
// and the filter summary from which response validators are derived.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested transaction does not exist.
var ErrNotFound = errors.New("store: transaction not found")

// Transaction is an indexed on-chain record, uniquely keyed by signature.
type Transaction struct {
	Signature    string          `json:"signature"`
	Slot         int64           `json:"slot"`
	FromPubkey   *string         `json:"from_pubkey"`
	ToPubkey     *string         `json:"to_pubkey"`
	Lamports     *int64          `json:"lamports"`
	ProgramIDs   []string        `json:"program_ids"`
	Instructions json.RawMessage `json:"instructions"`
	BlockTime    *int64          `json:"block_time"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Filter selects transactions by exact field equality, program membership,
// and an inclusive slot range. Zero values mean "not filtered".
type Filter struct {
	Signature string
	From      string
	To        string
	ProgramID string
	SlotFrom  *int64
	SlotTo    *int64
}

// Sort orders listings by a whitelisted column.
type Sort struct {
	By    string // one of SortBySlot, SortBySignature, SortByBlockTime.
	Order string // one of OrderAsc, OrderDesc.
}

// Sort columns and directions accepted by List.
const (
	SortBySlot      = "slot"
	SortBySignature = "signature"
	SortByBlockTime = "block_time"

	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Page bounds a listing window.
type Page struct {
	Limit  int64
	Offset int64
}

// Summary aggregates a filter without pagination. MaxSlot is zero and
// MaxCreatedAt is the Unix epoch when no rows match.
type Summary struct {
	Total        int64
	MaxSlot      int64
	MaxCreatedAt time.Time
}

// BulkFailure is a record which could not be written during a bulk upsert.
type BulkFailure struct {
	Signature string
	Err       error
}

// BulkResult reports the outcome of a bulk upsert. Inserted holds the
// signatures of rows newly written by this call; records absent from both
// Inserted and Failed already existed and were skipped.
type BulkResult struct {
	Inserted map[string]struct{}
	Failed   []BulkFailure
}

// Store is the transaction index surface consumed by the ingestion
// pipeline, the query endpoints, and session resume replay.
type Store interface {
	// GetBySignature returns the transaction at |signature|, or ErrNotFound.
	GetBySignature(ctx context.Context, signature string) (*Transaction, error)
	// BulkUpsert writes |txs| with insert-or-ignore semantics keyed on
	// signature, and reports exactly which signatures were newly inserted.
	// Write failures of individual chunks are reported per record rather
	// than failing the call.
	BulkUpsert(ctx context.Context, txs []Transaction) (*BulkResult, error)
	// List returns transactions matching |filter|, ordered and windowed.
	List(ctx context.Context, filter Filter, sort Sort, page Page) ([]Transaction, error)
	// ListSinceSlot returns up to |limit| transactions with slot strictly
	// greater than |sinceSlot|, in ascending slot order.
	ListSinceSlot(ctx context.Context, sinceSlot, limit int64) ([]Transaction, error)
	// Summary aggregates |filter| into (total, max slot, max created-at).
	Summary(ctx context.Context, filter Filter) (*Summary, error)
	// Ping verifies connectivity.
	Ping(ctx context.Context) error
	// Close releases the connection pool.
	Close()
}
