package store

import (
	"fmt"
	"strings"
)

const txColumns = "signature, slot, from_pubkey, to_pubkey, lamports, program_ids, instructions, block_time, created_at"

const getBySignatureSQL = "SELECT " + txColumns + " FROM transactions WHERE signature = $1"

const listSinceSlotSQL = "SELECT " + txColumns + " FROM transactions WHERE slot > $1 ORDER BY slot ASC LIMIT $2"

var sortColumns = map[string]string{
	SortBySlot:      "slot",
	SortBySignature: "signature",
	SortByBlockTime: "block_time",
}

var sortDirections = map[string]string{
	OrderAsc:  "ASC",
	OrderDesc: "DESC",
}

// appendFilter writes the WHERE fragments of |filter| onto |b|, binding
// values into |args| with positional placeholders.
func appendFilter(b *strings.Builder, args *[]interface{}, filter Filter) {
	var bind = func(clause string, value interface{}) {
		*args = append(*args, value)
		fmt.Fprintf(b, clause, len(*args))
	}

	if filter.Signature != "" {
		bind(" AND signature = $%d", filter.Signature)
	}
	if filter.From != "" {
		bind(" AND from_pubkey = $%d", filter.From)
	}
	if filter.To != "" {
		bind(" AND to_pubkey = $%d", filter.To)
	}
	if filter.ProgramID != "" {
		bind(" AND $%d = ANY(program_ids)", filter.ProgramID)
	}
	if filter.SlotFrom != nil {
		bind(" AND slot >= $%d", *filter.SlotFrom)
	}
	if filter.SlotTo != nil {
		bind(" AND slot <= $%d", *filter.SlotTo)
	}
}

// buildListSQL renders the filtered, ordered, windowed SELECT of List.
// Sort columns and directions are mapped through whitelists; anything
// else is an error.
func buildListSQL(filter Filter, sort Sort, page Page) (string, []interface{}, error) {
	var column, okColumn = sortColumns[sort.By]
	if !okColumn {
		return "", nil, fmt.Errorf("unknown sort column %q", sort.By)
	}
	var direction, okDirection = sortDirections[sort.Order]
	if !okDirection {
		return "", nil, fmt.Errorf("unknown sort order %q", sort.Order)
	}

	var b strings.Builder
	b.WriteString("SELECT " + txColumns + " FROM transactions WHERE 1=1")

	var args []interface{}
	appendFilter(&b, &args, filter)

	fmt.Fprintf(&b, " ORDER BY %s %s LIMIT $%d OFFSET $%d", column, direction, len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset)

	return b.String(), args, nil
}

// buildSummarySQL renders the aggregate SELECT of Summary. Aggregates are
// coalesced so the row scans without null handling: an empty match yields
// (0, 0, epoch).
func buildSummarySQL(filter Filter) (string, []interface{}) {
	var b strings.Builder
	b.WriteString("SELECT COUNT(*), COALESCE(MAX(slot), 0), COALESCE(MAX(created_at), '1970-01-01'::timestamptz) FROM transactions WHERE 1=1")

	var args []interface{}
	appendFilter(&b, &args, filter)

	return b.String(), args
}

// buildUpsertSQL renders a multi-row insert-or-ignore of |txs| which
// returns the signature of every row actually written.
func buildUpsertSQL(txs []Transaction) (string, []interface{}) {
	var b strings.Builder
	b.WriteString("INSERT INTO transactions (signature, slot, from_pubkey, to_pubkey, lamports, program_ids, instructions, block_time) VALUES ")

	var args = make([]interface{}, 0, len(txs)*8)
	for i, tx := range txs {
		if i > 0 {
			b.WriteString(", ")
		}
		var base = i * 8
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args,
			tx.Signature, tx.Slot, tx.FromPubkey, tx.ToPubkey,
			tx.Lamports, tx.ProgramIDs, []byte(tx.Instructions), tx.BlockTime)
	}
	b.WriteString(" ON CONFLICT (signature) DO NOTHING RETURNING signature")

	return b.String(), args
}
