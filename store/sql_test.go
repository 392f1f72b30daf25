package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func int64p(v int64) *int64 { return &v }

func TestBuildListSQLNoFilters(t *testing.T) {
	var sql, args, err = buildListSQL(Filter{}, Sort{By: SortBySlot, Order: OrderDesc}, Page{Limit: 50, Offset: 0})
	require.NoError(t, err)
	require.Equal(t,
		"SELECT signature, slot, from_pubkey, to_pubkey, lamports, program_ids, instructions, block_time, created_at "+
			"FROM transactions WHERE 1=1 ORDER BY slot DESC LIMIT $1 OFFSET $2",
		sql)
	require.Equal(t, []interface{}{int64(50), int64(0)}, args)
}

func TestBuildListSQLAllFilters(t *testing.T) {
	var filter = Filter{
		Signature: "sig",
		From:      "alice",
		To:        "bob",
		ProgramID: "prog",
		SlotFrom:  int64p(10),
		SlotTo:    int64p(20),
	}
	var sql, args, err = buildListSQL(filter, Sort{By: SortByBlockTime, Order: OrderAsc}, Page{Limit: 5, Offset: 15})
	require.NoError(t, err)
	require.Equal(t,
		"SELECT signature, slot, from_pubkey, to_pubkey, lamports, program_ids, instructions, block_time, created_at "+
			"FROM transactions WHERE 1=1"+
			" AND signature = $1 AND from_pubkey = $2 AND to_pubkey = $3"+
			" AND $4 = ANY(program_ids) AND slot >= $5 AND slot <= $6"+
			" ORDER BY block_time ASC LIMIT $7 OFFSET $8",
		sql)
	require.Equal(t, []interface{}{"sig", "alice", "bob", "prog", int64(10), int64(20), int64(5), int64(15)}, args)
}

func TestBuildListSQLRejectsUnknownSort(t *testing.T) {
	var _, _, err = buildListSQL(Filter{}, Sort{By: "lamports; DROP TABLE", Order: OrderAsc}, Page{Limit: 1})
	require.Error(t, err)

	_, _, err = buildListSQL(Filter{}, Sort{By: SortBySlot, Order: "sideways"}, Page{Limit: 1})
	require.Error(t, err)
}

func TestBuildSummarySQL(t *testing.T) {
	var sql, args = buildSummarySQL(Filter{From: "alice", SlotTo: int64p(99)})
	require.Equal(t,
		"SELECT COUNT(*), COALESCE(MAX(slot), 0), COALESCE(MAX(created_at), '1970-01-01'::timestamptz) "+
			"FROM transactions WHERE 1=1 AND from_pubkey = $1 AND slot <= $2",
		sql)
	require.Equal(t, []interface{}{"alice", int64(99)}, args)
}

func TestBuildUpsertSQL(t *testing.T) {
	var from = "alice"
	var txs = []Transaction{
		{Signature: "s1", Slot: 1, FromPubkey: &from, Instructions: json.RawMessage(`[]`)},
		{Signature: "s2", Slot: 2, Instructions: json.RawMessage(`[{"op":1}]`)},
	}
	var sql, args = buildUpsertSQL(txs)
	require.Equal(t,
		"INSERT INTO transactions (signature, slot, from_pubkey, to_pubkey, lamports, program_ids, instructions, block_time) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8), ($9, $10, $11, $12, $13, $14, $15, $16) "+
			"ON CONFLICT (signature) DO NOTHING RETURNING signature",
		sql)
	require.Len(t, args, 16)
	require.Equal(t, "s1", args[0])
	require.Equal(t, &from, args[2])
	require.Equal(t, []byte(`[]`), args[6])
	require.Equal(t, "s2", args[8])
	require.Equal(t, []byte(`[{"op":1}]`), args[14])
}
