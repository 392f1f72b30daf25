package ingest

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solfeed/txflow/store"
)

func TestParseRawRejectsOversizePayload(t *testing.T) {
	var payload = bytes.Repeat([]byte("x"), maxPayloadBytes+1)
	var _, err = ParseRaw(payload)

	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, "message_size", validation.Field)
}

func TestParseRawRejectsMalformedJSON(t *testing.T) {
	var _, err = ParseRaw([]byte(`{"signature":`))

	var parse *ParseError
	require.ErrorAs(t, err, &parse)
	require.Equal(t, `{"signature":`, parse.Payload)
}

func TestParseRawDecodesFields(t *testing.T) {
	var raw, err = ParseRaw([]byte(`{
		"signature": "sig",
		"slot": 42,
		"from": "alice",
		"lamports": 7,
		"program_ids": ["p1", "p2"],
		"instructions": [{"op": 1}],
		"block_time": "2024-05-01T10:00:00Z"
	}`))
	require.NoError(t, err)
	require.Equal(t, "sig", raw.Signature)
	require.Equal(t, int64(42), raw.Slot)
	require.Equal(t, "alice", *raw.From)
	require.Nil(t, raw.To)
	require.Equal(t, int64(7), *raw.Lamports)
	require.Equal(t, []string{"p1", "p2"}, raw.ProgramIDs)
	require.Len(t, raw.Instructions, 1)
	require.Equal(t, "2024-05-01T10:00:00Z", *raw.BlockTime)
}

func TestNormalizeValidRecord(t *testing.T) {
	var from, to = "alice", "bob"
	var lamports int64 = 100
	var blockTime = "2024-05-01T10:00:00Z"

	var tx, err = Normalize(&RawTransaction{
		Signature:    "sig",
		Slot:         42,
		From:         &from,
		To:           &to,
		Lamports:     &lamports,
		ProgramIDs:   []string{"p1"},
		Instructions: []json.RawMessage{json.RawMessage(`{"op":1}`)},
		BlockTime:    &blockTime,
	})
	require.NoError(t, err)
	require.Equal(t, "sig", tx.Signature)
	require.Equal(t, int64(42), tx.Slot)
	require.Equal(t, "alice", *tx.FromPubkey)
	require.Equal(t, "bob", *tx.ToPubkey)
	require.Equal(t, int64(100), *tx.Lamports)
	require.Equal(t, []string{"p1"}, tx.ProgramIDs)
	require.JSONEq(t, `[{"op":1}]`, string(tx.Instructions))
	require.Equal(t, int64(1714557600), *tx.BlockTime)
}

func TestNormalizeDropsUnparseableBlockTime(t *testing.T) {
	var blockTime = "yesterday around noon"
	var tx, err = Normalize(&RawTransaction{Signature: "sig", Slot: 1, BlockTime: &blockTime})
	require.NoError(t, err)
	require.Nil(t, tx.BlockTime)
}

func TestNormalizeDefaultsInstructions(t *testing.T) {
	var tx, err = Normalize(&RawTransaction{Signature: "sig", Slot: 1})
	require.NoError(t, err)
	require.Equal(t, "[]", string(tx.Instructions))
}

func TestNormalizeRejections(t *testing.T) {
	var cases = []struct {
		name  string
		raw   RawTransaction
		field string
	}{
		{"empty signature", RawTransaction{Slot: 1}, "signature"},
		{"negative slot", RawTransaction{Signature: "sig", Slot: -1}, "slot"},
		{"too many program ids", RawTransaction{
			Signature:  "sig",
			Slot:       1,
			ProgramIDs: make([]string, maxProgramIDs+1),
		}, "program_ids"},
		{"too many instructions", RawTransaction{
			Signature:    "sig",
			Slot:         1,
			Instructions: make([]json.RawMessage, maxInstructions+1),
		}, "instructions"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var _, err = Normalize(&tc.raw)
			var validation *ValidationError
			require.ErrorAs(t, err, &validation)
			require.Equal(t, tc.field, validation.Field)
		})
	}
}

func TestValidateNormalized(t *testing.T) {
	var goodSig = strings.Repeat("s", 88)
	var goodKey = strings.Repeat("k", 44)
	var badKey = strings.Repeat("k", 43)
	var negative int64 = -1

	require.NoError(t, ValidateNormalized(&store.Transaction{Signature: goodSig}))
	require.NoError(t, ValidateNormalized(&store.Transaction{Signature: strings.Repeat("s", 80)}))
	require.NoError(t, ValidateNormalized(&store.Transaction{Signature: strings.Repeat("s", 100)}))
	require.NoError(t, ValidateNormalized(&store.Transaction{Signature: goodSig, FromPubkey: &goodKey}))

	require.Error(t, ValidateNormalized(&store.Transaction{Signature: strings.Repeat("s", 79)}))
	require.Error(t, ValidateNormalized(&store.Transaction{Signature: strings.Repeat("s", 101)}))
	require.Error(t, ValidateNormalized(&store.Transaction{Signature: goodSig, FromPubkey: &badKey}))
	require.Error(t, ValidateNormalized(&store.Transaction{Signature: goodSig, ToPubkey: &badKey}))
	require.Error(t, ValidateNormalized(&store.Transaction{Signature: goodSig, Lamports: &negative}))
}
