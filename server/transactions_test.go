package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bradleyjkemp/cupaloy"
	"github.com/stretchr/testify/require"

	"github.com/solfeed/txflow/store"
)

func strPtr(s string) *string { return &s }

func i64Ptr(v int64) *int64 { return &v }

func seedTransactions() []store.Transaction {
	var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []store.Transaction{
		{
			Signature:    "5VERYLongSignatureAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
			Slot:         200,
			FromPubkey:   strPtr("FromWalletAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"),
			ToPubkey:     strPtr("ToWalletAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"),
			Lamports:     i64Ptr(1000),
			ProgramIDs:   []string{"prog1"},
			Instructions: json.RawMessage(`[]`),
			BlockTime:    i64Ptr(t0.Unix()),
			CreatedAt:    t0,
		},
		{
			Signature:  "5VERYLongSignatureBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB",
			Slot:       100,
			ProgramIDs: []string{"prog2"},
			CreatedAt:  t0.Add(-time.Minute),
		},
	}
}

// txServer returns a running server over a seeded fake store.
func txServer(t *testing.T) (*fakeStore, string) {
	var fs = newFakeStore()
	var txs = seedTransactions()
	for _, tx := range txs {
		fs.txs[tx.Signature] = tx
	}
	fs.listed = txs
	fs.summary = store.Summary{
		Total:        2,
		MaxSlot:      200,
		MaxCreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	var srv = newTestServer(t, testConfig(t), Deps{Store: fs})
	return fs, srv.URL
}

func TestListParamValidation(t *testing.T) {
	var _, base = txServer(t)

	var cases = []struct {
		query   string
		details string
	}{
		{"limit=0", "limit must be between 1 and 200"},
		{"limit=201", "limit must be between 1 and 200"},
		{"limit=abc", "limit must be an integer"},
		{"offset=-1", "offset cannot be negative"},
		{"offset=x", "offset must be an integer"},
		{"sort_by=lamports", "sort_by must be one of slot, signature, block_time"},
		{"order=sideways", "order must be asc or desc"},
		{"slot_from=abc", "slot_from must be an integer"},
		{"slot_to=abc", "slot_to must be an integer"},
		{"slot_from=10&slot_to=5", "slot_from cannot exceed slot_to"},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			var resp, body = httpGet(t, base+"/api/transactions?"+tc.query, nil)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var e = decodeError(t, body)
			require.Equal(t, codeBadRequest, e.Error)
			require.Equal(t, tc.details, e.Details)
		})
	}
}

func TestListResponseShape(t *testing.T) {
	var _, base = txServer(t)

	var resp, body = httpGet(t, base+"/api/transactions?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.True(t, strings.HasPrefix(resp.Header.Get("ETag"), `W/"`))

	var out listResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Items, 2)
	require.Equal(t, pageMeta{Limit: 2, Offset: 0, Total: 2}, out.Page)
	require.Equal(t, sortMeta{By: store.SortBySlot, Order: store.OrderDesc}, out.Sort)
	require.Equal(t, seedTransactions()[0].Signature, out.Items[0].Signature)
}

func TestListEmptyItemsAreALiteralArray(t *testing.T) {
	var fs = newFakeStore()
	fs.summary = store.Summary{MaxCreatedAt: time.Unix(0, 0)}
	var srv = newTestServer(t, testConfig(t), Deps{Store: fs})

	var resp, body = httpGet(t, srv.URL+"/api/transactions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"items":[]`)
}

func TestListETagRevalidation(t *testing.T) {
	var fs, base = txServer(t)

	var resp, _ = httpGet(t, base+"/api/transactions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var etag = resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	// An unchanged dataset revalidates without a body.
	resp, body := httpGet(t, base+"/api/transactions", map[string]string{"If-None-Match": etag})
	require.Equal(t, http.StatusNotModified, resp.StatusCode)
	require.Empty(t, body)
	require.Equal(t, etag, resp.Header.Get("ETag"))

	// New rows behind the same query invalidate the tag.
	fs.mu.Lock()
	fs.summary.Total = 3
	fs.summary.MaxSlot = 300
	fs.mu.Unlock()

	resp, _ = httpGet(t, base+"/api/transactions", map[string]string{"If-None-Match": etag})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEqual(t, etag, resp.Header.Get("ETag"))
}

func TestListCacheShortCircuitsSecondRead(t *testing.T) {
	var fs, base = txServer(t)

	var resp, first = httpGet(t, base+"/api/transactions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, second := httpGet(t, base+"/api/transactions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, string(first), string(second))

	// The summary runs per request to fingerprint the dataset, but the
	// listing itself is served from cache on the second read.
	var listCalls, summaryCalls = fs.calls()
	require.Equal(t, 1, listCalls)
	require.Equal(t, 2, summaryCalls)

	// A distinct query misses the cache.
	resp, _ = httpGet(t, base+"/api/transactions?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listCalls, _ = fs.calls()
	require.Equal(t, 2, listCalls)
}

func TestListWithoutStore(t *testing.T) {
	var srv = newTestServer(t, testConfig(t), Deps{})

	var resp, body = httpGet(t, srv.URL+"/api/transactions", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, codeServiceUnavailable, decodeError(t, body).Error)
}

func TestListStoreFailures(t *testing.T) {
	t.Run("summary", func(t *testing.T) {
		var fs = newFakeStore()
		fs.summaryErr = errors.New("connection refused")
		var srv = newTestServer(t, testConfig(t), Deps{Store: fs})

		var resp, body = httpGet(t, srv.URL+"/api/transactions", nil)
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		var e = decodeError(t, body)
		require.Equal(t, codeInternal, e.Error)
		require.Equal(t, "database query failed", e.Details)
	})

	t.Run("list", func(t *testing.T) {
		var fs = newFakeStore()
		fs.summary = store.Summary{MaxCreatedAt: time.Unix(0, 0)}
		fs.listErr = errors.New("connection refused")
		var srv = newTestServer(t, testConfig(t), Deps{Store: fs})

		var resp, body = httpGet(t, srv.URL+"/api/transactions", nil)
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		require.Equal(t, codeInternal, decodeError(t, body).Error)
	})
}

func TestGetTransaction(t *testing.T) {
	var fs, base = txServer(t)
	var known = seedTransactions()[0].Signature

	var resp, body = httpGet(t, base+"/api/transactions/"+known, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tx store.Transaction
	require.NoError(t, json.Unmarshal(body, &tx))
	require.Equal(t, known, tx.Signature)
	require.Equal(t, int64(200), tx.Slot)

	resp, body = httpGet(t, base+"/api/transactions/doesnotexist", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "transaction not found", decodeError(t, body).Error)

	fs.mu.Lock()
	fs.getErr = errors.New("connection refused")
	fs.mu.Unlock()
	resp, body = httpGet(t, base+"/api/transactions/"+known, nil)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, codeInternal, decodeError(t, body).Error)
}

func TestETagDerivation(t *testing.T) {
	var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var summary = &store.Summary{Total: 10, MaxSlot: 500, MaxCreatedAt: at}

	var tag = computeETag("canonical", summary, "salt-1")
	require.True(t, strings.HasPrefix(tag, `W/"`))
	require.True(t, strings.HasSuffix(tag, `"`))
	require.Len(t, tag, len(`W/""`)+40) // sha-1 hex

	// Stable for identical inputs.
	require.Equal(t, tag, computeETag("canonical", summary, "salt-1"))

	// Sensitive to each input.
	require.NotEqual(t, tag, computeETag("canonical2", summary, "salt-1"))
	require.NotEqual(t, tag, computeETag("canonical", summary, "salt-2"))
	require.NotEqual(t, tag, computeETag("canonical",
		&store.Summary{Total: 11, MaxSlot: 500, MaxCreatedAt: at}, "salt-1"))
	require.NotEqual(t, tag, computeETag("canonical",
		&store.Summary{Total: 10, MaxSlot: 501, MaxCreatedAt: at}, "salt-1"))
	require.NotEqual(t, tag, computeETag("canonical",
		&store.Summary{Total: 10, MaxSlot: 500, MaxCreatedAt: at.Add(time.Second)}, "salt-1"))
}

func TestCanonicalQueryDefaults(t *testing.T) {
	var q, err = parseListQuery(url.Values{})
	require.NoError(t, err)
	require.Equal(t,
		"sig=|from=|to=|prog=|slot_from=|slot_to=|sort=slot|order=desc|limit=50|offset=0",
		canonicalQuery(q))
}

func TestCanonicalQueryFingerprint(t *testing.T) {
	var values = url.Values{}
	values.Set("signature", "sigA")
	values.Set("from", "walletFrom")
	values.Set("to", "walletTo")
	values.Set("program_id", "prog1")
	values.Set("slot_from", "100")
	values.Set("slot_to", "200")
	values.Set("sort_by", "block_time")
	values.Set("order", "asc")
	values.Set("limit", "25")
	values.Set("offset", "5")

	var q, err = parseListQuery(values)
	require.NoError(t, err)
	cupaloy.SnapshotT(t, canonicalQuery(q))
}
