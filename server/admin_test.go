package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solfeed/txflow/ingest"
	"github.com/solfeed/txflow/waf"
)

func TestIngestStatsRoute(t *testing.T) {
	var srv = newTestServer(t, testConfig(t), Deps{Stats: ingest.NewStats()})

	var resp, body = httpGet(t, srv.URL+"/api/admin/ingest/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snapshot ingest.StatsSnapshot
	require.NoError(t, json.Unmarshal(body, &snapshot))
	require.Zero(t, snapshot.MessagesReceived)
	require.Nil(t, snapshot.LastProcessedAt)
}

func TestIngestStatsWithoutPipeline(t *testing.T) {
	var srv = newTestServer(t, testConfig(t), Deps{})

	// Serving without an ingestion pipeline reports zeroed counters.
	var resp, body = httpGet(t, srv.URL+"/api/admin/ingest/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snapshot ingest.StatsSnapshot
	require.NoError(t, json.Unmarshal(body, &snapshot))
	require.Zero(t, snapshot.MessagesProcessed)
}

func TestAdminTokenGate(t *testing.T) {
	var cfg = testConfig(t)
	cfg.Admin.Token = "s3cret"
	var srv = newTestServer(t, cfg, Deps{Stats: ingest.NewStats()})
	var target = srv.URL + "/api/admin/ingest/stats"

	resp, body := httpGet(t, target, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	var e = decodeError(t, body)
	require.Equal(t, codeForbidden, e.Error)
	require.Equal(t, "invalid admin token", e.Details)

	resp, _ = httpGet(t, target, map[string]string{cfg.Admin.Header: "wrong"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = httpGet(t, target, map[string]string{cfg.Admin.Header: "s3cret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWAFDebugRoute(t *testing.T) {
	var cfg = testConfig(t)
	var srv = newTestServer(t, cfg, Deps{})

	var resp, body = httpGet(t, srv.URL+cfg.WAF.DebugRoutePath, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info waf.DebugInfo
	require.NoError(t, json.Unmarshal(body, &info))
	require.True(t, info.Config.Enabled)
	require.Equal(t, waf.ModeShadow, info.Config.Mode)
	require.NotZero(t, info.Config.PatternCounts["sqli"])

	// The debug request itself is scored before it lands here.
	require.NotZero(t, info.Stats.TotalRequests)
}
