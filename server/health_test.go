package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solfeed/txflow/kv"
)

func decodeReadiness(t *testing.T, body []byte) readiness {
	var r readiness
	require.NoError(t, json.Unmarshal(body, &r))
	return r
}

func TestHealthz(t *testing.T) {
	var srv = newTestServer(t, testConfig(t), Deps{})

	var resp, body = httpGet(t, srv.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestReadyzWithEverythingDisabled(t *testing.T) {
	var srv = newTestServer(t, testConfig(t), Deps{})

	var resp, body = httpGet(t, srv.URL+"/readyz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var r = decodeReadiness(t, body)
	require.True(t, r.Ready)
	for _, name := range []string{"postgres", "redis", "kafka"} {
		require.Equal(t, integrationCheck{Enabled: false, OK: true, Details: "disabled"},
			r.Checks[name], name)
	}
}

func TestReadyzReportsFailingStore(t *testing.T) {
	var fs = newFakeStore()
	fs.pingErr = errors.New("dial tcp 127.0.0.1:5432: connection refused")
	var srv = newTestServer(t, testConfig(t), Deps{Store: fs, KV: kv.NewMemory()})

	var resp, body = httpGet(t, srv.URL+"/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var r = decodeReadiness(t, body)
	require.False(t, r.Ready)
	require.False(t, r.Checks["postgres"].OK)
	require.True(t, r.Checks["postgres"].Enabled)
	require.Contains(t, r.Checks["postgres"].Details, "connection refused")

	// A healthy integration alongside a failing one still reports healthy.
	require.Equal(t, integrationCheck{Enabled: true, OK: true, Details: "healthy"},
		r.Checks["redis"])
}

func TestReadyzReportsFailingBroker(t *testing.T) {
	var broker = pingerFunc(func(context.Context) error {
		return errors.New("no reachable brokers")
	})
	var srv = newTestServer(t, testConfig(t), Deps{Broker: broker})

	var resp, body = httpGet(t, srv.URL+"/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var r = decodeReadiness(t, body)
	require.False(t, r.Ready)
	require.False(t, r.Checks["kafka"].OK)
	require.Contains(t, r.Checks["kafka"].Details, "no reachable brokers")
}

func TestVersionRoute(t *testing.T) {
	var srv = newTestServer(t, testConfig(t), Deps{})

	var resp, body = httpGet(t, srv.URL+"/version", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"name":"txflow-test","version":"0.0.0-test"}`, string(body))
}
