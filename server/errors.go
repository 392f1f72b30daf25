package server

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// Error codes surfaced in response bodies.
const (
	codeBadRequest         = "bad_request"
	codeUnauthorized       = "unauthorized"
	codeForbidden          = "forbidden"
	codeRateLimited        = "rate_limited"
	codeInternal           = "internal"
	codeServiceUnavailable = "service_unavailable"
)

// errorBody is the uniform error envelope of the API.
type errorBody struct {
	Error   string   `json:"error"`
	Details string   `json:"details,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithField("err", err).Warn("failed to encode response body")
	}
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, errorBody{Error: code, Details: details})
}

// writeMissingHeaders rejects a request that lacks required headers,
// naming each absent header.
func writeMissingHeaders(w http.ResponseWriter, missing []string) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		Error:   codeBadRequest,
		Details: "missing required authentication headers",
		Missing: missing,
	})
}
