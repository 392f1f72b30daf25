package server

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/solfeed/txflow/auth"
)

// Wallet addresses are base58 of 32 bytes, which encodes to 32..44 runes.
const (
	minAddressLen = 32
	maxAddressLen = 44
)

type nonceRequest struct {
	WalletAddress string `json:"wallet_address"`
}

type nonceResponse struct {
	Nonce   string `json:"nonce"`
	TTLSecs int    `json:"ttl_secs"`
}

// issueNonce serves POST /api/auth/nonce: it binds a fresh one-time nonce
// to the requested wallet address with a bounded lifetime. Issuing a new
// nonce replaces any outstanding one for the same address.
func (s *Server) issueNonce(w http.ResponseWriter, r *http.Request) {
	var req nonceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid JSON body")
		return
	}
	if n := len(req.WalletAddress); n < minAddressLen || n > maxAddressLen {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid address format")
		return
	}
	if _, err := auth.DecodePubkey(req.WalletAddress); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "address is not a valid public key")
		return
	}
	if s.kv == nil {
		writeError(w, http.StatusServiceUnavailable, codeServiceUnavailable,
			"authentication requires the key/value store")
		return
	}

	var nonce, err = auth.NewNonce()
	if err != nil {
		log.WithField("err", err).Error("nonce generation failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "nonce generation failed")
		return
	}
	var key = s.cfg.Auth.NoncePrefix + ":" + req.WalletAddress
	if err := s.kv.SetEx(r.Context(), key, nonce, s.cfg.Auth.NonceTTL()); err != nil {
		log.WithFields(log.Fields{"err": err, "wallet": req.WalletAddress}).
			Error("failed to persist nonce")
		writeError(w, http.StatusInternalServerError, codeInternal, "key/value store unavailable")
		return
	}

	log.WithFields(log.Fields{
		"wallet":  req.WalletAddress,
		"ttlSecs": s.cfg.Auth.NonceTTLSecs,
	}).Debug("issued authentication nonce")
	writeJSON(w, http.StatusOK, nonceResponse{Nonce: nonce, TTLSecs: s.cfg.Auth.NonceTTLSecs})
}
