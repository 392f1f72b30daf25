package server

import (
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/solfeed/txflow/auth"
	"github.com/solfeed/txflow/config"
	"github.com/solfeed/txflow/kv"
)

// Wallet gate rejection reasons, surfaced in the error details.
const (
	reasonNonceMissing      = "nonce_missing"
	reasonNonceMismatch     = "nonce_mismatch"
	reasonInvalidPubkey     = "invalid_pubkey"
	reasonInvalidSignature  = "invalid_signature"
	reasonVerificationError = "verification_error"
	reasonKVUnavailable     = "redis_unavailable"
	reasonKVError           = "redis_error"
)

// WalletAuth gates protected paths on proof of wallet-key control: the
// caller must present a previously issued one-time nonce and an Ed25519
// signature over the canonical signing string. A nonce is consumed on the
// first successful verification.
type WalletAuth struct {
	cfg config.Auth
	kv  kv.Store
}

// NewWalletAuth returns the gate over |cfg|. |store| holds issued nonces;
// nil means nonce lookups fail closed with an internal error.
func NewWalletAuth(cfg config.Auth, store kv.Store) *WalletAuth {
	return &WalletAuth{cfg: cfg, kv: store}
}

func (g *WalletAuth) bypassed(path string) bool {
	for _, p := range g.cfg.BypassPaths {
		if path == p {
			return true
		}
	}
	return false
}

func (g *WalletAuth) protected(path string) bool {
	for _, prefix := range g.cfg.ProtectPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *WalletAuth) nonceKey(address string) string {
	return g.cfg.NoncePrefix + ":" + address
}

// Middleware verifies wallet signatures on protected requests.
func (g *WalletAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.cfg.Enabled || g.bypassed(r.URL.Path) || !g.protected(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		var address = r.Header.Get(g.cfg.WalletHeader)
		var signature = r.Header.Get(g.cfg.SignatureHeader)
		var nonce = r.Header.Get(g.cfg.NonceHeader)

		var missing []string
		if address == "" {
			missing = append(missing, g.cfg.WalletHeader)
		}
		if signature == "" {
			missing = append(missing, g.cfg.SignatureHeader)
		}
		if nonce == "" {
			missing = append(missing, g.cfg.NonceHeader)
		}
		if len(missing) != 0 {
			authDecisionsTotal.WithLabelValues("missing_headers").Inc()
			writeMissingHeaders(w, missing)
			return
		}

		var ctx = r.Context()
		if g.kv == nil {
			authDecisionsTotal.WithLabelValues(reasonKVUnavailable).Inc()
			writeError(w, http.StatusInternalServerError, codeInternal, reasonKVUnavailable)
			return
		}

		var stored, err = g.kv.Get(ctx, g.nonceKey(address))
		if errors.Is(err, kv.ErrNotFound) {
			authDecisionsTotal.WithLabelValues(reasonNonceMissing).Inc()
			writeError(w, http.StatusUnauthorized, codeUnauthorized, reasonNonceMissing)
			return
		} else if err != nil {
			log.WithFields(log.Fields{"err": err, "wallet": address}).
				Error("nonce lookup failed")
			authDecisionsTotal.WithLabelValues(reasonKVError).Inc()
			writeError(w, http.StatusInternalServerError, codeInternal, reasonKVError)
			return
		}
		if stored != nonce {
			authDecisionsTotal.WithLabelValues(reasonNonceMismatch).Inc()
			writeError(w, http.StatusUnauthorized, codeUnauthorized, reasonNonceMismatch)
			return
		}

		pubkey, err := auth.DecodePubkey(address)
		if err != nil {
			log.WithFields(log.Fields{"err": err, "wallet": address}).
				Info("rejecting malformed wallet address")
			authDecisionsTotal.WithLabelValues(reasonInvalidPubkey).Inc()
			writeError(w, http.StatusBadRequest, codeBadRequest, reasonInvalidPubkey)
			return
		}

		// Base58 takes precedence when both encodings are accepted.
		var sig []byte
		switch {
		case g.cfg.AcceptSignatureB58:
			sig, err = auth.DecodeSignatureB58(signature)
		case g.cfg.AcceptSignatureB64:
			sig, err = auth.DecodeSignatureB64(signature)
		default:
			err = errors.New("no accepted signature encoding is configured")
		}
		if err != nil {
			log.WithFields(log.Fields{"err": err, "wallet": address}).
				Info("rejecting malformed signature")
			authDecisionsTotal.WithLabelValues(reasonInvalidSignature).Inc()
			writeError(w, http.StatusBadRequest, codeBadRequest, reasonInvalidSignature)
			return
		}

		var message = auth.SigningString(
			r.Method, r.URL.RequestURI(), nonce, g.cfg.CanonMethod, g.cfg.CanonPath)
		valid, err := auth.Verify(pubkey, []byte(message), sig)
		if err != nil {
			log.WithFields(log.Fields{"err": err, "wallet": address}).
				Error("signature verification errored")
			authDecisionsTotal.WithLabelValues(reasonVerificationError).Inc()
			writeError(w, http.StatusInternalServerError, codeInternal, reasonVerificationError)
			return
		}
		if !valid {
			authDecisionsTotal.WithLabelValues(reasonInvalidSignature).Inc()
			writeError(w, http.StatusUnauthorized, codeUnauthorized, reasonInvalidSignature)
			return
		}

		// Consume the nonce so the signature cannot be replayed. A failed
		// delete is logged but does not fail the admitted request.
		if err := g.kv.Del(ctx, g.nonceKey(address)); err != nil {
			log.WithFields(log.Fields{"err": err, "wallet": address}).
				Warn("failed to consume nonce")
		}
		authDecisionsTotal.WithLabelValues("allowed").Inc()
		log.WithFields(log.Fields{
			"wallet": address,
			"method": r.Method,
			"path":   r.URL.Path,
		}).Debug("wallet authentication succeeded")
		next.ServeHTTP(w, r)
	})
}
