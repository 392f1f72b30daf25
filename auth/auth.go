// Package auth implements the wallet authentication primitives: base58 and
// base64 codecs for keys and signatures, canonical signing-string
// construction, Ed25519 verification, and nonce generation.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	// PubkeyLen is the byte length of an Ed25519 public key.
	PubkeyLen = ed25519.PublicKeySize
	// SignatureLen is the byte length of an Ed25519 signature.
	SignatureLen = ed25519.SignatureSize
	// nonceLen is the byte length of a generated nonce before encoding.
	nonceLen = 16
)

// Method canonicalization modes of the signing string.
const (
	CanonUpper = "upper"
	CanonLower = "lower"
	CanonAsIs  = "as-is"
)

// DecodePubkey decodes a base58 wallet address into a 32-byte Ed25519 key.
func DecodePubkey(address string) (ed25519.PublicKey, error) {
	var raw, err = base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("decoding base58 address: %w", err)
	}
	if len(raw) != PubkeyLen {
		return nil, fmt.Errorf("address decodes to %d bytes, expected %d", len(raw), PubkeyLen)
	}
	return ed25519.PublicKey(raw), nil
}

// DecodeSignatureB58 decodes a base58 signature into 64 bytes.
func DecodeSignatureB58(signature string) ([]byte, error) {
	var raw, err = base58.Decode(signature)
	if err != nil {
		return nil, fmt.Errorf("decoding base58 signature: %w", err)
	}
	if len(raw) != SignatureLen {
		return nil, fmt.Errorf("signature decodes to %d bytes, expected %d", len(raw), SignatureLen)
	}
	return raw, nil
}

// DecodeSignatureB64 decodes a standard base64 signature into 64 bytes.
func DecodeSignatureB64(signature string) ([]byte, error) {
	var raw, err = base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 signature: %w", err)
	}
	if len(raw) != SignatureLen {
		return nil, fmt.Errorf("signature decodes to %d bytes, expected %d", len(raw), SignatureLen)
	}
	return raw, nil
}

// SigningString composes the canonical signing string of a request:
// the canonicalized method, the path with query, and the nonce, joined by
// newlines. A client must sign exactly this composition.
func SigningString(method, pathWithQuery, nonce, canonMethod, canonPath string) string {
	switch canonMethod {
	case CanonUpper:
		method = strings.ToUpper(method)
	case CanonLower:
		method = strings.ToLower(method)
	}
	if canonPath == CanonLower {
		pathWithQuery = strings.ToLower(pathWithQuery)
	}
	return method + "\n" + pathWithQuery + "\n" + nonce
}

// Verify reports whether |signature| is a valid Ed25519 signature of
// |message| under |pubkey|. Malformed inputs are an error, not a rejection.
func Verify(pubkey ed25519.PublicKey, message, signature []byte) (bool, error) {
	if len(pubkey) != PubkeyLen {
		return false, fmt.Errorf("public key is %d bytes, expected %d", len(pubkey), PubkeyLen)
	}
	if len(signature) != SignatureLen {
		return false, fmt.Errorf("signature is %d bytes, expected %d", len(signature), SignatureLen)
	}
	return ed25519.Verify(pubkey, message, signature), nil
}

// NewNonce returns a fresh base58-encoded 16-byte random nonce.
func NewNonce() (string, error) {
	var raw [nonceLen]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base58.Encode(raw[:]), nil
}
