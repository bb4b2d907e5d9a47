// Package signature signs webhook payloads with HMAC-SHA256 and verifies
// the signatures on the receiving side.
//
// A signature is "sha256=" followed by the lowercase hex HMAC-SHA256 of the
// canonical JSON encoding of the payload, keyed by the subscription secret.
// It is sent in the X-Webhook-Signature header.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const (
	// Prefix marks the signature scheme.
	Prefix = "sha256="

	// HeaderSignature carries the signature on delivery requests.
	HeaderSignature = "X-Webhook-Signature"
)

// Signer signs and verifies payloads with one secret.
type Signer struct {
	secret string
}

// NewSigner returns a Signer bound to secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the signature of payload.
func (s *Signer) Sign(payload any) (string, error) {
	return Sign(payload, s.secret)
}

// Verify reports whether sig is the signature of payload.
func (s *Signer) Verify(payload any, sig string) bool {
	return Verify(payload, sig, s.secret)
}

// Sign canonicalizes payload and returns its signature under secret.
func Sign(payload any, secret string) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}

	return SignCanonical(canonical, secret), nil
}

// SignCanonical signs bytes that are already canonical JSON. The delivery
// worker uses it so the signed bytes are exactly the request body.
func SignCanonical(canonical []byte, secret string) string {
	return Prefix + hex.EncodeToString(mac(canonical, secret))
}

func mac(msg []byte, secret string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(msg)
	return h.Sum(nil)
}
