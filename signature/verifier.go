package signature

import (
	"crypto/hmac"
	"encoding/hex"
	"strings"
)

// Verify reports whether sig is a valid signature of payload under secret.
// Malformed signatures and payloads that cannot be canonicalized yield
// false. The digest comparison is constant time.
func Verify(payload any, sig, secret string) bool {
	digest, ok := strings.CutPrefix(sig, Prefix)
	if !ok {
		return false
	}

	got, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}

	canonical, err := Canonicalize(payload)
	if err != nil {
		return false
	}

	return hmac.Equal(got, mac(canonical, secret))
}
