package signature

import (
	"crypto/rand"
	"encoding/hex"
)

// SecretPrefix starts every generated secret.
const SecretPrefix = "whsec_"

// GenerateSecret returns a random signing secret: "whsec_" and 64 hex
// characters.
func GenerateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("signature: read random bytes: " + err.Error())
	}
	return SecretPrefix + hex.EncodeToString(b)
}
