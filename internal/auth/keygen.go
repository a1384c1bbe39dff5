package auth

import (
	"crypto/rand"
	"encoding/base64"

	gateway "github.com/himmiroute/himmi/internal"
)

// GenerateKey mints a new raw API key: the platform prefix followed by 24
// random bytes, urlsafe-base64 encoded. The raw key is returned to the
// caller exactly once; only its hash and display prefix are persisted.
func GenerateKey() (raw, hash, prefix string) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	raw = gateway.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf)
	return raw, gateway.HashKey(raw), raw[:gateway.KeyPrefixLen]
}
