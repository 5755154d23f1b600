// Package sessiontoken generates opaque session tokens. Unlike the signed,
// offline-verifiable tokens a gateway issues to a separate verifier, these
// tokens are only ever checked against the registry's own live state, so
// there is nothing to sign: possession plus a registry lookup is the whole
// trust model.
package sessiontoken

import (
	"crypto/rand"

	"github.com/fenwicklabs/chatline/internal/base64url"
)

// ByteLength is the amount of random entropy backing a token, chosen to
// stay comfortably above the 128-bit floor.
const ByteLength = 24

// New returns a fresh, crypto-random, base64url-encoded token.
func New() (string, error) {
	buf := make([]byte, ByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64url.Encode(buf), nil
}
