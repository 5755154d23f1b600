// Package cryptoifacetest provides reversible, insecure fakes of the
// cryptoiface interfaces, for tests that need a Cryptor or
// AsymmetricCryptor without a real cryptographic library. Only this
// package's own tests use them at present.
package cryptoifacetest

import (
	"context"
	"encoding/binary"

	"github.com/fenwicklabs/chatline/cryptoiface"
)

// XORCryptor is a trivial reversible Cryptor: it XORs the plaintext with a
// key-derived keystream. It has no security value and must never be used
// outside tests.
type XORCryptor struct{}

var _ cryptoiface.Cryptor = XORCryptor{}

func (XORCryptor) Encrypt(_ context.Context, key, plaintext []byte) ([]byte, error) {
	return xorWithKey(key, plaintext), nil
}

func (XORCryptor) Decrypt(_ context.Context, key, ciphertext []byte) ([]byte, error) {
	return xorWithKey(key, ciphertext), nil
}

func xorWithKey(key, data []byte) []byte {
	out := make([]byte, len(data))
	if len(key) == 0 {
		copy(out, data)
		return out
	}
	for i := range data {
		out[i] = data[i] ^ key[i%len(key)]
	}
	return out
}

// FixedAsymmetric is an AsymmetricCryptor fake: the "public" key is just a
// counter, and the "shared key" derived from two sides is the sum of their
// counters, so both directions agree without any real key agreement.
type FixedAsymmetric struct {
	next uint64
}

var _ cryptoiface.AsymmetricCryptor = &FixedAsymmetric{}

func (f *FixedAsymmetric) GenerateKeyPair(_ context.Context) (public, private []byte, err error) {
	f.next++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, f.next)
	return buf, buf, nil
}

func (f *FixedAsymmetric) DeriveSharedKey(_ context.Context, private, peerPublic []byte) ([]byte, error) {
	a := binary.BigEndian.Uint64(pad8(private))
	b := binary.BigEndian.Uint64(pad8(peerPublic))
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, a+b)
	return out, nil
}

func pad8(b []byte) []byte {
	if len(b) >= 8 {
		return b[:8]
	}
	out := make([]byte, 8)
	copy(out[8-len(b):], b)
	return out
}
