// Package cryptoiface declares the abstract cryptographic capabilities a
// private (E2EE) session relies on. The core never picks a concrete
// primitive: callers supply a Cryptor/AsymmetricCryptor implementation, and
// the handshake coordinator and router treat message bodies and key
// material as opaque byte strings throughout.
package cryptoiface

import "context"

// Cryptor performs symmetric encryption of message bodies once a private
// session's shared key has been established.
type Cryptor interface {
	Encrypt(ctx context.Context, key, plaintext []byte) (ciphertext []byte, err error)
	Decrypt(ctx context.Context, key, ciphertext []byte) (plaintext []byte, err error)
}

// AsymmetricCryptor performs the key-agreement half of a private session:
// generating a keypair and deriving a shared secret from a peer's public
// key, as exchanged via /private_pubkey.
type AsymmetricCryptor interface {
	GenerateKeyPair(ctx context.Context) (public, private []byte, err error)
	DeriveSharedKey(ctx context.Context, private, peerPublic []byte) (shared []byte, err error)
}
