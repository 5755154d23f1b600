package cryptoifacetest

import (
	"bytes"
	"context"
	"testing"
)

func TestXORCryptorRoundTrips(t *testing.T) {
	c := XORCryptor{}
	ctx := context.Background()
	key := []byte("sharedkey")
	plaintext := []byte("hello private channel")

	ct, err := c.Encrypt(ctx, key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if bytes.Equal(ct, plaintext) {
		t.Fatal("ciphertext must differ from plaintext")
	}

	pt, err := c.Decrypt(ctx, key, ct)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("Decrypt() = %q, want %q", pt, plaintext)
	}
}

func TestFixedAsymmetricAgreesOnSharedKey(t *testing.T) {
	a := &FixedAsymmetric{}
	b := &FixedAsymmetric{}
	ctx := context.Background()

	pubA, privA, err := a.GenerateKeyPair(ctx)
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}
	pubB, privB, err := b.GenerateKeyPair(ctx)
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}

	sharedA, err := a.DeriveSharedKey(ctx, privA, pubB)
	if err != nil {
		t.Fatalf("DeriveSharedKey() error: %v", err)
	}
	sharedB, err := b.DeriveSharedKey(ctx, privB, pubA)
	if err != nil {
		t.Fatalf("DeriveSharedKey() error: %v", err)
	}
	if !bytes.Equal(sharedA, sharedB) {
		t.Fatalf("shared keys differ: %x vs %x", sharedA, sharedB)
	}
}
