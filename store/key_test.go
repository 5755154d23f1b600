package store

import (
	"bytes"
	"testing"
)

func TestKeyStorePutGetDelete(t *testing.T) {
	s := NewMemoryKeyStore()

	if _, ok, _ := s.Get(1000); ok {
		t.Fatal("expected no key before Put")
	}

	key := []byte("pubkey-bytes")
	if err := s.Put(1000, key); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, ok, err := s.Get(1000)
	if err != nil || !ok {
		t.Fatalf("Get() = (%v, %v, %v)", got, ok, err)
	}
	if !bytes.Equal(got, key) {
		t.Fatalf("Get() = %q, want %q", got, key)
	}

	if err := s.Delete(1000); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, ok, _ := s.Get(1000); ok {
		t.Fatal("expected no key after Delete")
	}
}

func TestKeyStorePutOverwritesAndCopiesInput(t *testing.T) {
	s := NewMemoryKeyStore()
	key := []byte("mutable")
	if err := s.Put(1000, key); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	key[0] = 'X'
	got, _, _ := s.Get(1000)
	if got[0] == 'X' {
		t.Fatal("Put() must copy the key, not alias the caller's slice")
	}

	if err := s.Put(1000, []byte("newkey")); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	got, _, _ = s.Get(1000)
	if string(got) != "newkey" {
		t.Fatalf("Get() = %q, want newkey", got)
	}
}
