// Package store holds the persistence abstractions the registry and
// handshake coordinator depend on: accounts (login/email/password hash)
// and the public-key material exchanged during a private session. Both
// ship with in-memory adapters; a real deployment swaps in a
// database-backed one without touching the core.
package store

import (
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/fenwicklabs/chatline/model"
)

// AccountStore persists accounts. Password hashing for Create is the
// caller's responsibility (see registry.Registry.Register), so the store
// only ever stores opaque hashes; VerifyPassword receives the plaintext
// password and checks it against the stored hash. Implementations must be
// safe for concurrent use.
type AccountStore interface {
	// ByLogin looks up an account by login; ok is false if none exists.
	ByLogin(login string) (model.Account, bool, error)

	// ByEmail looks up an account by email; ok is false if none exists.
	ByEmail(email string) (model.Account, bool, error)

	// Create registers a new account with an already-hashed password,
	// returning an error if login or email is already taken.
	Create(login, email, passwordHash string) (model.Account, error)

	// VerifyPassword reports whether password matches accountID's stored
	// hash.
	VerifyPassword(accountID int64, password string) (bool, error)
}

// HashPassword hashes a plaintext password for AccountStore.Create.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ErrAccountExists is returned by Create when login or email is taken.
type ErrAccountExists struct{}

func (ErrAccountExists) Error() string { return "account already exists" }

// MemoryAccountStore is an in-memory AccountStore, intended for tests and
// small deployments.
type MemoryAccountStore struct {
	mu      sync.RWMutex
	byID    map[int64]*model.Account
	byLogin map[string]*model.Account
	byEmail map[string]*model.Account
	nextID  int64
}

// NewMemoryAccountStore returns an empty MemoryAccountStore.
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		byID:    make(map[int64]*model.Account),
		byLogin: make(map[string]*model.Account),
		byEmail: make(map[string]*model.Account),
		nextID:  model.FirstAccountID,
	}
}

func (s *MemoryAccountStore) ByLogin(login string) (model.Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.byLogin[login]
	if !ok {
		return model.Account{}, false, nil
	}
	return *acc, true, nil
}

func (s *MemoryAccountStore) ByEmail(email string) (model.Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.byEmail[email]
	if !ok {
		return model.Account{}, false, nil
	}
	return *acc, true, nil
}

func (s *MemoryAccountStore) Create(login, email, passwordHash string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byLogin[login]; ok {
		return model.Account{}, ErrAccountExists{}
	}
	if _, ok := s.byEmail[email]; ok {
		return model.Account{}, ErrAccountExists{}
	}

	acc := &model.Account{
		ID:           s.nextID,
		Login:        login,
		Email:        email,
		PasswordHash: passwordHash,
	}
	s.nextID++
	s.byID[acc.ID] = acc
	s.byLogin[login] = acc
	s.byEmail[email] = acc
	return *acc, nil
}

func (s *MemoryAccountStore) VerifyPassword(accountID int64, password string) (bool, error) {
	s.mu.RLock()
	acc, ok := s.byID[accountID]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password))
	if err != nil {
		if err == bcrypt.ErrMismatchedHashAndPassword {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
