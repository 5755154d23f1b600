// Package handshake runs the two-party private-session (E2EE) state
// machine: request -> confirm/reject -> key exchange -> active session ->
// abort. It coordinates who may send opaque key and message bytes to
// whom; it never reads the bytes themselves, and it stores no key
// material of its own (public keys are published through store.KeyStore).
// Its mutex is distinct from, and never held concurrently with, the
// registry/router lock.
package handshake

import (
	"sync"

	"github.com/fenwicklabs/chatline/chaterrors"
	"github.com/fenwicklabs/chatline/model"
	"github.com/fenwicklabs/chatline/observability"
	"github.com/fenwicklabs/chatline/store"
)

type pairKey struct{ lo, hi int64 }

func keyFor(a, b int64) pairKey {
	if a <= b {
		return pairKey{a, b}
	}
	return pairKey{b, a}
}

// Coordinator tracks one HandshakeSlot per unordered peer pair.
type Coordinator struct {
	mu    sync.Mutex
	slots map[pairKey]*model.HandshakeSlot
	keys  store.KeyStore
	obs   observability.Observer
}

// New constructs an empty Coordinator. keys is where PutKey publishes
// public key material; it is optional (nil disables persistence and
// PutKey only tracks the ready/not-ready bookkeeping).
func New(keys store.KeyStore, obs observability.Observer) *Coordinator {
	if obs == nil {
		obs = observability.Noop
	}
	return &Coordinator{
		slots: make(map[pairKey]*model.HandshakeSlot),
		keys:  keys,
		obs:   obs,
	}
}

// Request starts a private session from src to dest. A duplicate request
// while already PENDING_CONFIRM is a no-op; a request for a pair already
// PENDING_KEYS or ACTIVE is rejected.
func (c *Coordinator) Request(src, dest int64) error {
	if src == dest {
		return chaterrors.Wrap(chaterrors.PathHandshake, chaterrors.StageValidate, chaterrors.CodeInvalidQuery, nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := keyFor(src, dest)
	slot, ok := c.slots[key]
	if ok {
		switch slot.State {
		case model.StatePendingConfirm:
			return nil // duplicate request while pending: no-op.
		case model.StateIdle, model.StateAborted:
			// fall through to (re)create below.
		default:
			c.obs.HandshakeTransition(observability.HandshakeResultRejected)
			return chaterrors.Wrap(chaterrors.PathHandshake, chaterrors.StageValidate, chaterrors.CodeUnauthorized, nil)
		}
	}

	c.slots[key] = &model.HandshakeSlot{SrcID: src, DestID: dest, State: model.StatePendingConfirm}
	c.obs.HandshakeTransition(observability.HandshakeResultOK)
	return nil
}

// Confirm resolves a pending request. accept=false aborts the pair back to
// IDLE; a pair with no slot, or a slot not in PENDING_CONFIRM, is rejected
// with Unauthorized and its slot is left unchanged.
func (c *Coordinator) Confirm(a, b int64, accept bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := keyFor(a, b)
	slot, ok := c.slots[key]
	if !ok || slot.State != model.StatePendingConfirm {
		c.obs.HandshakeTransition(observability.HandshakeResultRejected)
		return chaterrors.Wrap(chaterrors.PathHandshake, chaterrors.StageValidate, chaterrors.CodeUnauthorized, nil)
	}

	if !accept {
		delete(c.slots, key)
		c.obs.HandshakeTransition(observability.HandshakeResultAborted)
		return nil
	}

	slot.State = model.StatePendingKeys
	c.obs.HandshakeTransition(observability.HandshakeResultOK)
	return nil
}

// Abort tears down the slot for (a, b) from any state, including IDLE
// (where it is a harmless no-op). This mirrors the reference server's
// menu-driven private-session reset, which accepts an abort at any point.
func (c *Coordinator) Abort(a, b int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.slots, keyFor(a, b))
	c.obs.HandshakeTransition(observability.HandshakeResultAborted)
}

// PutKey records that ownerID has published its public key for its
// session with peerID. ready becomes true once both sides of the pair
// have published, at which point the slot flips to ACTIVE.
func (c *Coordinator) PutKey(ownerID, peerID int64, key []byte) (ready bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pk := keyFor(ownerID, peerID)
	slot, ok := c.slots[pk]
	if !ok || (slot.State != model.StatePendingKeys && slot.State != model.StateActive) {
		c.obs.HandshakeTransition(observability.HandshakeResultUnauthorized)
		return false, chaterrors.Wrap(chaterrors.PathHandshake, chaterrors.StageAuth, chaterrors.CodeUnauthorized, nil)
	}

	if c.keys != nil {
		if err := c.keys.Put(ownerID, key); err != nil {
			return false, chaterrors.Wrap(chaterrors.PathHandshake, chaterrors.StageMutate, chaterrors.CodeStoreError, err)
		}
	}

	if ownerID == slot.SrcID {
		slot.HasKeyA = true
	} else {
		slot.HasKeyB = true
	}

	if slot.HasKeyA && slot.HasKeyB {
		slot.State = model.StateActive
		c.obs.HandshakeTransition(observability.HandshakeResultOK)
		return true, nil
	}
	return false, nil
}

// Authorize reports whether (a, b) has an ACTIVE or PENDING_KEYS slot,
// the two states in which key and message frames may be forwarded.
func (c *Coordinator) Authorize(a, b int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.slots[keyFor(a, b)]
	if !ok {
		return false
	}
	return slot.State == model.StateActive || slot.State == model.StatePendingKeys
}

// State returns the current state of the (a, b) pair, or StateIdle if no
// slot exists.
func (c *Coordinator) State(a, b int64) model.HandshakeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.slots[keyFor(a, b)]
	if !ok {
		return model.StateIdle
	}
	return slot.State
}

// LogoutTeardown removes every slot naming peerID, as required when that
// peer logs out (spec: "destroyed on abort or either peer's logout").
func (c *Coordinator) LogoutTeardown(peerID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, slot := range c.slots {
		if slot.SrcID == peerID || slot.DestID == peerID {
			delete(c.slots, key)
		}
	}
}
