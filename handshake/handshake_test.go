package handshake

import (
	"testing"

	"github.com/fenwicklabs/chatline/chaterrors"
	"github.com/fenwicklabs/chatline/model"
	"github.com/fenwicklabs/chatline/store"
)

func TestFullHandshakeReachesActive(t *testing.T) {
	c := New(store.NewMemoryKeyStore(), nil)

	if err := c.Request(1000, 1001); err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	if got := c.State(1000, 1001); got != model.StatePendingConfirm {
		t.Fatalf("State() = %v, want PENDING_CONFIRM", got)
	}

	if err := c.Confirm(1001, 1000, true); err != nil {
		t.Fatalf("Confirm() error: %v", err)
	}
	if got := c.State(1000, 1001); got != model.StatePendingKeys {
		t.Fatalf("State() = %v, want PENDING_KEYS", got)
	}

	ready, err := c.PutKey(1000, 1001, []byte("pubA"))
	if err != nil {
		t.Fatalf("PutKey() error: %v", err)
	}
	if ready {
		t.Fatal("expected ready=false after only one side's key")
	}

	ready, err = c.PutKey(1001, 1000, []byte("pubB"))
	if err != nil {
		t.Fatalf("PutKey() error: %v", err)
	}
	if !ready {
		t.Fatal("expected ready=true once both sides have published")
	}
	if got := c.State(1000, 1001); got != model.StateActive {
		t.Fatalf("State() = %v, want ACTIVE", got)
	}
	if !c.Authorize(1000, 1001) || !c.Authorize(1001, 1000) {
		t.Fatal("expected Authorize() true for an active pair in either order")
	}
}

func TestConfirmRejectReturnsToIdle(t *testing.T) {
	c := New(store.NewMemoryKeyStore(), nil)
	if err := c.Request(1000, 1001); err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	if err := c.Confirm(1001, 1000, false); err != nil {
		t.Fatalf("Confirm() error: %v", err)
	}
	if got := c.State(1000, 1001); got != model.StateIdle {
		t.Fatalf("State() = %v, want IDLE after reject", got)
	}
}

func TestDuplicateRequestWhilePendingConfirmIsNoOp(t *testing.T) {
	c := New(store.NewMemoryKeyStore(), nil)
	if err := c.Request(1000, 1001); err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	if err := c.Request(1000, 1001); err != nil {
		t.Fatalf("duplicate Request() error: %v", err)
	}
	if got := c.State(1000, 1001); got != model.StatePendingConfirm {
		t.Fatalf("State() = %v, want still PENDING_CONFIRM", got)
	}
}

func TestAbortFromAnyStateIncludingIdleIsNoOp(t *testing.T) {
	c := New(store.NewMemoryKeyStore(), nil)
	c.Abort(1000, 1001) // no slot exists at all: no-op, must not panic.
	if got := c.State(1000, 1001); got != model.StateIdle {
		t.Fatalf("State() = %v, want IDLE", got)
	}

	if err := c.Request(1000, 1001); err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	c.Abort(1001, 1000) // order-independent, unordered pair key.
	if got := c.State(1000, 1001); got != model.StateIdle {
		t.Fatalf("State() = %v, want IDLE after abort", got)
	}
}

func TestPutKeyRejectedWithoutAnActiveOrPendingKeysSlot(t *testing.T) {
	c := New(store.NewMemoryKeyStore(), nil)
	_, err := c.PutKey(1000, 1001, []byte("pub"))
	if code, ok := chaterrors.CodeOf(err); !ok || code != chaterrors.CodeUnauthorized {
		t.Fatalf("CodeOf() = (%v, %v), want CodeUnauthorized", code, ok)
	}
}

func TestLogoutTeardownRemovesSlotsNamingThatPeer(t *testing.T) {
	c := New(store.NewMemoryKeyStore(), nil)
	if err := c.Request(1000, 1001); err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	if err := c.Request(1000, 1002); err != nil {
		t.Fatalf("Request() error: %v", err)
	}

	c.LogoutTeardown(1001)

	if got := c.State(1000, 1001); got != model.StateIdle {
		t.Fatalf("State(1000,1001) = %v, want IDLE after 1001 logs out", got)
	}
	if got := c.State(1000, 1002); got != model.StatePendingConfirm {
		t.Fatalf("State(1000,1002) = %v, want unaffected PENDING_CONFIRM", got)
	}
}
