package registry

import (
	"testing"

	"github.com/fenwicklabs/chatline/chaterrors"
	"github.com/fenwicklabs/chatline/model"
	"github.com/fenwicklabs/chatline/store"
)

func newTestRegistry() *Registry {
	return New(store.NewMemoryAccountStore(), nil)
}

func TestRegisterThenDuplicateLoginRejected(t *testing.T) {
	r := newTestRegistry()

	peer, err := r.Register("maxim", "m@x.ru", "x", 1)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if peer.ID != model.FirstAccountID {
		t.Fatalf("peer.ID = %d, want %d", peer.ID, model.FirstAccountID)
	}
	if peer.Token == "" {
		t.Fatal("expected non-empty token")
	}

	_, err = r.Register("maxim", "other@x.ru", "x", 2)
	if code, ok := chaterrors.CodeOf(err); !ok || code != chaterrors.CodeAlreadyRegistered {
		t.Fatalf("CodeOf() = (%v, %v), want CodeAlreadyRegistered", code, ok)
	}
}

func TestRegisterRejectsMalformedEmail(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Register("maxim", "not-an-email", "x", 1)
	if code, ok := chaterrors.CodeOf(err); !ok || code != chaterrors.CodeInvalidForm {
		t.Fatalf("CodeOf() = (%v, %v), want CodeInvalidForm", code, ok)
	}
}

func TestLoginBeforeRegisterReturnsNotRegistered(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Login("maxim", "x", 1)
	if code, ok := chaterrors.CodeOf(err); !ok || code != chaterrors.CodeNotRegistered {
		t.Fatalf("CodeOf() = (%v, %v), want CodeNotRegistered", code, ok)
	}
}

func TestLoginAcceptsEmailAsLoginField(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Register("maxim", "m@x.ru", "secret", 1); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := r.Logout(model.FirstAccountID); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}

	peer, err := r.Login("m@x.ru", "secret", 2)
	if err != nil {
		t.Fatalf("Login() by email error: %v", err)
	}
	if peer.Login != "maxim" {
		t.Fatalf("peer.Login = %q, want maxim", peer.Login)
	}
}

func TestDuplicateLoginWhileLiveRejectedWithoutDisturbingSession(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Register("maxim", "m@x.ru", "secret", 1); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	_, err := r.Login("maxim", "secret", 2)
	if code, ok := chaterrors.CodeOf(err); !ok || code != chaterrors.CodeAlreadyLoggedIn {
		t.Fatalf("CodeOf() = (%v, %v), want CodeAlreadyLoggedIn", code, ok)
	}

	peer, ok := r.Peer(model.FirstAccountID)
	if !ok {
		t.Fatal("expected original session to remain live")
	}
	if peer.ConnID != 1 {
		t.Fatalf("peer.ConnID = %d, want 1 (original session undisturbed)", peer.ConnID)
	}
}

func TestAuthorizeMatchesTokenOnly(t *testing.T) {
	r := newTestRegistry()
	peer, err := r.Register("maxim", "m@x.ru", "secret", 1)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if !r.Authorize(peer.ID, peer.Token) {
		t.Fatal("expected Authorize() true for correct token")
	}
	if r.Authorize(peer.ID, "wrong-token") {
		t.Fatal("expected Authorize() false for wrong token")
	}
	if r.Authorize(999999, peer.Token) {
		t.Fatal("expected Authorize() false for unknown id")
	}
}

func TestLogoutOnSocketResetIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Register("maxim", "m@x.ru", "secret", 7); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	_, ok := r.LogoutOnSocketReset(7)
	if !ok {
		t.Fatal("expected first LogoutOnSocketReset to find the peer")
	}
	_, ok = r.LogoutOnSocketReset(7)
	if ok {
		t.Fatal("expected second LogoutOnSocketReset to be a no-op")
	}

	if _, ok := r.Peer(model.FirstAccountID); ok {
		t.Fatal("expected peer to be gone after socket reset")
	}
}

func TestSwitchChannelSameChannelIsError(t *testing.T) {
	r := newTestRegistry()
	peer, err := r.Register("maxim", "m@x.ru", "secret", 1)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	err = r.SwitchChannel(peer.ID, model.ChannelDefault)
	if code, ok := chaterrors.CodeOf(err); !ok || code != chaterrors.CodeSameChannel {
		t.Fatalf("CodeOf() = (%v, %v), want CodeSameChannel", code, ok)
	}
}

func TestSwitchChannelMovesPeerAndChannelIndex(t *testing.T) {
	r := newTestRegistry()
	peer, err := r.Register("maxim", "m@x.ru", "secret", 1)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	if err := r.SwitchChannel(peer.ID, 7); err != nil {
		t.Fatalf("SwitchChannel() error: %v", err)
	}

	updated, ok := r.Peer(peer.ID)
	if !ok || updated.Channel != 7 {
		t.Fatalf("Peer() after switch = %+v, ok=%v, want channel 7", updated, ok)
	}

	zero := int32(0)
	if peers := r.ListPeers(&zero); len(peers) != 0 {
		t.Fatalf("ListPeers(0) = %v, want empty after switch away", peers)
	}
	seven := int32(7)
	if peers := r.ListPeers(&seven); len(peers) != 1 {
		t.Fatalf("ListPeers(7) = %v, want 1 peer", peers)
	}
}

func TestJoinHookFiresWithExistingChannelPeersAsRecipients(t *testing.T) {
	r := newTestRegistry()
	var joinedRecipients []int64
	r.SetHooks(Hooks{
		OnJoin: func(peer model.Peer, recipients []int64) {
			joinedRecipients = recipients
		},
	})

	if _, err := r.Register("alice", "alice@x.ru", "pw", 1); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if len(joinedRecipients) != 0 {
		t.Fatalf("first join recipients = %v, want empty", joinedRecipients)
	}

	if _, err := r.Register("bob", "bob@x.ru", "pw", 2); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if len(joinedRecipients) != 1 || joinedRecipients[0] != model.FirstAccountID {
		t.Fatalf("second join recipients = %v, want [%d]", joinedRecipients, model.FirstAccountID)
	}
}

func TestRecipientsForMessageDirectVsBroadcast(t *testing.T) {
	r := newTestRegistry()
	a, err := r.Register("alice", "alice@x.ru", "pw", 1)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	b, err := r.Register("bob", "bob@x.ru", "pw", 2)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	broadcast := r.RecipientsForMessage(a.ID, model.ChannelDefault, model.IDUnknown)
	if len(broadcast) != 1 || broadcast[0] != b.ID {
		t.Fatalf("broadcast recipients = %v, want [%d]", broadcast, b.ID)
	}

	direct := r.RecipientsForMessage(a.ID, model.ChannelDefault, b.ID)
	if len(direct) != 1 || direct[0] != b.ID {
		t.Fatalf("direct recipients = %v, want [%d]", direct, b.ID)
	}

	offline := r.RecipientsForMessage(a.ID, model.ChannelDefault, 999999)
	if len(offline) != 0 {
		t.Fatalf("offline dest recipients = %v, want empty", offline)
	}
}
