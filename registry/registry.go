// Package registry is the session and presence registry: it maps a
// connected socket (identified by a connection id handed out by the
// connection loop) to a live, authenticated Peer, enforces the
// unique-id/unique-login/unique-email invariant, issues and checks session
// tokens, and owns the channel subscriber index the router reads.
//
// Per-channel subscriber-set mutation happens inside the same write-lock
// critical section as the Peer mutation that causes it (login, logout,
// switch-channel), and the recipient set for the resulting announcement is
// snapshotted there too. The hooks below are invoked after the lock is
// released, with that snapshot; they must never block on I/O.
package registry

import (
	"net/mail"
	"sync"

	"github.com/fenwicklabs/chatline/chaterrors"
	"github.com/fenwicklabs/chatline/model"
	"github.com/fenwicklabs/chatline/observability"
	"github.com/fenwicklabs/chatline/sessiontoken"
	"github.com/fenwicklabs/chatline/store"
)

// JoinFunc is invoked when a peer becomes visible on a channel (login,
// register, or the "entered" half of a switch). recipients is the snapshot
// of other live peer ids already on that channel.
type JoinFunc func(peer model.Peer, recipients []int64)

// LeaveReason distinguishes why LeaveFunc fired, so a router can announce a
// logout and a channel switch with different system-frame shapes.
type LeaveReason int

const (
	// LeaveLogout means the peer signed out (explicitly or via socket
	// reset) and is no longer live anywhere.
	LeaveLogout LeaveReason = iota
	// LeaveSwitchChannel means the peer is still live, just no longer
	// visible on the channel it is leaving.
	LeaveSwitchChannel
)

// LeaveFunc is invoked when a peer stops being visible on a channel
// (logout, or the "left" half of a switch).
type LeaveFunc func(peer model.Peer, channel int32, reason LeaveReason, recipients []int64)

// Hooks are the router callbacks a Registry drives its channel-visibility
// events through, all called after the registry's write lock is released,
// with recipients snapshotted while it was held.
type Hooks struct {
	OnJoin  JoinFunc
	OnLeave LeaveFunc
}

// Registry is the session/presence registry. Zero value is not usable;
// construct with New.
type Registry struct {
	mu sync.RWMutex

	accounts store.AccountStore
	obs      observability.Observer
	hooks    Hooks

	peers      map[int64]*model.Peer
	loginIndex map[string]int64 // login -> id, live peers only
	connIndex  map[int64]int64  // connID -> id, live peers only
	byChannel  map[int32]map[int64]struct{}
}

// New constructs an empty Registry over accounts.
func New(accounts store.AccountStore, obs observability.Observer) *Registry {
	if obs == nil {
		obs = observability.Noop
	}
	return &Registry{
		accounts:   accounts,
		obs:        obs,
		peers:      make(map[int64]*model.Peer),
		loginIndex: make(map[string]int64),
		connIndex:  make(map[int64]int64),
		byChannel:  make(map[int32]map[int64]struct{}),
	}
}

// SetHooks installs the router's channel-visibility callbacks. Must be
// called once, before the registry serves any traffic.
func (r *Registry) SetHooks(h Hooks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = h
}

// Register creates a new Account and immediately promotes it to a live
// Peer bound to connID, on the default channel.
func (r *Registry) Register(login, email, password string, connID int64) (model.Peer, error) {
	if login == "" || email == "" || password == "" {
		return model.Peer{}, chaterrors.Wrap(chaterrors.PathRegistry, chaterrors.StageValidate, chaterrors.CodeInvalidForm, nil)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return model.Peer{}, chaterrors.Wrap(chaterrors.PathRegistry, chaterrors.StageValidate, chaterrors.CodeInvalidForm, err)
	}

	hash, err := store.HashPassword(password)
	if err != nil {
		return model.Peer{}, chaterrors.Wrap(chaterrors.PathRegistry, chaterrors.StageMutate, chaterrors.CodeStoreError, err)
	}

	acc, err := r.accounts.Create(login, email, hash)
	if err != nil {
		r.obs.Auth("register", observability.AuthResultFail, observability.AuthReasonAlreadyRegistered)
		return model.Peer{}, chaterrors.Wrap(chaterrors.PathRegistry, chaterrors.StageMutate, chaterrors.CodeAlreadyRegistered, err)
	}

	peer, err := r.promote(acc, connID)
	if err != nil {
		return model.Peer{}, err
	}
	r.obs.Auth("register", observability.AuthResultOK, observability.AuthReasonOK)
	return peer, nil
}

// Login authenticates login/password (login may name either the account's
// login or its email) and promotes the account to a live Peer bound to
// connID.
func (r *Registry) Login(login, password string, connID int64) (model.Peer, error) {
	if login == "" || password == "" {
		return model.Peer{}, chaterrors.Wrap(chaterrors.PathRegistry, chaterrors.StageValidate, chaterrors.CodeInvalidForm, nil)
	}

	acc, ok, err := r.accounts.ByLogin(login)
	if err != nil {
		return model.Peer{}, chaterrors.Wrap(chaterrors.PathRegistry, chaterrors.StageAuth, chaterrors.CodeStoreError, err)
	}
	if !ok {
		acc, ok, err = r.accounts.ByEmail(login)
		if err != nil {
			return model.Peer{}, chaterrors.Wrap(chaterrors.PathRegistry, chaterrors.StageAuth, chaterrors.CodeStoreError, err)
		}
	}
	if !ok {
		r.obs.Auth("login", observability.AuthResultFail, observability.AuthReasonNotRegistered)
		return model.Peer{}, chaterrors.Wrap(chaterrors.PathRegistry, chaterrors.StageAuth, chaterrors.CodeNotRegistered, nil)
	}

	valid, err := r.accounts.VerifyPassword(acc.ID, password)
	if err != nil {
		return model.Peer{}, chaterrors.Wrap(chaterrors.PathRegistry, chaterrors.StageAuth, chaterrors.CodeStoreError, err)
	}
	if !valid {
		r.obs.Auth("login", observability.AuthResultFail, observability.AuthReasonWrongPassword)
		return model.Peer{}, chaterrors.Wrap(chaterrors.PathRegistry, chaterrors.StageAuth, chaterrors.CodeWrongPassword, nil)
	}

	peer, err := r.promote(acc, connID)
	if err != nil {
		return model.Peer{}, err
	}
	r.obs.Auth("login", observability.AuthResultOK, observability.AuthReasonOK)
	return peer, nil
}

// promote takes the write lock and installs a live Peer for acc, rejecting
// with AlreadyLoggedIn if one already exists.
func (r *Registry) promote(acc model.Account, connID int64) (model.Peer, error) {
	r.mu.Lock()

	if _, live := r.peers[acc.ID]; live {
		r.mu.Unlock()
		r.obs.Auth("login", observability.AuthResultFail, observability.AuthReasonAlreadyLoggedIn)
		return model.Peer{}, chaterrors.Wrap(chaterrors.PathRegistry, chaterrors.StageMutate, chaterrors.CodeAlreadyLoggedIn, nil)
	}
	if _, live := r.loginIndex[acc.Login]; live {
		r.mu.Unlock()
		r.obs.Auth("login", observability.AuthResultFail, observability.AuthReasonAlreadyLoggedIn)
		return model.Peer{}, chaterrors.Wrap(chaterrors.PathRegistry, chaterrors.StageMutate, chaterrors.CodeAlreadyLoggedIn, nil)
	}

	token, err := sessiontoken.New()
	if err != nil {
		r.mu.Unlock()
		return model.Peer{}, chaterrors.Wrap(chaterrors.PathRegistry, chaterrors.StageMutate, chaterrors.CodeStoreError, err)
	}

	peer := &model.Peer{
		ID:      acc.ID,
		Login:   acc.Login,
		Email:   acc.Email,
		Channel: model.ChannelDefault,
		Token:   token,
		ConnID:  connID,
	}
	r.peers[peer.ID] = peer
	r.loginIndex[peer.Login] = peer.ID
	r.connIndex[connID] = peer.ID
	r.addToChannel(peer.ID, peer.Channel)

	recipients := r.otherLiveIDsOnChannel(peer.Channel, peer.ID)
	r.obs.PeerCount(len(r.peers))
	snapshot := *peer
	r.mu.Unlock()

	if r.hooks.OnJoin != nil {
		r.hooks.OnJoin(snapshot, recipients)
	}
	return snapshot, nil
}

// Logout removes id's live Peer, if any, and announces departure.
func (r *Registry) Logout(id int64) error {
	r.mu.Lock()
	peer, ok := r.peers[id]
	if !ok {
		r.mu.Unlock()
		return chaterrors.Wrap(chaterrors.PathRegistry, chaterrors.StageAuth, chaterrors.CodeUnauthorized, nil)
	}
	snapshot, recipients := r.removeLocked(peer)
	r.mu.Unlock()

	r.obs.Disconnect(observability.DisconnectReasonExplicit)
	if r.hooks.OnLeave != nil {
		r.hooks.OnLeave(snapshot, snapshot.Channel, LeaveLogout, recipients)
	}
	return nil
}

// LogoutOnSocketReset is the idempotent cleanup path invoked by the
// connection loop when it observes EOF or a read error on connID. It is a
// no-op if no Peer currently owns that connection.
func (r *Registry) LogoutOnSocketReset(connID int64) (model.Peer, bool) {
	r.mu.Lock()
	id, ok := r.connIndex[connID]
	if !ok {
		r.mu.Unlock()
		return model.Peer{}, false
	}
	peer, ok := r.peers[id]
	if !ok {
		r.mu.Unlock()
		return model.Peer{}, false
	}
	snapshot, recipients := r.removeLocked(peer)
	r.mu.Unlock()

	r.obs.Disconnect(observability.DisconnectReasonSocketEOF)
	if r.hooks.OnLeave != nil {
		r.hooks.OnLeave(snapshot, snapshot.Channel, LeaveLogout, recipients)
	}
	return snapshot, true
}

// removeLocked deletes peer from every index and returns a value snapshot
// plus the ids of peers that should see its departure. Caller must hold
// the write lock.
func (r *Registry) removeLocked(peer *model.Peer) (model.Peer, []int64) {
	recipients := r.otherLiveIDsOnChannel(peer.Channel, peer.ID)
	r.removeFromChannel(peer.ID, peer.Channel)
	delete(r.peers, peer.ID)
	delete(r.loginIndex, peer.Login)
	delete(r.connIndex, peer.ConnID)
	r.obs.PeerCount(len(r.peers))
	return *peer, recipients
}

// Authorize reports whether id is live and token matches its session
// token.
func (r *Registry) Authorize(id int64, token string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.peers[id]
	if !ok {
		return false
	}
	return peer.Token == token
}

// Peer returns a snapshot of id's live Peer.
func (r *Registry) Peer(id int64) (model.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.peers[id]
	if !ok {
		return model.Peer{}, false
	}
	return *peer, true
}

// PeerByLogin returns a snapshot of the live Peer for login.
func (r *Registry) PeerByLogin(login string) (model.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.loginIndex[login]
	if !ok {
		return model.Peer{}, false
	}
	return *r.peers[id], true
}

// PeerByConnID returns a snapshot of the live Peer currently bound to
// connID, letting the dispatcher confirm that a request's claimed id
// actually belongs to the connection it arrived on.
func (r *Registry) PeerByConnID(connID int64) (model.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.connIndex[connID]
	if !ok {
		return model.Peer{}, false
	}
	return *r.peers[id], true
}

// IsRegistered reports whether login names a known account.
func (r *Registry) IsRegistered(login string) (bool, error) {
	_, ok, err := r.accounts.ByLogin(login)
	return ok, err
}

// LookupAccountID returns the account id for login, regardless of whether
// that account is currently live.
func (r *Registry) LookupAccountID(login string) (int64, bool, error) {
	acc, ok, err := r.accounts.ByLogin(login)
	if err != nil || !ok {
		return 0, ok, err
	}
	return acc.ID, true, nil
}

// SwitchChannel moves id to newChannel, returning chaterrors.CodeSameChannel
// if newChannel equals the peer's current channel and
// chaterrors.CodeUnauthorized if id is not live.
func (r *Registry) SwitchChannel(id int64, newChannel int32) error {
	r.mu.Lock()
	peer, ok := r.peers[id]
	if !ok {
		r.mu.Unlock()
		return chaterrors.Wrap(chaterrors.PathRegistry, chaterrors.StageAuth, chaterrors.CodeUnauthorized, nil)
	}
	if peer.Channel == newChannel {
		r.mu.Unlock()
		return chaterrors.Wrap(chaterrors.PathRegistry, chaterrors.StageMutate, chaterrors.CodeSameChannel, nil)
	}

	oldChannel := peer.Channel
	leftRecipients := r.otherLiveIDsOnChannel(oldChannel, peer.ID)
	r.removeFromChannel(peer.ID, oldChannel)
	peer.Channel = newChannel
	r.addToChannel(peer.ID, newChannel)
	enteredRecipients := r.otherLiveIDsOnChannel(newChannel, peer.ID)
	snapshot := *peer
	r.mu.Unlock()

	if r.hooks.OnLeave != nil {
		r.hooks.OnLeave(snapshot, oldChannel, LeaveSwitchChannel, leftRecipients)
	}
	if r.hooks.OnJoin != nil {
		r.hooks.OnJoin(snapshot, enteredRecipients)
	}
	return nil
}

// ListPeers returns a snapshot of every live peer, optionally filtered to
// one channel.
func (r *Registry) ListPeers(channel *int32) []model.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if channel == nil {
		out := make([]model.Peer, 0, len(r.peers))
		for _, p := range r.peers {
			out = append(out, *p)
		}
		return out
	}

	ids := r.byChannel[*channel]
	out := make([]model.Peer, 0, len(ids))
	for id := range ids {
		out = append(out, *r.peers[id])
	}
	return out
}

// RecipientsForMessage resolves the delivery set for a chat message: a
// single peer if destID names a live peer (direct message, delivered
// regardless of channel), or every other live peer on channel.
func (r *Registry) RecipientsForMessage(senderID int64, channel int32, destID int64) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if destID != model.IDUnknown {
		if _, ok := r.peers[destID]; ok {
			return []int64{destID}
		}
		return nil
	}
	return r.otherLiveIDsOnChannelLocked(channel, senderID)
}

func (r *Registry) otherLiveIDsOnChannel(channel int32, excludeID int64) []int64 {
	return r.otherLiveIDsOnChannelLocked(channel, excludeID)
}

// otherLiveIDsOnChannelLocked requires the caller to already hold mu (read
// or write).
func (r *Registry) otherLiveIDsOnChannelLocked(channel int32, excludeID int64) []int64 {
	ids := r.byChannel[channel]
	out := make([]int64, 0, len(ids))
	for id := range ids {
		if id != excludeID {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) addToChannel(id int64, channel int32) {
	set, ok := r.byChannel[channel]
	if !ok {
		set = make(map[int64]struct{})
		r.byChannel[channel] = set
	}
	set[id] = struct{}{}
}

func (r *Registry) removeFromChannel(id int64, channel int32) {
	set, ok := r.byChannel[channel]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.byChannel, channel)
	}
}
