package router

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fenwicklabs/chatline/framing/reqframe"
	"github.com/fenwicklabs/chatline/model"
	"github.com/fenwicklabs/chatline/observability"
	"github.com/fenwicklabs/chatline/registry"
)

// Registry is the subset of registry.Registry the router needs to resolve
// delivery sets. A narrow interface so router tests can fake it.
type Registry interface {
	RecipientsForMessage(senderID int64, channel int32, destID int64) []int64
	ListPeers(channel *int32) []model.Peer
}

// Router owns one Outbox per connected peer and fans messages, system
// announcements, and direct responses out to them. It never mutates
// registry state itself; registry.Registry drives Router.Joined/Left via
// the Hooks callback after releasing its own write lock, passing the
// recipient set it snapshotted under that lock, so an announcement reaches
// exactly the peers that were on the channel when the index was mutated.
type Router struct {
	reg Registry
	obs observability.Observer

	mu       sync.Mutex
	outboxes map[int64]*Outbox
}

// New constructs a Router over reg. Call Hooks to obtain the
// registry.Hooks to install on the backing registry.Registry.
func New(reg Registry, obs observability.Observer) *Router {
	if obs == nil {
		obs = observability.Noop
	}
	return &Router{
		reg:      reg,
		obs:      obs,
		outboxes: make(map[int64]*Outbox),
	}
}

// Hooks returns the registry.Hooks wiring this router's system-frame
// announcements to registry channel-visibility events.
func (r *Router) Hooks() registry.Hooks {
	return registry.Hooks{
		OnJoin:  r.Joined,
		OnLeave: r.Left,
	}
}

// Attach creates and registers the Outbox for a newly live peer. The
// connection's sender goroutine drains the returned Outbox.
func (r *Router) Attach(peerID int64) *Outbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	ob := NewOutbox(0)
	r.outboxes[peerID] = ob
	r.obs.ConnCount(int64(len(r.outboxes)))
	return ob
}

// Detach closes and removes peerID's Outbox.
func (r *Router) Detach(peerID int64) {
	r.mu.Lock()
	ob, ok := r.outboxes[peerID]
	delete(r.outboxes, peerID)
	count := len(r.outboxes)
	r.mu.Unlock()
	if ok {
		ob.Close()
	}
	r.obs.ConnCount(int64(count))
}

// Outbox returns peerID's Outbox, if attached.
func (r *Router) Outbox(peerID int64) (*Outbox, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ob, ok := r.outboxes[peerID]
	return ob, ok
}

// Deliver enqueues frame on a single peer's Outbox; Broadcast and the
// system-frame announcements use it. It returns false if peerID has no
// attached Outbox or the Outbox is full. An overflow is counted through
// QueueOverflow and the frame is dropped; the connection is not torn down.
func (r *Router) Deliver(peerID int64, frame []byte) bool {
	ob, ok := r.Outbox(peerID)
	if !ok {
		return false
	}
	if !ob.Enqueue(frame) {
		r.obs.QueueOverflow()
		return false
	}
	return true
}

// Broadcast resolves the delivery set for a chat message (see
// registry.RecipientsForMessage) and enqueues frame on each recipient's
// Outbox, best-effort: one overflowed subscriber does not stop delivery
// to the rest.
func (r *Router) Broadcast(senderID int64, channel int32, destID int64, frame []byte) int {
	recipients := r.reg.RecipientsForMessage(senderID, channel, destID)
	delivered := 0
	for _, id := range recipients {
		if r.Deliver(id, frame) {
			delivered++
		}
	}
	r.obs.Broadcast(delivered)
	return delivered
}

// ListPeers delegates to the registry.
func (r *Router) ListPeers(channel *int32) []model.Peer {
	return r.reg.ListPeers(channel)
}

// systemFrame is the wire shape of a join/leave/move announcement.
type systemFrame struct {
	System  string       `json:"system"`
	Action  model.Action `json:"action"`
	ID      int64        `json:"id"`
	Payload string       `json:"payload"`
}

// Joined announces peer's arrival on its current channel to recipients.
// Invoked by registry.Registry after its write lock is released; it must
// not block on anything but an Outbox's own mutex.
func (r *Router) Joined(peer model.Peer, recipients []int64) {
	payload := fmt.Sprintf("login=%s&email=%s&channel_move=%d", peer.Login, peer.Email, model.ChannelMoveEnter)
	r.announce(fmt.Sprintf("%s has entered", peer.Login), model.ActionSwitchChannel, peer.ID, payload, recipients)
}

// Left announces peer's departure from channel to recipients. A logout
// announces as ActionLogout with no channel_move payload; a channel switch
// announces as ActionSwitchChannel, matching original_source's distinct
// LOGOUT and SWITCH_CHANNEL system frames.
func (r *Router) Left(peer model.Peer, channel int32, reason registry.LeaveReason, recipients []int64) {
	if reason == registry.LeaveLogout {
		payload := fmt.Sprintf("login=%s&email=%s", peer.Login, peer.Email)
		r.announce(fmt.Sprintf("%s has logged out", peer.Login), model.ActionLogout, peer.ID, payload, recipients)
		return
	}
	payload := fmt.Sprintf("login=%s&email=%s&channel_move=%d", peer.Login, peer.Email, model.ChannelMoveExit)
	r.announce(fmt.Sprintf("%s has left", peer.Login), model.ActionSwitchChannel, peer.ID, payload, recipients)
}

func (r *Router) announce(system string, action model.Action, id int64, payload string, recipients []int64) {
	if len(recipients) == 0 {
		return
	}
	body, err := json.Marshal(systemFrame{System: system, Action: action, ID: id, Payload: payload})
	if err != nil {
		return
	}
	frame := reqframe.EncodeResponse(200, "OK", body)
	for _, rid := range recipients {
		r.Deliver(rid, frame)
	}
}
