package api

import (
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fenwicklabs/chatline/chaterrors"
	"github.com/fenwicklabs/chatline/framing/reqframe"
	"github.com/fenwicklabs/chatline/handshake"
	"github.com/fenwicklabs/chatline/model"
	"github.com/fenwicklabs/chatline/observability"
	"github.com/fenwicklabs/chatline/registry"
	"github.com/fenwicklabs/chatline/router"
)

// Dispatcher routes decoded frames to the registry, router, and handshake
// coordinator and builds the response frame. One Dispatcher instance is
// shared by every connection, over every transport.
type Dispatcher struct {
	reg *registry.Registry
	rt  *router.Router
	hs  *handshake.Coordinator
	obs observability.Observer

	shuttingDown atomic.Bool
}

// New constructs a Dispatcher wired to reg, rt, and hs.
func New(reg *registry.Registry, rt *router.Router, hs *handshake.Coordinator, obs observability.Observer) *Dispatcher {
	if obs == nil {
		obs = observability.Noop
	}
	return &Dispatcher{reg: reg, rt: rt, hs: hs, obs: obs}
}

// Shutdown marks the dispatcher as shutting down; subsequent requests are
// answered with the wire's reserved termination status instead of being
// processed. It is invoked by the CLI's signal handler, never over the
// wire itself.
func (d *Dispatcher) Shutdown() {
	d.shuttingDown.Store(true)
}

// HandleSocketReset tears down whatever live Peer is bound to connID
// without having sent a clean /logout, mirroring handleLogout's cleanup.
// The connection loop calls this once per closed socket.
func (d *Dispatcher) HandleSocketReset(connID int64) {
	peer, ok := d.reg.LogoutOnSocketReset(connID)
	if !ok {
		return
	}
	d.hs.LogoutTeardown(peer.ID)
	d.rt.Detach(peer.ID)
}

// PeerOutbox returns the router.Outbox attached to peerID, if the
// dispatcher has registered one (i.e. the peer is currently live). The
// connection loop uses this to start forwarding broadcast/system frames
// into the connection's own outbound queue once login succeeds.
func (d *Dispatcher) PeerOutbox(peerID int64) (*router.Outbox, bool) {
	return d.rt.Outbox(peerID)
}

// PeerByConnID reports the live Peer currently bound to connID, if any.
func (d *Dispatcher) PeerByConnID(connID int64) (model.Peer, bool) {
	return d.reg.PeerByConnID(connID)
}

// Dispatch handles one decoded frame arriving on connID and returns the
// response bytes to enqueue on that connection's own Outbox. It never
// returns an error: every failure becomes a well-formed status response,
// per spec's "every failed request produces exactly one status response."
func (d *Dispatcher) Dispatch(connID int64, frame reqframe.Frame) []byte {
	if frame.Err != nil {
		d.obs.FrameParseError()
		return d.statusFrame(model.CodeInvalidForm, model.ActionLogin, model.IDUnknown, "")
	}

	start := timeNow()
	_, body := d.route(connID, frame)
	d.obs.DispatchLatency(frame.Method+" "+frame.Path, timeSince(start))
	return body
}

// route performs the actual (method, path) -> handler lookup.
func (d *Dispatcher) route(connID int64, f reqframe.Frame) (model.Action, []byte) {
	if d.shuttingDown.Load() {
		return model.ActionLogin, d.statusFrame(model.CodeTerminate, model.ActionLogin, model.IDUnknown, "")
	}

	switch {
	case f.Method == "GET" && f.Path == "/login":
		return model.ActionLogin, d.formFrame(loginForm{})
	case f.Method == "POST" && f.Path == "/login":
		return model.ActionLogin, d.handleLogin(connID, f)
	case f.Method == "GET" && f.Path == "/register":
		return model.ActionRegister, d.formFrame(registerForm{})
	case f.Method == "POST" && f.Path == "/register":
		return model.ActionRegister, d.handleRegister(connID, f)
	case f.Method == "DELETE" && f.Path == "/logout":
		return model.ActionLogout, d.handleLogout(connID, f)
	case f.Method == "POST" && f.Path == "/message":
		return model.ActionMessage, d.handleMessage(connID, f)
	case f.Method == "PUT" && f.Path == "/switch_channel":
		return model.ActionSwitchChannel, d.handleSwitchChannel(connID, f)
	case f.Method == "GET" && f.Path == "/is_logged_in":
		return model.ActionIsLoggedIn, d.handleIsLoggedIn(f)
	case f.Method == "GET" && f.Path == "/is_registered":
		return model.ActionIsRegistered, d.handleIsRegistered(f)
	case f.Method == "GET" && f.Path == "/all_peers":
		return model.ActionAllPeers, d.handleAllPeers(f)
	case f.Method == "POST" && f.Path == "/private_request":
		return model.ActionMessage, d.handlePrivateRequest(connID, f)
	case f.Method == "POST" && f.Path == "/private_confirm":
		return model.ActionMessage, d.handlePrivateConfirm(connID, f)
	case f.Method == "POST" && f.Path == "/private_abort":
		return model.ActionMessage, d.handlePrivateAbort(connID, f)
	case f.Method == "POST" && f.Path == "/private_pubkey":
		return model.ActionMessage, d.handlePrivatePubkey(connID, f)
	default:
		return model.ActionLogin, d.statusFrame(model.CodeInvalidQuery, model.ActionLogin, model.IDUnknown, "")
	}
}

func (d *Dispatcher) handleLogin(connID int64, f reqframe.Frame) []byte {
	var form loginForm
	if err := json.Unmarshal(f.Body, &form); err != nil {
		return d.statusFrame(model.CodeInvalidForm, model.ActionLogin, model.IDUnknown, "")
	}
	peer, err := d.reg.Login(form.Login, form.Password, connID)
	if err != nil {
		return d.statusFrame(d.codeOf(err), model.ActionLogin, model.IDUnknown, "")
	}
	d.rt.Attach(peer.ID)
	payload := "login=" + peer.Login + "&email=" + peer.Email
	return d.statusFrameWithToken(model.CodeSuccess, model.ActionLogin, peer.ID, peer.Token, payload)
}

func (d *Dispatcher) handleRegister(connID int64, f reqframe.Frame) []byte {
	var form registerForm
	if err := json.Unmarshal(f.Body, &form); err != nil {
		return d.statusFrame(model.CodeInvalidForm, model.ActionRegister, model.IDUnknown, "")
	}
	peer, err := d.reg.Register(form.Login, form.Email, form.Password, connID)
	if err != nil {
		return d.statusFrame(d.codeOf(err), model.ActionRegister, model.IDUnknown, "")
	}
	d.rt.Attach(peer.ID)
	payload := "login=" + peer.Login + "&email=" + peer.Email
	return d.statusFrameWithToken(model.CodeSuccess, model.ActionRegister, peer.ID, peer.Token, payload)
}

func (d *Dispatcher) handleLogout(connID int64, f reqframe.Frame) []byte {
	id, err := parseQueryInt(f, "id")
	if err != nil {
		return d.statusFrame(model.CodeInvalidQuery, model.ActionLogout, model.IDUnknown, "")
	}
	if _, ok := d.boundPeer(connID, id); !ok {
		return d.statusFrame(model.CodeUnauthorized, model.ActionLogout, model.IDUnknown, "")
	}
	if err := d.reg.Logout(id); err != nil {
		return d.statusFrame(d.codeOf(err), model.ActionLogout, model.IDUnknown, "")
	}
	d.hs.LogoutTeardown(id)
	d.rt.Detach(id)
	return d.statusFrame(model.CodeSuccess, model.ActionLogout, id, "")
}

func (d *Dispatcher) handleMessage(connID int64, f reqframe.Frame) []byte {
	var form messageForm
	if err := json.Unmarshal(f.Body, &form); err != nil {
		return d.statusFrame(model.CodeInvalidForm, model.ActionMessage, model.IDUnknown, "")
	}
	sender, ok := d.boundPeer(connID, form.ID)
	if !ok {
		return d.statusFrame(model.CodeUnauthorized, model.ActionMessage, model.IDUnknown, "")
	}

	if form.DestID != model.IDUnknown {
		dest, ok := d.reg.Peer(form.DestID)
		if !ok {
			return d.statusFrame(model.CodeInvalidQuery, model.ActionMessage, sender.ID, "")
		}
		if dest.Channel != sender.Channel && !d.hs.Authorize(sender.ID, dest.ID) {
			return d.statusFrame(model.CodeWrongChannel, model.ActionMessage, sender.ID, "")
		}
	}

	body, err := json.Marshal(form)
	if err == nil {
		d.rt.Broadcast(sender.ID, form.Channel, form.DestID, reqframe.EncodeResponse(200, "OK", body))
	}
	return d.statusFrame(model.CodeSuccess, model.ActionMessage, sender.ID, "")
}

func (d *Dispatcher) handleSwitchChannel(connID int64, f reqframe.Frame) []byte {
	id, errID := parseQueryInt(f, "id")
	channel, errCh := parseQueryInt32(f, "channel")
	if errID != nil || errCh != nil || channel == model.ChannelPrivate {
		return d.statusFrame(model.CodeInvalidQuery, model.ActionSwitchChannel, model.IDUnknown, "")
	}
	if _, ok := d.boundPeer(connID, id); !ok {
		return d.statusFrame(model.CodeUnauthorized, model.ActionSwitchChannel, model.IDUnknown, "")
	}
	if err := d.reg.SwitchChannel(id, channel); err != nil {
		return d.statusFrame(d.codeOf(err), model.ActionSwitchChannel, id, "")
	}
	return d.statusFrame(model.CodeSuccess, model.ActionSwitchChannel, id, "")
}

func (d *Dispatcher) handleIsLoggedIn(f reqframe.Frame) []byte {
	login := f.Query.Get("login")
	peer, live := d.reg.PeerByLogin(login)
	check := 0
	id := model.IDUnknown
	if live {
		check = 1
		id = peer.ID
	}
	return d.checkFrame(check, model.ActionIsLoggedIn, id)
}

func (d *Dispatcher) handleIsRegistered(f reqframe.Frame) []byte {
	login := f.Query.Get("login")
	id, ok, err := d.reg.LookupAccountID(login)
	check := 0
	if ok && err == nil {
		check = 1
	}
	return d.checkFrame(check, model.ActionIsRegistered, id)
}

func (d *Dispatcher) handleAllPeers(f reqframe.Frame) []byte {
	var channel *int32
	if raw := f.Query.Get("channel"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return d.statusFrame(model.CodeInvalidQuery, model.ActionAllPeers, model.IDUnknown, "")
		}
		v := int32(n)
		channel = &v
	}

	peers := d.rt.ListPeers(channel)
	dtos := make([]peerDTO, 0, len(peers))
	for _, p := range peers {
		dtos = append(dtos, peerDTO{ID: p.ID, Login: p.Login, Channel: p.Channel})
	}
	body, _ := json.Marshal(peersResponse{Peers: dtos, Channel: channel})
	return reqframe.EncodeResponse(200, "OK", body)
}

func (d *Dispatcher) handlePrivateRequest(connID int64, f reqframe.Frame) []byte {
	src, dest, ok := d.boundPrivatePair(connID, f)
	if !ok {
		return d.statusFrame(model.CodeUnauthorized, model.ActionMessage, model.IDUnknown, "")
	}
	if err := d.hs.Request(src, dest); err != nil {
		return d.statusFrame(d.codeOf(err), model.ActionMessage, src, "")
	}
	return d.statusFrame(model.CodeSuccess, model.ActionMessage, src, "")
}

func (d *Dispatcher) handlePrivateConfirm(connID int64, f reqframe.Frame) []byte {
	src, dest, ok := d.boundPrivatePair(connID, f)
	if !ok {
		return d.statusFrame(model.CodeUnauthorized, model.ActionMessage, model.IDUnknown, "")
	}
	var form confirmForm
	if err := json.Unmarshal(f.Body, &form); err != nil {
		return d.statusFrame(model.CodeInvalidForm, model.ActionMessage, src, "")
	}
	if err := d.hs.Confirm(src, dest, form.Accept != 0); err != nil {
		return d.statusFrame(d.codeOf(err), model.ActionMessage, src, "")
	}
	return d.statusFrame(model.CodeSuccess, model.ActionMessage, src, "")
}

func (d *Dispatcher) handlePrivateAbort(connID int64, f reqframe.Frame) []byte {
	src, dest, ok := d.boundPrivatePair(connID, f)
	if !ok {
		return d.statusFrame(model.CodeUnauthorized, model.ActionMessage, model.IDUnknown, "")
	}
	d.hs.Abort(src, dest)
	return d.statusFrame(model.CodeSuccess, model.ActionMessage, src, "")
}

func (d *Dispatcher) handlePrivatePubkey(connID int64, f reqframe.Frame) []byte {
	id, err := parseQueryInt(f, "id")
	if err != nil {
		return d.statusFrame(model.CodeInvalidQuery, model.ActionMessage, model.IDUnknown, "")
	}
	peer, ok := d.boundPeer(connID, id)
	if !ok {
		return d.statusFrame(model.CodeUnauthorized, model.ActionMessage, model.IDUnknown, "")
	}
	var form pubkeyForm
	if err := json.Unmarshal(f.Body, &form); err != nil {
		return d.statusFrame(model.CodeInvalidForm, model.ActionMessage, peer.ID, "")
	}

	// The counterpart of the pair is named by the dest_id query
	// parameter; the slot for (id, dest_id) must already be
	// PENDING_KEYS or ACTIVE for PutKey to accept the key.
	destID, err2 := parseQueryInt(f, "dest_id")
	if err2 != nil {
		return d.statusFrame(model.CodeInvalidQuery, model.ActionMessage, peer.ID, "")
	}

	if _, err := d.hs.PutKey(peer.ID, destID, []byte(form.Key)); err != nil {
		return d.statusFrame(d.codeOf(err), model.ActionMessage, peer.ID, "")
	}
	return d.statusFrame(model.CodeSuccess, model.ActionMessage, peer.ID, "")
}

// boundPrivatePair validates that src_id belongs to connID and returns
// (src, dest) from the request's src_id/dest_id query parameters.
func (d *Dispatcher) boundPrivatePair(connID int64, f reqframe.Frame) (src, dest int64, ok bool) {
	src, errSrc := parseQueryInt(f, "src_id")
	dest, errDest := parseQueryInt(f, "dest_id")
	if errSrc != nil || errDest != nil {
		return 0, 0, false
	}
	if _, live := d.boundPeer(connID, src); !live {
		return 0, 0, false
	}
	return src, dest, true
}

// boundPeer confirms that claimedID names the live peer bound to connID.
func (d *Dispatcher) boundPeer(connID, claimedID int64) (model.Peer, bool) {
	peer, ok := d.reg.PeerByConnID(connID)
	if !ok || peer.ID != claimedID {
		return model.Peer{}, false
	}
	return peer, true
}

func (d *Dispatcher) codeOf(err error) model.StatusCode {
	code, ok := chaterrors.CodeOf(err)
	if !ok {
		return model.CodeInvalidForm
	}
	return chaterrors.StatusCodeFor(code)
}

func (d *Dispatcher) statusFrame(code model.StatusCode, action model.Action, id int64, payload string) []byte {
	return d.statusFrameWithToken(code, action, id, "", payload)
}

func (d *Dispatcher) statusFrameWithToken(code model.StatusCode, action model.Action, id int64, token, payload string) []byte {
	body, _ := json.Marshal(statusResponse{Code: code, Action: action, ID: id, Token: token, Payload: payload})
	return reqframe.EncodeResponse(200, "OK", body)
}

func (d *Dispatcher) checkFrame(check int, action model.Action, id int64) []byte {
	body, _ := json.Marshal(checkResponse{Check: check, Action: action, ID: id})
	return reqframe.EncodeResponse(200, "OK", body)
}

func (d *Dispatcher) formFrame(v interface{}) []byte {
	body, _ := json.Marshal(v)
	return reqframe.EncodeResponse(200, "OK", body)
}

func parseQueryInt(f reqframe.Frame, key string) (int64, error) {
	return strconv.ParseInt(f.Query.Get(key), 10, 64)
}

func parseQueryInt32(f reqframe.Frame, key string) (int32, error) {
	n, err := strconv.ParseInt(f.Query.Get(key), 10, 32)
	return int32(n), err
}

// timeNow/timeSince are indirected so dispatch latency measurement has a
// single seam; wall-clock time is otherwise not part of this package's
// logic.
func timeNow() time.Time { return time.Now() }

func timeSince(t time.Time) time.Duration { return time.Since(t) }
