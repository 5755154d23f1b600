// Package api is the (method, path) dispatch table: it validates each
// decoded frame's query/body, calls into the registry, router, and
// handshake coordinator, and builds the response frame. The router and
// registry never know which transport (raw socket or WebSocket) a
// request arrived over; connserver and realtime/ws both call the same
// Dispatcher.
package api

import "github.com/fenwicklabs/chatline/model"

// loginForm is both the @req body of POST /login and the discovery shape
// returned by GET /login.
type loginForm struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// registerForm is both the @req body of POST /register and the discovery
// shape returned by GET /register.
type registerForm struct {
	Login    string `json:"login"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// messageForm is the @req body of POST /message.
type messageForm struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	Channel   int32  `json:"channel"`
	DestID    int64  `json:"dest_id"`
	Timestamp int64  `json:"timestamp"`
	Size      int    `json:"size"`
	Encrypted int    `json:"encrypted"`
	Message   string `json:"message"`
}

// statusResponse is the @res envelope shared by every POST/PUT/DELETE
// endpoint.
type statusResponse struct {
	Code    model.StatusCode `json:"code"`
	Action  model.Action     `json:"action"`
	ID      int64            `json:"id"`
	Token   string           `json:"token"`
	Payload string           `json:"payload"`
}

// checkResponse is the @res shape of GET /is_logged_in and GET
// /is_registered.
type checkResponse struct {
	Check  int          `json:"check"`
	Action model.Action `json:"action"`
	ID     int64        `json:"id"`
}

// peerDTO is one entry of GET /all_peers.
type peerDTO struct {
	ID      int64  `json:"id"`
	Login   string `json:"login"`
	Channel int32  `json:"channel"`
}

// peersResponse is the @res shape of GET /all_peers.
type peersResponse struct {
	Peers   []peerDTO `json:"peers"`
	Channel *int32    `json:"channel,omitempty"`
}

// confirmForm is the @req body of POST /private_confirm.
type confirmForm struct {
	Accept int `json:"accept"`
}

// pubkeyForm is the @req body of POST /private_pubkey.
type pubkeyForm struct {
	Key string `json:"key"`
}
