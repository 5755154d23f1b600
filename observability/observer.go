// Package observability defines the metrics-observer interface the
// registry, router, handshake coordinator, and connection loop report
// events to, plus a no-op default and an atomic-swap wrapper for runtime
// enable/disable.
package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// AuthResult classifies a login or register attempt.
type AuthResult string

const (
	AuthResultOK   AuthResult = "ok"
	AuthResultFail AuthResult = "fail"
)

// AuthReason further classifies a failed (or successful) auth attempt.
type AuthReason string

const (
	AuthReasonOK                AuthReason = "ok"
	AuthReasonInvalidForm       AuthReason = "invalid_form"
	AuthReasonWrongPassword     AuthReason = "wrong_password"
	AuthReasonNotRegistered     AuthReason = "not_registered"
	AuthReasonAlreadyRegistered AuthReason = "already_registered"
	AuthReasonAlreadyLoggedIn   AuthReason = "already_logged_in"
	AuthReasonStoreError        AuthReason = "store_error"
)

// DisconnectReason classifies why a connection's Peer was logged out.
type DisconnectReason string

const (
	DisconnectReasonExplicit     DisconnectReason = "explicit_logout"
	DisconnectReasonSocketEOF    DisconnectReason = "socket_eof"
	DisconnectReasonReadError    DisconnectReason = "read_error"
	DisconnectReasonIdleReset    DisconnectReason = "idle_timeout"
	DisconnectReasonSlowConsumer DisconnectReason = "slow_consumer"
)

// FrameDirection distinguishes inbound parse events from outbound writes.
type FrameDirection string

const (
	FrameRead  FrameDirection = "read"
	FrameWrite FrameDirection = "write"
)

// HandshakeResult classifies a private-session state transition attempt.
type HandshakeResult string

const (
	HandshakeResultOK           HandshakeResult = "ok"
	HandshakeResultRejected     HandshakeResult = "rejected"
	HandshakeResultAborted      HandshakeResult = "aborted"
	HandshakeResultUnauthorized HandshakeResult = "unauthorized"
)

// Observer receives metric events from every core component.
type Observer interface {
	ConnCount(n int64)
	PeerCount(n int)
	Auth(action string, result AuthResult, reason AuthReason)
	Disconnect(reason DisconnectReason)
	FrameParseError()
	FrameWriteError()
	Broadcast(recipients int)
	QueueOverflow()
	HandshakeTransition(result HandshakeResult)
	DispatchLatency(action string, d time.Duration)
}

type noopObserver struct{}

func (noopObserver) ConnCount(int64)                       {}
func (noopObserver) PeerCount(int)                         {}
func (noopObserver) Auth(string, AuthResult, AuthReason)   {}
func (noopObserver) Disconnect(DisconnectReason)           {}
func (noopObserver) FrameParseError()                      {}
func (noopObserver) FrameWriteError()                      {}
func (noopObserver) Broadcast(int)                         {}
func (noopObserver) QueueOverflow()                        {}
func (noopObserver) HandshakeTransition(HandshakeResult)   {}
func (noopObserver) DispatchLatency(string, time.Duration) {}

// Noop is a zero-cost observer used when metrics are disabled.
var Noop Observer = noopObserver{}

// Atomic swaps its delegate observer at runtime; used so metrics can be
// enabled/disabled without restarting the server.
type Atomic struct {
	once sync.Once
	v    atomic.Value
}

type holder struct{ obs Observer }

// NewAtomic returns an initialized atomic observer defaulting to Noop.
func NewAtomic() *Atomic {
	a := &Atomic{}
	a.once.Do(func() { a.v.Store(&holder{obs: Noop}) })
	return a
}

// Set replaces the delegate, falling back to Noop on nil.
func (a *Atomic) Set(obs Observer) {
	if obs == nil {
		obs = Noop
	}
	a.once.Do(func() { a.v.Store(&holder{obs: Noop}) })
	a.v.Store(&holder{obs: obs})
}

func (a *Atomic) load() Observer {
	a.once.Do(func() { a.v.Store(&holder{obs: Noop}) })
	return a.v.Load().(*holder).obs
}

func (a *Atomic) ConnCount(n int64) { a.load().ConnCount(n) }
func (a *Atomic) PeerCount(n int)   { a.load().PeerCount(n) }
func (a *Atomic) Auth(action string, r AuthResult, reason AuthReason) {
	a.load().Auth(action, r, reason)
}
func (a *Atomic) Disconnect(reason DisconnectReason)    { a.load().Disconnect(reason) }
func (a *Atomic) FrameParseError()                      { a.load().FrameParseError() }
func (a *Atomic) FrameWriteError()                      { a.load().FrameWriteError() }
func (a *Atomic) Broadcast(recipients int)              { a.load().Broadcast(recipients) }
func (a *Atomic) QueueOverflow()                        { a.load().QueueOverflow() }
func (a *Atomic) HandshakeTransition(r HandshakeResult) { a.load().HandshakeTransition(r) }
func (a *Atomic) DispatchLatency(action string, d time.Duration) {
	a.load().DispatchLatency(action, d)
}
