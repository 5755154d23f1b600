// Package connserver runs the raw-socket connection loop: one accept
// goroutine, and one reader goroutine plus one writer goroutine per
// connection. Every decoded frame is handed to a shared api.Dispatcher;
// the writer drains the connection's own outbound queue, which forwards
// broadcast/system frames from the dispatcher's per-peer router.Outbox
// once the connection's socket has logged a Peer in.
package connserver

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/fenwicklabs/chatline/api"
	"github.com/fenwicklabs/chatline/framing/reqframe"
	"github.com/fenwicklabs/chatline/internal/defaults"
	"github.com/fenwicklabs/chatline/observability"
	"github.com/fenwicklabs/chatline/router"
)

// readBufSize is the chunk size each conn.Read call requests; it bears no
// relation to any single frame's size, since reqframe.Decode tolerates
// frames split or coalesced across reads.
const readBufSize = 64 * 1024

// OnError reports a non-fatal per-connection failure. Only a panic
// recovered on a connection is reported here; write errors and outbox
// overflows go to the Observer (FrameWriteError, QueueOverflow). It must
// not panic.
type OnError func(err error)

// Server accepts TCP connections and dispatches their frames through a
// shared api.Dispatcher. It never touches the registry, router, or
// handshake coordinator directly; those are reached only through the
// Dispatcher's exported hooks.
type Server struct {
	dispatch *api.Dispatcher
	obs      observability.Observer
	onError  OnError

	readTimeout time.Duration
	nextConnID  atomic.Int64
	connCount   atomic.Int64
}

// New constructs a Server over dispatch. obs may be nil (observability.Noop
// is used); onError may be nil (errors are silently dropped).
func New(dispatch *api.Dispatcher, obs observability.Observer, onError OnError) *Server {
	if obs == nil {
		obs = observability.Noop
	}
	return &Server{
		dispatch:    dispatch,
		obs:         obs,
		onError:     onError,
		readTimeout: defaults.ReadTimeout,
	}
}

// ListenAndServe listens on addr and serves connections until the
// listener is closed or an Accept error occurs.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts and serves connections from ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.serveConn(conn)
	}
}

// serveConn owns one connection's entire lifecycle: reading, dispatching,
// forwarding broadcast frames, and writing, until the socket resets or a
// read deadline expires (the two are treated identically).
func (s *Server) serveConn(conn net.Conn) {
	connID := s.nextConnID.Add(1)
	out := router.NewOutbox(0)
	s.connCount.Add(1)
	s.obs.ConnCount(s.connCount.Load())

	defer func() {
		if r := recover(); r != nil {
			s.reportError(fmt.Errorf("connserver: recovered panic on connection %d: %v", connID, r))
		}
		s.dispatch.HandleSocketReset(connID)
		out.Close()
		_ = conn.Close()
		s.connCount.Add(-1)
		s.obs.ConnCount(s.connCount.Load())
		s.obs.Disconnect(observability.DisconnectReasonSocketEOF)
	}()

	go s.writeLoop(conn, out)
	s.readLoop(conn, connID, out)
}

func (s *Server) readLoop(conn net.Conn, connID int64, out *router.Outbox) {
	buf := make([]byte, readBufSize)
	var residual []byte
	attached := false

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return
		}
		n, err := conn.Read(buf)
		if n > 0 {
			residual = append(residual, buf[:n]...)
			var frames []reqframe.Frame
			frames, residual = reqframe.Decode(residual)
			for _, f := range frames {
				resp := s.dispatch.Dispatch(connID, f)
				if !out.Enqueue(resp) {
					s.obs.QueueOverflow()
					return
				}
			}
			if !attached {
				if peer, ok := s.dispatch.PeerByConnID(connID); ok {
					if peerOutbox, ok := s.dispatch.PeerOutbox(peer.ID); ok {
						attached = true
						go forwardOutbox(peerOutbox, out)
					}
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(conn net.Conn, out *router.Outbox) {
	for {
		frame, ok := out.Next()
		if !ok {
			return
		}
		if err := conn.SetWriteDeadline(time.Now().Add(defaults.WriteTimeout)); err != nil {
			return
		}
		if _, err := conn.Write(frame); err != nil {
			s.obs.FrameWriteError()
			out.Close()
			_ = conn.Close()
			return
		}
	}
}

// forwardOutbox relays every frame the router enqueues for a logged-in
// peer into that connection's own outbox, so the connection's single
// writer goroutine is the only thing ever writing to the socket. It exits
// once src is closed (on logout/socket reset).
func forwardOutbox(src, dst *router.Outbox) {
	for {
		frame, ok := src.Next()
		if !ok {
			return
		}
		if !dst.Enqueue(frame) {
			return
		}
	}
}

func (s *Server) reportError(err error) {
	if s.onError == nil {
		return
	}
	defer func() { _ = recover() }()
	s.onError(err)
}
