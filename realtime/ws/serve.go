package ws

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/fenwicklabs/chatline/api"
	"github.com/fenwicklabs/chatline/framing/reqframe"
	"github.com/fenwicklabs/chatline/internal/defaults"
	"github.com/fenwicklabs/chatline/observability"
)

// maxMessageBytes caps a single incoming WS message, mirroring the read
// buffer the raw-socket connserver uses.
const maxMessageBytes = 64 * 1024

// HandlerOptions configures Handler.
type HandlerOptions struct {
	Dispatch       *api.Dispatcher
	Observer       observability.Observer
	AllowedOrigins []string
	AllowNoOrigin  bool
}

// Handler upgrades incoming requests to WebSocket connections and feeds
// each connection's decoded frames through the same api.Dispatcher the
// raw-socket connserver uses. One client-to-server WS message carries
// exactly one HTTP/1.1-shaped frame; a connection's responses (direct and
// broadcast) are written back as individual WS text messages in the order
// they are produced, from one dedicated writer goroutine per connection.
func Handler(opts HandlerOptions) http.HandlerFunc {
	obs := opts.Observer
	if obs == nil {
		obs = observability.Noop
	}
	var nextConnID atomic.Int64

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, UpgraderOptions{
			CheckOrigin: NewOriginChecker(opts.AllowedOrigins, opts.AllowNoOrigin),
		})
		if err != nil {
			return
		}
		conn.SetReadLimit(maxMessageBytes)

		connID := nextConnID.Add(1)
		serveWSConn(r.Context(), conn, connID, opts.Dispatch, obs)
	}
}

// serveWSConn owns one WS connection's lifecycle: a reader loop decoding
// inbound messages and a forwarder goroutine relaying the connection's
// peer broadcast outbox (once logged in) into outbound WS writes.
func serveWSConn(parent context.Context, conn *Conn, connID int64, dispatch *api.Dispatcher, obs observability.Observer) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	done := make(chan struct{})
	attached := false

	defer func() {
		if r := recover(); r != nil {
			obs.FrameParseError()
		}
		dispatch.HandleSocketReset(connID)
		close(done)
		_ = conn.Close()
	}()

	var residual []byte
	for {
		readCtx, readCancel := context.WithTimeout(ctx, defaults.ReadTimeout)
		_, data, err := conn.ReadMessage(readCtx)
		readCancel()
		if err != nil {
			return
		}

		residual = append(residual, data...)
		var frames []reqframe.Frame
		frames, residual = reqframe.Decode(residual)
		for _, f := range frames {
			resp := dispatch.Dispatch(connID, f)
			writeCtx, writeCancel := context.WithTimeout(ctx, defaults.WriteTimeout)
			writeErr := conn.WriteMessage(writeCtx, websocket.TextMessage, resp)
			writeCancel()
			if writeErr != nil {
				obs.FrameWriteError()
				return
			}
		}

		if !attached {
			if peer, ok := dispatch.PeerByConnID(connID); ok {
				if peerOutbox, ok := dispatch.PeerOutbox(peer.ID); ok {
					attached = true
					go forwardToWS(ctx, conn, peerOutbox, obs, done)
				}
			}
		}
	}
}

// outboxReader is the narrow slice of router.Outbox forwardToWS needs;
// declared locally so this package does not import router just for a type.
type outboxReader interface {
	Next() ([]byte, bool)
}

func forwardToWS(ctx context.Context, conn *Conn, src outboxReader, obs observability.Observer, done <-chan struct{}) {
	for {
		frame, ok := src.Next()
		if !ok {
			return
		}
		select {
		case <-done:
			return
		default:
		}
		writeCtx, cancel := context.WithTimeout(ctx, defaults.WriteTimeout)
		err := conn.WriteMessage(writeCtx, websocket.TextMessage, frame)
		cancel()
		if err != nil {
			obs.FrameWriteError()
			return
		}
	}
}
