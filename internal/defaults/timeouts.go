package defaults

import "time"

const (
	// ReadTimeout is the default per-connection idle read deadline. A
	// connection that sends nothing for this long is closed as timed out.
	ReadTimeout = 60 * time.Second

	// WriteTimeout bounds a single outbound frame write.
	WriteTimeout = 10 * time.Second

	// PrivateSessionTimeout is a 30-second bound for a handshake slot in
	// PENDING_CONFIRM or PENDING_KEYS. handshake.Coordinator does not apply
	// it: a slot stays until it is confirmed, rejected, aborted, or torn
	// down by a logout.
	PrivateSessionTimeout = 30 * time.Second
)
