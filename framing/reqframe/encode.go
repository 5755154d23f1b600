package reqframe

import "fmt"

// EncodeResponse serializes a response frame as wire bytes: a status-line
// followed by a blank line and the raw JSON body. The dispatcher and
// router use this for both direct replies and broadcast/system frames —
// the wire format does not distinguish them.
func EncodeResponse(status int, reason string, body []byte) []byte {
	head := fmt.Sprintf("HTTP/1.1 %d %s\r\n\r\n", status, reason)
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head...)
	out = append(out, body...)
	return out
}
