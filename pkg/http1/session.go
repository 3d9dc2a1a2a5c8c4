package http1

// Transport is the byte-pipe contract a session plugs into. The
// implementation queues outbound bytes and requests shutdown; it never
// blocks on socket writability. The I/O layer owns the socket and
// calls back into the session with inbound bytes.
type Transport interface {
	// Send queues data for transmission, preserving issue order. The
	// return value indicates whether no error has occurred; there is
	// no guarantee that data will eventually arrive, due to network
	// flapping.
	Send(data []byte) bool

	// ShutDown requests that the connection be closed once queued
	// data has drained. It is idempotent.
	ShutDown() bool
}

// PayloadType is returned by the headers hook of a session and
// selects how the message payload is handled.
type PayloadType int

const (
	// PayloadNormal parses a payload as the headers describe.
	PayloadNormal PayloadType = iota

	// PayloadEmpty skips the payload regardless of the headers, e.g.
	// for the response to a HEAD request.
	PayloadEmpty

	// PayloadConnect commits a protocol upgrade: all further inbound
	// bytes are forwarded verbatim to the upgraded-stream hook.
	PayloadConnect
)
