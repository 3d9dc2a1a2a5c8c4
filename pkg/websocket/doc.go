// Package websocket implements the WebSocket protocol (RFC 6455) on
// both the server and the client side: the opening handshake, an
// incremental frame decoder that accepts arbitrary fragmentation from
// the transport, message assembly across continuation frames, and the
// permessage-deflate extension (RFC 7692) with and without context
// takeover.
//
// A connection starts as an HTTP/1.1 session from [pkg/http1]; the
// session state machines here negotiate the mid-stream protocol
// transition and then own the byte stream. The frame parser itself is
// a pure state machine that never touches the network.
//
// It is based on:
//   - Opening handshake: https://datatracker.ietf.org/doc/html/rfc6455#section-4
//   - Base framing protocol: https://datatracker.ietf.org/doc/html/rfc6455#section-5.2
//   - Closing the connection: https://datatracker.ietf.org/doc/html/rfc6455#section-7
//   - Compression extensions: https://datatracker.ietf.org/doc/html/rfc7692
//
// [pkg/http1]: https://pkg.go.dev/github.com/tzrikka/poseidon/pkg/http1
package websocket
