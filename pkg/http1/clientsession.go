package http1

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tzrikka/poseidon/pkg/buffer"
)

// ClientSession drives the response parser over one client-side
// connection and sends requests through the transport. Hooks fire on
// the feeding goroutine in strict byte-stream order, one response per
// request on the wire.
type ClientSession struct {
	tr     Transport
	logger zerolog.Logger
	parser *ResponseParser

	defaultHost string
	upgradeAck  atomic.Bool
	sendMu      sync.Mutex

	// OnResponseHeaders is called once the header block of a
	// response is complete. Its result selects payload handling: a
	// response to a HEAD request has no body regardless of its
	// headers ([PayloadEmpty]), and a successful CONNECT commits the
	// upgrade ([PayloadConnect]). A nil hook selects [PayloadNormal].
	OnResponseHeaders func(resp *ResponseHeaders) PayloadType

	// OnResponsePayloadStream is called after each partial payload
	// update, with the accumulated payload so far.
	OnResponsePayloadStream func(data *buffer.Linear)

	// OnResponseFinish is called once the message is complete.
	OnResponseFinish func(resp *ResponseHeaders, data *buffer.Linear, closeAfterPayload bool)

	// OnUpgradedStream receives all inbound bytes verbatim after a
	// protocol upgrade has been acknowledged.
	OnUpgradedStream func(data *buffer.Linear, eof bool)
}

// ClientSessionConfig carries construction options for a client
// session.
type ClientSessionConfig struct {
	Logger zerolog.Logger

	// DefaultHost is added as the `Host` header of outgoing requests
	// that are not in proxy mode.
	DefaultHost string

	// MaxContentLength bounds response payload accumulation, in
	// bytes. Zero selects the default of 1 MiB.
	MaxContentLength int
}

// NewClientSession creates a client session over the given transport.
func NewClientSession(tr Transport, cfg ClientSessionConfig) *ClientSession {
	return &ClientSession{
		tr:          tr,
		logger:      cfg.Logger,
		parser:      NewResponseParser(cfg.MaxContentLength),
		defaultHost: cfg.DefaultHost,
	}
}

// Upgraded reports whether the connection has switched to another
// protocol.
func (s *ClientSession) Upgraded() bool {
	return s.upgradeAck.Load()
}

// SetDefaultHost replaces the `Host` header value used for requests
// that are not in proxy mode.
func (s *ClientSession) SetDefaultHost(host string) {
	s.defaultHost = host
}

// Feed consumes inbound bytes from the transport. The I/O layer calls
// it from a single goroutine per connection, with eof set on the last
// call once the peer has shut down its sending side.
func (s *ClientSession) Feed(data *buffer.Linear, eof bool) {
	if s.upgradeAck.Load() {
		s.onUpgradedStream(data, eof)
		return
	}

	for {
		if s.upgradeAck.Load() {
			s.onUpgradedStream(data, eof)
			return
		}

		// If something has gone wrong, ignore further incoming data.
		if s.parser.Error() {
			data.Clear()
			return
		}

		if !s.parser.HeadersComplete() {
			s.parser.ParseHeadersFromStream(data, eof)

			if s.parser.Error() {
				data.Clear()
				s.tr.ShutDown()
				return
			}

			if !s.parser.HeadersComplete() {
				return
			}

			resp := s.parser.Headers()
			s.logger.Debug().Int("status", resp.Status).Str("reason", resp.Reason).
				Msg("HTTP client received response")

			payloadType := PayloadNormal
			if s.OnResponseHeaders != nil {
				payloadType = s.OnResponseHeaders(resp)
			}

			switch payloadType {
			case PayloadNormal:

			case PayloadEmpty:
				s.parser.SetNoPayload()

			case PayloadConnect:
				s.upgradeAck.Store(true)
				s.onUpgradedStream(data, eof)
				return

			default:
				panic(fmt.Sprintf("http1: invalid payload type %d from OnResponseHeaders", payloadType))
			}
		}

		if !s.parser.PayloadComplete() {
			s.parser.ParsePayloadFromStream(data, eof)

			if s.parser.Error() {
				data.Clear()
				s.tr.ShutDown()
				return
			}

			if s.OnResponsePayloadStream != nil {
				s.OnResponsePayloadStream(s.parser.Payload())
			}

			if !s.parser.PayloadComplete() {
				return
			}

			status := s.parser.Headers().Status

			if s.OnResponseFinish != nil {
				s.OnResponseFinish(s.parser.Headers(), s.parser.Payload(),
					s.parser.ShouldCloseAfterPayload())
			}

			// A 101 indicates the server has switched to another
			// protocol. CONNECT responses are handled differently
			// after the headers; see above.
			if status == http.StatusSwitchingProtocols {
				s.upgradeAck.Store(true)
			}
		}

		s.parser.NextMessage()
	}
}

func (s *ClientSession) onUpgradedStream(data *buffer.Linear, eof bool) {
	if s.OnUpgradedStream == nil {
		panic("http1: OnUpgradedStream not set on upgraded connection")
	}
	s.OnUpgradedStream(data, eof)
}

func (s *ClientSession) checkNotUpgraded() {
	if s.upgradeAck.Load() {
		panic("http1: connection switched to another protocol")
	}
}

// addDefaultHost sets `Host` as per HTTP/1.1 for requests that do not
// carry an absolute URI.
func (s *ClientSession) addDefaultHost(req *RequestHeaders) {
	if !req.IsProxy && s.defaultHost != "" {
		req.Add("Host", StringValue(s.defaultHost))
	}
}

// rawRequest encodes a request with an optional inline body and
// queues it on the transport as one atomic send.
func (s *ClientSession) rawRequest(req *RequestHeaders, data []byte) bool {
	var out bytes.Buffer
	req.Encode(&out)
	out.Write(data)

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.tr.Send(out.Bytes())
}

// Request sends a complete request. Requests do not carry a payload
// by default, so a `Content-Length` header is added only when the
// body is non-empty.
func (s *ClientSession) Request(req *RequestHeaders, data []byte) bool {
	s.checkNotUpgraded()
	s.addDefaultHost(req)

	if len(data) != 0 {
		req.Add("Content-Length", IntegerValue(int64(len(data))))
	}

	return s.rawRequest(req, data)
}

// ChunkedRequestStart opens a request with a chunked payload.
func (s *ClientSession) ChunkedRequestStart(req *RequestHeaders) bool {
	s.checkNotUpgraded()
	s.addDefaultHost(req)
	req.Add("Transfer-Encoding", StringValue("chunked"))
	return s.rawRequest(req, nil)
}

// ChunkedRequestSend sends one payload chunk. An empty send is a
// no-op, because a zero-length chunk would terminate the payload.
func (s *ClientSession) ChunkedRequestSend(data []byte) bool {
	s.checkNotUpgraded()

	if len(data) == 0 {
		return true
	}

	var out bytes.Buffer
	out.WriteString(strconv.FormatUint(uint64(len(data)), 16))
	out.WriteString("\r\n")
	out.Write(data)
	out.WriteString("\r\n")

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.tr.Send(out.Bytes())
}

// ChunkedRequestFinish terminates a chunked payload.
func (s *ClientSession) ChunkedRequestFinish() bool {
	s.checkNotUpgraded()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.tr.Send([]byte("0\r\n\r\n"))
}
