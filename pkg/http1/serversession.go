package http1

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tzrikka/poseidon/pkg/buffer"
)

// ServerSession drives the request parser over one server-side
// connection and sends responses back through the transport. Inbound
// bytes are fed by the I/O layer through [ServerSession.Feed]; hooks
// fire in strict byte-stream order: headers, then zero or more
// payload-stream calls, then finish, then the hooks of the next
// pipelined request.
//
// Parse errors are reported through OnRequestError rather than
// answered synchronously, because pipelining requires errors to be
// delivered in request order; the network thread must not synthesize
// a response that could overtake queued responses from a worker.
//
// All hooks run on the feeding goroutine. The send API may be called
// both from hooks and from other goroutines.
type ServerSession struct {
	tr     Transport
	logger zerolog.Logger
	parser *RequestParser

	// upgradeAck is set once this side has committed to another
	// protocol: after sending a 101 response, or when the headers
	// hook returns [PayloadConnect]. Senders read it without holding
	// the send lock to short-circuit protocol dispatch.
	upgradeAck atomic.Bool
	sendMu     sync.Mutex

	// OnRequestHeaders is called once the header block of a request
	// is complete, with the close-after-payload flag. Its result
	// selects payload handling. A nil hook selects [PayloadNormal].
	OnRequestHeaders func(req *RequestHeaders, closeAfterPayload bool) PayloadType

	// OnRequestPayloadStream is called after each partial payload
	// update, with the accumulated payload so far. The hook may
	// drain a prefix to stream-process the body.
	OnRequestPayloadStream func(data *buffer.Linear)

	// OnRequestFinish is called once the message is complete.
	OnRequestFinish func(req *RequestHeaders, data *buffer.Linear, closeAfterPayload bool)

	// OnRequestError is called once, in request order, when a request
	// cannot be parsed. A nil hook answers with a default error page
	// and shuts the connection down.
	OnRequestError func(status int)

	// OnUpgradedStream receives all inbound bytes verbatim after a
	// protocol upgrade has been acknowledged.
	OnUpgradedStream func(data *buffer.Linear, eof bool)
}

// ServerSessionConfig carries construction options for a server
// session.
type ServerSessionConfig struct {
	Logger zerolog.Logger

	// MaxContentLength bounds request payload accumulation, in
	// bytes. Zero selects the default of 1 MiB.
	MaxContentLength int
}

// NewServerSession creates a server session over the given transport.
func NewServerSession(tr Transport, cfg ServerSessionConfig) *ServerSession {
	return &ServerSession{
		tr:     tr,
		logger: cfg.Logger,
		parser: NewRequestParser(cfg.MaxContentLength),
	}
}

// Upgraded reports whether the connection has switched to another
// protocol.
func (s *ServerSession) Upgraded() bool {
	return s.upgradeAck.Load()
}

// Feed consumes inbound bytes from the transport. The I/O layer calls
// it from a single goroutine per connection, with eof set on the last
// call once the peer has shut down its sending side.
func (s *ServerSession) Feed(data *buffer.Linear, eof bool) {
	if s.upgradeAck.Load() {
		s.onUpgradedStream(data, eof)
		return
	}

	for {
		// Check whether the connection has switched to another
		// protocol, possibly by a hook during the previous iteration.
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
				s.onRequestError(s.parser.ErrorStatus())
				return
			}

			if !s.parser.HeadersComplete() {
				return
			}

			req := s.parser.Headers()
			s.logger.Debug().Str("method", req.Method).Str("path", req.Path).
				Msg("HTTP server received request")

			payloadType := PayloadNormal
			if s.OnRequestHeaders != nil {
				payloadType = s.OnRequestHeaders(req, s.parser.ShouldCloseAfterPayload())
			}

			switch payloadType {
			case PayloadNormal, PayloadEmpty:
				// Requests have no HEAD-like special case; the
				// payload is parsed as the headers describe.

			case PayloadConnect:
				s.upgradeAck.Store(true)
				s.onUpgradedStream(data, eof)
				return

			default:
				panic(fmt.Sprintf("http1: invalid payload type %d from OnRequestHeaders", payloadType))
			}
		}

		if !s.parser.PayloadComplete() {
			s.parser.ParsePayloadFromStream(data, eof)

			if s.parser.Error() {
				data.Clear()
				s.onRequestError(s.parser.ErrorStatus())
				return
			}

			if s.OnRequestPayloadStream != nil {
				s.OnRequestPayloadStream(s.parser.Payload())
			}

			if !s.parser.PayloadComplete() {
				return
			}

			if s.OnRequestFinish != nil {
				s.OnRequestFinish(s.parser.Headers(), s.parser.Payload(),
					s.parser.ShouldCloseAfterPayload())
			}
		}

		s.parser.NextMessage()
	}
}

func (s *ServerSession) onUpgradedStream(data *buffer.Linear, eof bool) {
	if s.OnUpgradedStream == nil {
		panic("http1: OnUpgradedStream not set on upgraded connection")
	}
	s.OnUpgradedStream(data, eof)
}

func (s *ServerSession) onRequestError(status int) {
	if s.OnRequestError != nil {
		s.OnRequestError(status)
		return
	}
	s.ShutDownWithStatus(status)
}

// rawResponse encodes a response with an optional inline body and
// queues it on the transport as one atomic send.
func (s *ServerSession) rawResponse(resp *ResponseHeaders, data []byte) bool {
	var out bytes.Buffer
	resp.Encode(&out)
	out.Write(data)

	s.sendMu.Lock()
	sent := s.tr.Send(out.Bytes())
	s.sendMu.Unlock()

	// A status of 101 indicates that the server switches to another
	// protocol after this message, so subsequent client data must
	// reach the upgraded-stream hook.
	if resp.Status == http.StatusSwitchingProtocols {
		s.upgradeAck.Store(true)
	}

	// If `Connection:` contains `close`, schedule transport shutdown.
	var hparser HeaderParser
	for i := range resp.Headers {
		if !resp.Headers[i].Name.Equals("Connection") {
			continue
		}
		hparser.Reload(resp.Headers[i].Value.AsString())
		for hparser.NextElement() {
			if strings.EqualFold(hparser.CurrentName(), "close") {
				s.tr.ShutDown()
			}
		}
	}

	return sent
}

func (s *ServerSession) checkNotUpgraded() {
	if s.upgradeAck.Load() {
		panic("http1: connection switched to another protocol")
	}
}

// RespondHeadersOnly sends a response consisting of the header block
// alone, e.g. a 101 acknowledging an upgrade.
func (s *ServerSession) RespondHeadersOnly(resp *ResponseHeaders) bool {
	s.checkNotUpgraded()
	return s.rawResponse(resp, nil)
}

// Respond sends a complete response with an implicit `Content-Length`
// header. For 1xx, 204, and 304 responses the length is suppressed;
// for a response to a HEAD request the body is suppressed but the
// length is kept.
func (s *ServerSession) Respond(resp *ResponseHeaders, data []byte, methodWasHead bool) bool {
	s.checkNotUpgraded()

	if resp.Status <= 199 || resp.Status == 204 || resp.Status == 304 {
		return s.rawResponse(resp, nil)
	}

	// Without an explicit length the response would be interpreted
	// as terminating by closure of the connection.
	resp.Add("Content-Length", IntegerValue(int64(len(data))))

	if methodWasHead {
		return s.rawResponse(resp, nil)
	}
	return s.rawResponse(resp, data)
}

// ChunkedRespondStart opens a response with a chunked payload.
func (s *ServerSession) ChunkedRespondStart(resp *ResponseHeaders) bool {
	s.checkNotUpgraded()
	resp.Add("Transfer-Encoding", StringValue("chunked"))
	return s.rawResponse(resp, nil)
}

// ChunkedRespondSend sends one payload chunk. An empty send is a
// no-op, because a zero-length chunk would terminate the payload.
func (s *ServerSession) ChunkedRespondSend(data []byte) bool {
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

// ChunkedRespondFinish terminates a chunked payload.
func (s *ServerSession) ChunkedRespondFinish() bool {
	s.checkNotUpgraded()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.tr.Send([]byte("0\r\n\r\n"))
}

// ShutDownWithStatus sends a default error page for the given status
// and shuts the transport down. After an upgrade it just requests
// shutdown.
func (s *ServerSession) ShutDownWithStatus(status int) bool {
	if s.upgradeAck.Load() {
		return s.tr.ShutDown()
	}

	if status < 200 || status > 599 {
		status = http.StatusBadRequest
	}
	reason := http.StatusText(status)

	resp := ResponseHeaders{Status: status, Reason: reason}
	resp.Add("Content-Type", StringValue("text/html"))
	resp.Add("Connection", StringValue("close"))

	page := fmt.Sprintf("<html><head><title>%d %s</title></head>"+
		"<body><h1>%d %s</h1></body></html>", status, reason, status, reason)

	sent := s.Respond(&resp, []byte(page), false)
	return s.tr.ShutDown() || sent
}
