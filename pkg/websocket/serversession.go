package websocket

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tzrikka/poseidon/pkg/buffer"
	"github.com/tzrikka/poseidon/pkg/http1"
)

// ServerSession is the server side of one WebSocket connection. It
// starts its life as an HTTP server session; the first request runs
// the handshake validator and answers synchronously with 101 (or an
// error status), then all further inbound bytes are routed to the
// frame parser.
//
// Hooks fire on the feeding goroutine in byte-stream order. The send
// API may be called from hooks and from other goroutines.
type ServerSession struct {
	session
	httpSession *http1.ServerSession
	authorize   func(req *http1.RequestHeaders) bool

	// OnAccepted is called once the handshake has completed, with
	// the request target of the client.
	OnAccepted func(uri string)
}

// ServerSessionConfig carries construction options for a server-side
// WebSocket session.
type ServerSessionConfig struct {
	Logger zerolog.Logger

	// CompressionLevel (1-9) is accepted for permessage-deflate.
	// Zero selects the default of 6; [CompressionDisabled] rejects
	// the extension.
	CompressionLevel int

	// MaxMessageLength bounds the decompressed size of one inbound
	// message, in bytes. Zero selects the default of 1 MiB.
	MaxMessageLength int

	// MaxContentLength bounds request payload accumulation during
	// the handshake phase, in bytes. Zero selects the default of
	// 1 MiB.
	MaxContentLength int

	// Authorize, when set, vets the handshake request before it is
	// accepted. A false return rejects the handshake with 401.
	Authorize func(req *http1.RequestHeaders) bool
}

// NewServerSession creates a server session over the given transport.
// The I/O layer feeds inbound bytes through [ServerSession.Feed].
func NewServerSession(tr http1.Transport, cfg ServerSessionConfig) *ServerSession {
	s := &ServerSession{}
	s.tr = tr
	s.logger = cfg.Logger
	s.parser = NewFrameParser(FrameParserConfig{
		CompressionLevel: cfg.CompressionLevel,
		MaxMessageLength: cfg.MaxMessageLength,
	})
	s.maskFrames = false
	s.smallCompressionThreshold = 16
	s.largeCompressionThreshold = 1040
	s.authorize = cfg.Authorize

	hs := http1.NewServerSession(tr, http1.ServerSessionConfig{
		Logger:           cfg.Logger,
		MaxContentLength: cfg.MaxContentLength,
	})
	hs.OnRequestHeaders = s.onRequestHeaders
	hs.OnRequestPayloadStream = func(data *buffer.Linear) { data.Clear() }
	hs.OnRequestError = s.onRequestError
	hs.OnUpgradedStream = s.feedFrames
	s.httpSession = hs
	s.upgraded = hs.Upgraded

	return s
}

// Feed consumes inbound bytes from the transport.
func (s *ServerSession) Feed(data *buffer.Linear, eof bool) {
	s.httpSession.Feed(data, eof)
}

// onRequestHeaders runs the handshake for the first HTTP request.
func (s *ServerSession) onRequestHeaders(req *http1.RequestHeaders, closeAfterPayload bool) http1.PayloadType {
	s.completeHandshake(req, closeAfterPayload)
	return http1.PayloadNormal
}

// onRequestError reports a malformed handshake request. This error
// can be answered synchronously, because nothing else is pipelined
// before a WebSocket upgrade.
func (s *ServerSession) onRequestError(status int) {
	resp := http1.ResponseHeaders{Status: status}
	resp.Add("Connection", http1.StringValue("close"))
	s.httpSession.RespondHeadersOnly(&resp)

	s.callOnCloseOnce(StatusClosedAbnormally, "handshake rejected by HTTP error")
}

func (s *ServerSession) completeHandshake(req *http1.RequestHeaders, closeAfterPayload bool) {
	if req.IsProxy {
		// Reject proxy requests.
		s.onRequestError(http.StatusForbidden)
		return
	}

	if s.authorize != nil && !s.authorize(req) {
		s.onRequestError(http.StatusUnauthorized)
		return
	}

	// Send the handshake response.
	var resp http1.ResponseHeaders
	s.parser.AcceptHandshakeRequest(&resp, req)
	s.httpSession.RespondHeadersOnly(&resp)

	if req.Method == http.MethodOptions {
		// A CORS preflight leaves the handshake pending.
		return
	}

	if closeAfterPayload || !s.parser.IsServerMode() {
		// The handshake failed.
		s.callOnCloseOnce(StatusProtocolError, s.parser.ErrorDescription())
		return
	}

	// Initialize extensions.
	if s.parser.PMCEActive() {
		s.pmce = NewDeflator(s.parser)
	}

	uri := req.Host + req.Path
	if req.Query != "" {
		uri += "?" + req.Query
	}
	s.logger.Debug().Str("uri", uri).Msg("accepted WebSocket connection")
	if s.OnAccepted != nil {
		s.OnAccepted(uri)
	}
}
