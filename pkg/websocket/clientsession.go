package websocket

import (
	"github.com/rs/zerolog"

	"github.com/tzrikka/poseidon/pkg/buffer"
	"github.com/tzrikka/poseidon/pkg/http1"
)

// ClientSession is the client side of one WebSocket connection. The
// handshake request is issued by [ClientSession.Connect] once the
// transport is up; the 101 response is consumed by the underlying
// HTTP client session, after which all inbound bytes are routed to
// the frame parser.
type ClientSession struct {
	session
	httpSession *http1.ClientSession

	path  string
	query string

	// OnConnected is called once the server has accepted the
	// handshake and frames may be sent.
	OnConnected func()
}

// ClientSessionConfig carries construction options for a client-side
// WebSocket session.
type ClientSessionConfig struct {
	Logger zerolog.Logger

	// Host is sent as the `Host` header of the handshake request.
	Host string

	// Path and Query form the request target of the handshake.
	// An empty path defaults to "/".
	Path  string
	Query string

	// CompressionLevel (1-9) is offered for permessage-deflate.
	// Zero selects the default of 6; [CompressionDisabled] suppresses
	// the offer.
	CompressionLevel int

	// MaxMessageLength bounds the decompressed size of one inbound
	// message, in bytes. Zero selects the default of 1 MiB.
	MaxMessageLength int

	// MaxContentLength bounds response payload accumulation during
	// the handshake phase, in bytes. Zero selects the default of
	// 1 MiB.
	MaxContentLength int
}

// NewClientSession creates a client session over the given transport.
// The I/O layer feeds inbound bytes through [ClientSession.Feed] and
// calls [ClientSession.Connect] once the connection is established.
func NewClientSession(tr http1.Transport, cfg ClientSessionConfig) *ClientSession {
	s := &ClientSession{path: cfg.Path, query: cfg.Query}
	s.tr = tr
	s.logger = cfg.Logger
	s.parser = NewFrameParser(FrameParserConfig{
		CompressionLevel: cfg.CompressionLevel,
		MaxMessageLength: cfg.MaxMessageLength,
	})
	s.maskFrames = true
	s.smallCompressionThreshold = 64
	s.largeCompressionThreshold = 1024

	hs := http1.NewClientSession(tr, http1.ClientSessionConfig{
		Logger:           cfg.Logger,
		DefaultHost:      cfg.Host,
		MaxContentLength: cfg.MaxContentLength,
	})
	hs.OnResponsePayloadStream = func(data *buffer.Linear) { data.Clear() }
	hs.OnResponseFinish = s.onResponseFinish
	hs.OnUpgradedStream = s.feedFrames
	s.httpSession = hs
	s.upgraded = func() bool { return hs.Upgraded() && s.parser.Established() }

	return s
}

// Connect composes and sends the opening handshake request. The I/O
// layer calls it once the transport is connected.
func (s *ClientSession) Connect() bool {
	var req http1.RequestHeaders
	s.parser.CreateHandshakeRequest(&req)
	req.Path = s.path
	if req.Path == "" {
		req.Path = "/"
	}
	req.Query = s.query
	return s.httpSession.Request(&req, nil)
}

// Feed consumes inbound bytes from the transport.
func (s *ClientSession) Feed(data *buffer.Linear, eof bool) {
	s.httpSession.Feed(data, eof)
}

// onResponseFinish accepts the handshake response.
func (s *ClientSession) onResponseFinish(resp *http1.ResponseHeaders, _ *buffer.Linear, _ bool) {
	s.parser.AcceptHandshakeResponse(resp)

	if !s.parser.Established() {
		// The handshake failed.
		s.callOnCloseOnce(StatusProtocolError, s.parser.ErrorDescription())
		return
	}

	// Initialize extensions.
	if s.parser.PMCEActive() {
		s.pmce = NewDeflator(s.parser)
	}

	s.logger.Debug().Msg("WebSocket connection established")
	if s.OnConnected != nil {
		s.OnConnected()
	}
}
