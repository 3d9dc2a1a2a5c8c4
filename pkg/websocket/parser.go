package websocket

import (
	"crypto/sha1" //gosec:disable G505 // Required by the WebSocket protocol.
	"encoding/base64"
	"encoding/binary"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/tzrikka/poseidon/pkg/buffer"
	"github.com/tzrikka/poseidon/pkg/http1"
)

// Handshake states of a connection.
type handshakeState int

const (
	hsPending handshakeState = iota
	hsClientRequestSent
	hsServerAccepted
	hsClientAccepted
)

// Frame decoder states, orthogonal to the handshake state.
type frameState int

const (
	frameNew frameState = iota
	frameHeaderDone
	framePayloadDone
	frameError
)

// CompressionDisabled turns off the permessage-deflate offer when
// passed as [FrameParserConfig.CompressionLevel].
const CompressionDisabled = -1

// Compression defaults, matching `network.http.default_compression_level`
// and `network.http.max_websocket_message_length`.
const (
	defaultCompressionLevel = 6
	defaultMaxMessageLength = 1048576
)

// FrameParserConfig carries the configuration consumed by a frame
// parser.
type FrameParserConfig struct {
	// CompressionLevel (1-9) is offered for permessage-deflate. Zero
	// selects the default of 6; [CompressionDisabled] suppresses the
	// offer entirely.
	CompressionLevel int

	// MaxMessageLength bounds the decompressed size of one message,
	// in bytes. Zero selects the default of 1 MiB.
	MaxMessageLength int
}

// FrameParser combines the WebSocket opening handshake with an
// incremental decoder for the frames that follow it, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455. Two orthogonal
// sub-states are tracked: the handshake state, advanced by the
// handshake methods, and the frame state, advanced by the two
// ParseFrame* methods and reset per frame with
// [FrameParser.NextFrame].
//
// permessage-deflate (RFC 7692) parameters are negotiated during the
// handshake and are immutable thereafter.
type FrameParser struct {
	compressionLevel int
	maxMessageLength int

	hs      handshakeState
	fs      frameState
	errDesc string

	frmHeader  FrameHeader
	frmPayload buffer.Linear
	payloadRem uint64

	// Header bits of the current message, carried across
	// continuation frames; a fresh non-continuation data frame
	// overwrites them.
	msgFin    bool
	msgRSV1   bool
	msgOpcode Opcode

	// Negotiated PMCE parameters. pmceSendWindowBits != 0 marks the
	// extension as active.
	pmceCompressionLevel      int
	pmceSendNoContextTakeover bool
	pmceSendWindowBits        int
	pmceReceiveWindowBits     int

	// The Sec-WebSocket-Key sent by the client side, kept to verify
	// the accept token echoed by the server.
	keyStr string
}

// NewFrameParser creates a parser with the given configuration.
func NewFrameParser(cfg FrameParserConfig) *FrameParser {
	p := &FrameParser{
		compressionLevel: cfg.CompressionLevel,
		maxMessageLength: cfg.MaxMessageLength,
	}

	switch {
	case p.compressionLevel == 0:
		p.compressionLevel = defaultCompressionLevel
	case p.compressionLevel < 0:
		p.compressionLevel = 0
	case p.compressionLevel > 9:
		p.compressionLevel = 9
	}

	switch {
	case p.maxMessageLength <= 0:
		p.maxMessageLength = defaultMaxMessageLength
	case p.maxMessageLength < 0x100:
		p.maxMessageLength = 0x100
	case p.maxMessageLength > 0x10000000:
		p.maxMessageLength = 0x10000000
	}

	return p
}

// Clear resets the parser completely: frame state, message state,
// handshake state, and negotiated PMCE parameters.
func (p *FrameParser) Clear() {
	cfg := FrameParserConfig{
		CompressionLevel: p.compressionLevel,
		MaxMessageLength: p.maxMessageLength,
	}
	if cfg.CompressionLevel == 0 {
		cfg.CompressionLevel = CompressionDisabled
	}
	*p = *NewFrameParser(cfg)
}

// Error reports whether the parser is in its error state.
func (p *FrameParser) Error() bool { return p.fs == frameError }

// ErrorDescription returns a static description of the wire-format
// violation, suitable as a CLOSE frame reason.
func (p *FrameParser) ErrorDescription() string { return p.errDesc }

// FrameHeaderComplete reports whether the header of the current frame
// has been decoded.
func (p *FrameParser) FrameHeaderComplete() bool {
	return p.fs == frameHeaderDone || p.fs == framePayloadDone
}

// FramePayloadComplete reports whether the payload of the current
// frame has been absorbed.
func (p *FrameParser) FramePayloadComplete() bool { return p.fs == framePayloadDone }

// FrameHeader returns the header of the current frame.
func (p *FrameParser) FrameHeader() *FrameHeader { return &p.frmHeader }

// FramePayload returns the payload of the current frame, unmasked.
func (p *FrameParser) FramePayload() *buffer.Linear { return &p.frmPayload }

// MessageFin reports whether the current data message is complete.
func (p *FrameParser) MessageFin() bool { return p.msgFin }

// MessageRSV1 reports whether the current data message has the RSV1
// bit set on its originating frame, i.e. whether it is compressed.
func (p *FrameParser) MessageRSV1() bool { return p.msgRSV1 }

// MessageOpcode returns the opcode of the current data message,
// carried across continuation frames. It is [OpcodeContinuation]
// before the first data frame. After the final fragment it keeps the
// finished message's opcode until the next frame header is decoded.
func (p *FrameParser) MessageOpcode() Opcode { return p.msgOpcode }

// MaxMessageLength returns the configured message length limit.
func (p *FrameParser) MaxMessageLength() int { return p.maxMessageLength }

// IsServerMode reports whether the handshake completed on the server
// side of the connection.
func (p *FrameParser) IsServerMode() bool { return p.hs == hsServerAccepted }

// Established reports whether the opening handshake has completed in
// either role.
func (p *FrameParser) Established() bool {
	return p.hs == hsServerAccepted || p.hs == hsClientAccepted
}

// PMCEActive reports whether permessage-deflate has been negotiated.
func (p *FrameParser) PMCEActive() bool { return p.pmceSendWindowBits != 0 }

// PMCECompressionLevel returns the negotiated compression level, or 0
// when the extension is inactive.
func (p *FrameParser) PMCECompressionLevel() int { return p.pmceCompressionLevel }

// PMCESendNoContextTakeover reports whether this side has to reset
// its deflate context before every outbound message.
func (p *FrameParser) PMCESendNoContextTakeover() bool { return p.pmceSendNoContextTakeover }

// PMCESendWindowBits returns the LZ77 window size of the sending
// direction, in bits (9-15), or 0 when the extension is inactive.
func (p *FrameParser) PMCESendWindowBits() int { return p.pmceSendWindowBits }

// PMCEReceiveWindowBits returns the LZ77 window size of the receiving
// direction, in bits (9-15), or 0 when the extension is inactive.
func (p *FrameParser) PMCEReceiveWindowBits() int { return p.pmceReceiveWindowBits }

var acceptGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

// acceptKeyValue constructs the value of the "Sec-WebSocket-Accept"
// header, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.2.2.
func acceptKeyValue(key string) string {
	h := sha1.New() //gosec:disable G401 // Required by the WebSocket protocol.
	h.Write([]byte(key))
	h.Write(acceptGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// makeKeyStr derives the 16-byte "Sec-WebSocket-Key" nonce of this
// parser from the process ID and its own address, and encodes it in
// Base64 (24 bytes).
func (p *FrameParser) makeKeyStr() string {
	var src [16]byte
	binary.LittleEndian.PutUint64(src[:8], uint64(os.Getpid()))
	binary.LittleEndian.PutUint64(src[8:], uint64(reflect.ValueOf(p).Pointer()))

	h := sha1.New() //gosec:disable G401 // Not used for cryptographic security.
	h.Write(src[:])
	return base64.StdEncoding.EncodeToString(h.Sum(nil)[:16])
}

// pmceParams holds the four permessage-deflate parameters defined in
// https://datatracker.ietf.org/doc/html/rfc7692#section-7.
type pmceParams struct {
	compressionLevel        int
	serverNoContextTakeover bool
	clientNoContextTakeover bool
	serverMaxWindowBits     int
	clientMaxWindowBits     int
}

// usePermessageDeflate parses the attributes of one
// `permessage-deflate` element. PMCE is accepted only if every
// attribute is known and valid; any unknown attribute rejects the
// extension entirely, leaving the compression level at 0.
func (pm *pmceParams) usePermessageDeflate(hparser *http1.HeaderParser, defaultCompressionLevel int) {
	if pm.compressionLevel != 0 {
		// A previous element has already been accepted.
		return
	}

	if defaultCompressionLevel == 0 {
		return
	}

	// Set default parameters, so in case of errors, we return
	// immediately.
	pm.serverNoContextTakeover = false
	pm.clientNoContextTakeover = false
	pm.serverMaxWindowBits = 15
	pm.clientMaxWindowBits = 15

	for hparser.NextAttribute() {
		switch hparser.CurrentName() {
		case "server_no_context_takeover":
			if !hparser.CurrentValue().IsNull() {
				return
			}

			// States that the server will not reuse a previous LZ77
			// sliding window when compressing a message. Ignored by
			// clients.
			pm.serverNoContextTakeover = true

		case "client_no_context_takeover":
			if !hparser.CurrentValue().IsNull() {
				return
			}

			// States that the client will not reuse a previous LZ77
			// sliding window when compressing a message. Ignored by
			// servers.
			pm.clientNoContextTakeover = true

		case "server_max_window_bits":
			if hparser.CurrentValue().IsNull() {
				continue
			}

			// States the maximum size of the LZ77 sliding window
			// that the server will use, in number of bits.
			value := hparser.CurrentValue().AsInteger()
			if !hparser.CurrentValue().IsInteger() || value < 9 || value > 15 {
				return
			}
			pm.serverMaxWindowBits = int(value)

		case "client_max_window_bits":
			if hparser.CurrentValue().IsNull() {
				continue
			}

			// States the maximum size of the LZ77 sliding window
			// that the client will use, in number of bits.
			value := hparser.CurrentValue().AsInteger()
			if !hparser.CurrentValue().IsInteger() || value < 9 || value > 15 {
				return
			}
			pm.clientMaxWindowBits = int(value)

		default:
			return
		}
	}

	// All parameters have been accepted.
	pm.compressionLevel = defaultCompressionLevel
}

// CreateHandshakeRequest composes the opening handshake request of
// the client side, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.1, and
// advances the handshake state.
func (p *FrameParser) CreateHandshakeRequest(req *http1.RequestHeaders) {
	if p.hs != hsPending && p.hs != hsClientRequestSent {
		panic("websocket: CreateHandshakeRequest must be called at very first")
	}

	req.Clear()
	req.Method = "GET"
	req.Path = "/"
	req.Add("Connection", http1.StringValue("Upgrade"))
	req.Add("Upgrade", http1.StringValue("websocket"))
	req.Add("Sec-WebSocket-Version", http1.IntegerValue(13))

	p.keyStr = p.makeKeyStr()
	req.Add("Sec-WebSocket-Key", http1.StringValue(p.keyStr))

	if p.compressionLevel != 0 {
		req.Add("Sec-WebSocket-Extensions",
			http1.StringValue("permessage-deflate; client_max_window_bits"))
	}

	// Await the response. This cannot fail, so the frame state is
	// not updated.
	p.hs = hsClientRequestSent
}

// AcceptHandshakeRequest validates the opening handshake request of a
// client and composes the matching response, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.2. A CORS
// preflight (OPTIONS) is answered with 204 and an allowlist without
// advancing the handshake. On success the response carries 101 with
// the accept token, PMCE parameters are negotiated, and the parser is
// ready for frames; otherwise the response carries 426 or 400 and the
// parser enters its error state.
func (p *FrameParser) AcceptHandshakeRequest(resp *http1.ResponseHeaders, req *http1.RequestHeaders) {
	if p.hs != hsPending {
		panic("websocket: AcceptHandshakeRequest must be called at very first")
	}

	// Compose a default response, so in case of errors, we return
	// immediately.
	resp.Clear()
	resp.Status = 400
	resp.Add("Connection", http1.StringValue("close"))

	if req.Method == "OPTIONS" {
		// Respond with allowed methods and all CORS headers in RFC 6455.
		resp.Clear()
		resp.Status = 204
		resp.Add("Allow", http1.StringValue("GET"))
		resp.Add("Date", http1.DatetimeValue(time.Now()))
		resp.Add("Access-Control-Allow-Origin", http1.StringValue("*"))
		resp.Add("Access-Control-Allow-Methods", http1.StringValue("GET"))
		resp.Add("Access-Control-Allow-Headers", http1.StringValue(
			"Upgrade, Origin, Sec-WebSocket-Version, Sec-WebSocket-Key, "+
				"Sec-WebSocket-Extensions, Sec-WebSocket-Protocol"))
		return
	}

	p.fs = frameError
	p.errDesc = "handshake request invalid"

	var hparser http1.HeaderParser
	var upgradeOK, connectionOK, versionOK bool
	var keyStr string
	var pmce pmceParams

	for i := range req.Headers {
		hr := &req.Headers[i]
		switch {
		case hr.Name.Equals("Connection"):
			// Connection: Upgrade
			hparser.Reload(hr.Value.AsString())
			for hparser.NextElement() {
				switch {
				case strings.EqualFold(hparser.CurrentName(), "close"):
					return
				case strings.EqualFold(hparser.CurrentName(), "Upgrade"):
					connectionOK = true
				}
			}

		case hr.Name.Equals("Upgrade"):
			// Upgrade: websocket
			if strings.EqualFold(hr.Value.AsString(), "websocket") {
				upgradeOK = true
			}

		case hr.Name.Equals("Sec-WebSocket-Version"):
			// Sec-WebSocket-Version: 13
			if hr.Value.AsString() == "13" {
				versionOK = true
			}

		case hr.Name.Equals("Sec-WebSocket-Key"):
			// Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==
			if len(hr.Value.AsString()) == 24 {
				keyStr = hr.Value.AsString()
			}

		case hr.Name.Equals("Sec-WebSocket-Extensions"):
			// Sec-WebSocket-Extensions: permessage-deflate; client_max_window_bits
			hparser.Reload(hr.Value.AsString())
			for hparser.NextElement() {
				if hparser.CurrentName() == "permessage-deflate" {
					pmce.usePermessageDeflate(&hparser, p.compressionLevel)
				}
			}
		}
	}

	if !upgradeOK || !connectionOK || keyStr == "" {
		// The default `400 Bad Request` response stands.
		return
	}

	if !versionOK {
		// Respond with `426 Upgrade Required` and advertise the
		// supported version, as defined in
		// https://datatracker.ietf.org/doc/html/rfc6455#section-4.2.2.
		resp.Status = 426
		resp.Add("Upgrade", http1.StringValue("websocket"))
		resp.Add("Sec-WebSocket-Version", http1.IntegerValue(13))
		return
	}

	// Compose the response.
	resp.Clear()
	resp.Status = 101
	resp.Add("Connection", http1.StringValue("Upgrade"))
	resp.Add("Upgrade", http1.StringValue("websocket"))
	resp.Add("Date", http1.DatetimeValue(time.Now()))
	resp.Add("Expires", http1.StringValue("0"))
	resp.Add("Sec-WebSocket-Accept", http1.StringValue(acceptKeyValue(keyStr)))

	if pmce.compressionLevel != 0 {
		// If `client_no_context_takeover` is specified, it is echoed
		// back to the client. If negotiation has selected a different
		// window size, notify it. A default size of 15 is not sent
		// back.
		var sb strings.Builder
		sb.WriteString("permessage-deflate")
		if pmce.clientNoContextTakeover {
			sb.WriteString("; client_no_context_takeover")
		}
		if pmce.serverNoContextTakeover {
			sb.WriteString("; server_no_context_takeover")
		}
		if pmce.serverMaxWindowBits != 15 {
			sb.WriteString("; server_max_window_bits=")
			sb.WriteString(strconv.Itoa(pmce.serverMaxWindowBits))
		}
		if pmce.clientMaxWindowBits != 15 {
			sb.WriteString("; client_max_window_bits=")
			sb.WriteString(strconv.Itoa(pmce.clientMaxWindowBits))
		}
		resp.Add("Sec-WebSocket-Extensions", http1.StringValue(sb.String()))

		// Accept PMCE parameters for the server role.
		p.pmceCompressionLevel = pmce.compressionLevel
		p.pmceSendNoContextTakeover = pmce.serverNoContextTakeover
		p.pmceSendWindowBits = pmce.serverMaxWindowBits
		p.pmceReceiveWindowBits = pmce.clientMaxWindowBits
	}

	// For the server, this connection has now been established.
	p.hs = hsServerAccepted
	p.fs = frameNew
	p.errDesc = ""
}

// AcceptHandshakeResponse validates the opening handshake response of
// a server, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.2.2: the
// accept token must match the key sent, `Upgrade: websocket` must be
// present, and `Connection` must not request closure. On success the
// parser adopts any PMCE parameters echoed by the server and is ready
// for frames.
func (p *FrameParser) AcceptHandshakeResponse(resp *http1.ResponseHeaders) {
	if p.hs != hsClientRequestSent {
		panic("websocket: AcceptHandshakeResponse must be called after CreateHandshakeRequest")
	}

	// Set a default state, so in case of errors, we return
	// immediately.
	p.fs = frameError
	p.errDesc = "handshake response invalid"

	var hparser http1.HeaderParser
	var upgradeOK bool
	var acceptStr string
	var pmce pmceParams

	for i := range resp.Headers {
		hr := &resp.Headers[i]
		switch {
		case hr.Name.Equals("Connection"):
			hparser.Reload(hr.Value.AsString())
			for hparser.NextElement() {
				if strings.EqualFold(hparser.CurrentName(), "close") {
					return
				}
			}

		case hr.Name.Equals("Upgrade"):
			if strings.EqualFold(hr.Value.AsString(), "websocket") {
				upgradeOK = true
			}

		case hr.Name.Equals("Sec-WebSocket-Accept"):
			// Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=
			if len(hr.Value.AsString()) == 28 {
				acceptStr = hr.Value.AsString()
			}

		case hr.Name.Equals("Sec-WebSocket-Extensions"):
			hparser.Reload(hr.Value.AsString())
			for hparser.NextElement() {
				if hparser.CurrentName() != "permessage-deflate" {
					// Unknown extension; fail.
					return
				}
				pmce.usePermessageDeflate(&hparser, p.compressionLevel)
			}
		}
	}

	if !upgradeOK || acceptStr == "" {
		return
	}

	// Rebuild the expected accept token from the key sent and
	// compare it.
	if acceptKeyValue(p.keyStr) != acceptStr {
		return
	}

	if pmce.compressionLevel != 0 {
		// Accept PMCE parameters for the client role.
		p.pmceCompressionLevel = pmce.compressionLevel
		p.pmceSendNoContextTakeover = pmce.clientNoContextTakeover
		p.pmceSendWindowBits = pmce.clientMaxWindowBits
		p.pmceReceiveWindowBits = pmce.serverMaxWindowBits
	}

	// For the client, this connection has now been established.
	p.hs = hsClientAccepted
	p.fs = frameNew
	p.errDesc = ""
}

// ParseFrameHeaderFromStream decodes the header of the next frame
// from data. It consumes nothing until the complete header is
// buffered, so it can be called again as more bytes arrive. All
// frame-level invariants are enforced here: client frames must be
// masked, reserved bits must match the negotiated extensions, control
// frames must be final and short, and continuation frames must pair
// with an open data message.
func (p *FrameParser) ParseFrameHeaderFromStream(data *buffer.Linear) {
	if !p.Established() {
		panic("websocket: connection not established or closed")
	}

	if p.fs != frameNew {
		return
	}

	b := data.Data()
	if len(b) < 2 {
		return
	}

	var h FrameHeader
	h.Fin = b[0]&bit0 != 0
	h.RSV1 = b[0]&bit1 != 0
	h.RSV2 = b[0]&bit2 != 0
	h.RSV3 = b[0]&bit3 != 0
	h.Opcode = Opcode(b[0] & bits4to7)
	h.Masked = b[1]&bit0 != 0
	len7 := b[1] & bits1to7

	if p.hs == hsServerAccepted && !h.Masked {
		// RFC 6455 states that clients must mask all frames. It also
		// requires that servers must not mask frames, but we'd be
		// permissive about unnecessary masking.
		p.fs = frameError
		p.errDesc = "clients must mask frames to servers"
		return
	}

	// The message state to commit once the complete header has been
	// buffered. If a previous message has finished, it is forgotten
	// before the next data frame; control frames never touch it.
	msgFin, msgRSV1, msgOpcode := p.msgFin, p.msgRSV1, p.msgOpcode
	if msgFin {
		msgFin = false
		msgRSV1 = false
		msgOpcode = OpcodeContinuation
	}

	anyRSV := h.RSV1 || h.RSV2 || h.RSV3

	switch h.Opcode {
	case OpcodeText, OpcodeBinary:
		if msgOpcode != OpcodeContinuation {
			// The previous message must have terminated.
			p.fs = frameError
			p.errDesc = "continuation frame expected"
			return
		}

		// If PMCE has been negotiated, the RSV1 bit marks a
		// compressed message; all other RSV bits are rejected.
		if h.RSV2 || h.RSV3 || (h.RSV1 && !p.PMCEActive()) {
			p.fs = frameError
			p.errDesc = "invalid RSV bits in data frame"
			return
		}

		msgFin = h.Fin
		msgRSV1 = h.RSV1
		msgOpcode = h.Opcode

	case OpcodeContinuation:
		if anyRSV {
			// RSV bits shall only be set in the first data frame.
			p.fs = frameError
			p.errDesc = "invalid RSV bits in continuation frame"
			return
		}

		if msgOpcode == OpcodeContinuation {
			// A continuation frame must follow a data frame.
			p.fs = frameError
			p.errDesc = "dangling continuation frame"
			return
		}

		// If this is a FIN frame, terminate the current message.
		if h.Fin {
			msgFin = true
		}

	case OpcodeClose, OpcodePing, OpcodePong:
		if anyRSV {
			// RSV bits shall only be set in a data frame.
			p.fs = frameError
			p.errDesc = "invalid RSV bits in control frame"
			return
		}

		if len7 > maxControlPayload {
			// RFC 6455, 5.5. Control Frames: all control frames MUST
			// have a payload length of 125 bytes or less and ...
			p.fs = frameError
			p.errDesc = "control frame length not valid"
			return
		}

		if !h.Fin {
			// ... MUST NOT be fragmented.
			p.fs = frameError
			p.errDesc = "control frame not fragmentable"
			return
		}

	default:
		p.fs = frameError
		p.errDesc = "unknown opcode"
		return
	}

	ntotal := 2
	switch len7 {
	case len16bits:
		ntotal += 2
		if len(b) < ntotal {
			return
		}
		h.PayloadLen = uint64(binary.BigEndian.Uint16(b[ntotal-2:]))
	case len64bits:
		ntotal += 8
		if len(b) < ntotal {
			return
		}
		h.PayloadLen = binary.BigEndian.Uint64(b[ntotal-8:])
	default:
		h.PayloadLen = uint64(len7)
	}

	if h.Masked {
		ntotal += 4
		if len(b) < ntotal {
			return
		}
		h.MaskingKey = binary.BigEndian.Uint32(b[ntotal-4:])
	}

	data.Discard(ntotal)
	p.frmHeader = h
	p.payloadRem = h.PayloadLen
	p.msgFin, p.msgRSV1, p.msgOpcode = msgFin, msgRSV1, msgOpcode
	p.fs = frameHeaderDone
}

// ParseFramePayloadFromStream moves payload bytes from data into the
// frame payload buffer, unmasking in place as they move, until the
// whole payload has been absorbed.
func (p *FrameParser) ParseFramePayloadFromStream(data *buffer.Linear) {
	if !p.Established() {
		panic("websocket: connection not established or closed")
	}

	if p.fs == framePayloadDone || p.fs == frameError {
		return
	}

	if p.fs != frameHeaderDone {
		panic("websocket: frame header not parsed yet")
	}

	navail := uint64(data.Size())
	if navail > p.payloadRem {
		navail = p.payloadRem
	}
	if navail != 0 {
		chunk := data.Data()[:navail]
		p.frmHeader.MaskPayload(chunk)
		p.frmPayload.Put(chunk)
		data.Discard(int(navail))
		p.payloadRem -= navail
	}

	if p.payloadRem != 0 {
		return
	}

	p.fs = framePayloadDone
}

// NextFrame resets the frame state so the next frame can be decoded.
// The message state carried across continuation frames is preserved.
func (p *FrameParser) NextFrame() {
	if p.fs != framePayloadDone {
		return
	}
	p.frmPayload.Clear()
	p.payloadRem = 0
	p.fs = frameNew
}
