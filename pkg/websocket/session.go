package websocket

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tzrikka/poseidon/pkg/buffer"
	"github.com/tzrikka/poseidon/pkg/http1"
)

// Programmer errors reported by [session.Send]. They fail the send
// but leave the connection intact.
var (
	ErrNotUpgraded          = errors.New("websocket: handshake not complete yet")
	ErrUnsupportedOpcode    = errors.New("websocket: opcode not supported for sending")
	ErrControlPayloadTooBig = errors.New("websocket: control frame payload over 125 bytes")
	ErrTransportSend        = errors.New("websocket: transport rejected outgoing frame")
)

// session is the frame-phase state machine shared by the server and
// client sessions: it owns the frame parser, the optional PMCE
// context, and the message assembly buffer, routes completed frames
// to the user hooks, and frames outbound messages.
type session struct {
	tr     http1.Transport
	logger zerolog.Logger
	parser *FrameParser
	pmce   *Deflator

	msg buffer.Linear

	// closureNotified guarantees that OnClose fires exactly once,
	// regardless of whether closure was driven by a peer CLOSE frame,
	// local shutdown, or a transport error.
	closureNotified atomic.Bool
	sendMu          sync.Mutex

	// Client sessions mask outbound frames; server sessions do not.
	maskFrames bool

	// Compression pays off only above a size threshold, which is
	// higher when every message restarts the compression context.
	smallCompressionThreshold int
	largeCompressionThreshold int

	// upgraded defers to the HTTP session owning the handshake phase.
	upgraded func() bool

	// OnMessageDataStream is called after every partial update of a
	// data message, with the assembly buffer. The hook may drain a
	// prefix to stream-process the message.
	OnMessageDataStream func(opcode Opcode, data *buffer.Linear)

	// OnMessageFinish is called with every complete data message,
	// and with the payload of every PING and PONG control frame.
	OnMessageFinish func(opcode Opcode, data []byte)

	// OnClose is called exactly once when the connection closes:
	// with the status and reason of a peer CLOSE frame, with
	// [StatusClosedAbnormally] when the transport fails without one,
	// or with a protocol-error status when parsing fails.
	OnClose func(status StatusCode, reason string)
}

// callOnCloseOnce delivers the close notification if it has not been
// delivered yet, then answers with a CLOSE frame of our own and shuts
// the transport down.
func (s *session) callOnCloseOnce(status StatusCode, reason string) {
	if s.closureNotified.Swap(true) {
		return
	}

	s.logger.Debug().Str("close_status", status.String()).Str("close_reason", reason).
		Msg("WebSocket connection closing")

	if s.OnClose != nil {
		s.OnClose(status, reason)
	}
	s.doShutDown(StatusNormalClosure, "")
}

// feedFrames is the frame loop behind the upgraded-stream hook of the
// HTTP session: it decodes frames from the receive buffer, inflates
// compressed messages, assembles fragments, and dispatches hooks.
func (s *session) feedFrames(data *buffer.Linear, eof bool) {
	for {
		// If something has gone wrong, ignore further incoming data.
		if s.parser.Error() || s.closureNotified.Load() {
			data.Clear()
			return
		}

		if !s.parser.FrameHeaderComplete() {
			s.parser.ParseFrameHeaderFromStream(data)

			if s.parser.Error() {
				data.Clear()
				s.callOnCloseOnce(StatusProtocolError, s.parser.ErrorDescription())
				return
			}

			if !s.parser.FrameHeaderComplete() {
				return
			}

			if op := s.parser.FrameHeader().Opcode; op == OpcodeText || op == OpcodeBinary {
				// A fresh data frame starts a new message.
				s.msg.Clear()
			}
		}

		s.parser.ParseFramePayloadFromStream(data)

		h := s.parser.FrameHeader()
		payload := s.parser.FramePayload()

		if !h.Opcode.IsControl() {
			// A data frame or continuation: its payload is part of a
			// (potentially fragmented) data message, so combine it.
			if !s.absorbMessageData(data, payload) {
				return
			}

			if s.OnMessageDataStream != nil {
				s.OnMessageDataStream(s.parser.MessageOpcode(), &s.msg)
			}
		}

		if !s.parser.FramePayloadComplete() {
			return
		}

		// Handle this frame. Fragmented data frames have already been
		// absorbed above; control frames are processed as a whole.
		if h.Fin {
			switch h.Opcode {
			case OpcodeContinuation, OpcodeText, OpcodeBinary:
				opcode := s.parser.MessageOpcode()
				body := s.msg.Getn(s.msg.Size())
				if s.OnMessageFinish != nil {
					s.OnMessageFinish(opcode, body)
				}

			case OpcodeClose:
				data.Clear()
				status := StatusNotReceived
				body := payload.Getn(payload.Size())
				reason := ""
				if len(body) >= 2 {
					status = StatusCode(binary.BigEndian.Uint16(body))
					reason = string(body[2:])
				}
				s.callOnCloseOnce(status, reason)
				return

			case OpcodePing:
				body := payload.Getn(payload.Size())
				s.logger.Trace().Int("length", len(body)).Msg("WebSocket PING")
				if s.OnMessageFinish != nil {
					s.OnMessageFinish(OpcodePing, body)
				}

				// A PONG echoes the payload of the PING.
				s.sendRawFrame(true, false, OpcodePong, body)

			case OpcodePong:
				body := payload.Getn(payload.Size())
				s.logger.Trace().Int("length", len(body)).Msg("WebSocket PONG")
				if s.OnMessageFinish != nil {
					s.OnMessageFinish(OpcodePong, body)
				}
			}
		}

		s.parser.NextFrame()
	}
}

// absorbMessageData moves the accumulated payload of the current data
// frame into the message assembly buffer, routing it through the
// inflater when the message is compressed. It returns false when the
// connection has been failed.
func (s *session) absorbMessageData(data *buffer.Linear, payload *buffer.Linear) bool {
	if s.parser.MessageRSV1() {
		if s.pmce == nil {
			data.Clear()
			s.callOnCloseOnce(StatusInternalError, "PMCE not initialized")
			return false
		}

		if err := s.pmce.InflateMessageStream(payload.Data(), s.parser.MaxMessageLength()); err != nil {
			data.Clear()
			s.failInflate(err)
			return false
		}
		payload.Clear()

		if s.parser.FramePayloadComplete() && s.parser.MessageFin() {
			out, err := s.pmce.InflateMessageFinish(s.parser.MaxMessageLength())
			if err != nil {
				data.Clear()
				s.failInflate(err)
				return false
			}
			s.msg.Put(out)
		}
		return true
	}

	s.msg.Put(payload.Data())
	payload.Clear()

	if s.msg.Size() > s.parser.MaxMessageLength() {
		data.Clear()
		s.callOnCloseOnce(StatusMessageTooBig, "message length limit exceeded")
		return false
	}
	return true
}

func (s *session) failInflate(err error) {
	s.logger.Error().Err(err).Msg("failed to decompress WebSocket message")
	if errors.Is(err, ErrMessageTooLarge) {
		s.callOnCloseOnce(StatusMessageTooBig, "message length limit exceeded")
		return
	}
	s.callOnCloseOnce(StatusInternalError, "unexpected error")
}

// sendRawFrame composes a single frame and queues it on the transport
// as one atomic send. Client frames are masked with a random 31-bit
// key; server frames are not masked.
func (s *session) sendRawFrame(fin, rsv1 bool, opcode Opcode, payload []byte) bool {
	h := FrameHeader{
		Fin:        fin,
		RSV1:       rsv1,
		Opcode:     opcode,
		PayloadLen: uint64(len(payload)),
	}

	if s.maskFrames {
		var key [4]byte
		if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
			s.logger.Error().Err(err).Msg("failed to generate masking key")
			return false
		}
		h.Masked = true
		// A random 31-bit key; bit 7 is forced so it is never zero.
		h.MaskingKey = binary.BigEndian.Uint32(key[:])&0x7fffffff | 0x80
	}

	var out bytes.Buffer
	h.Encode(&out)
	if s.maskFrames {
		masked := make([]byte, len(payload))
		copy(masked, payload)
		h.MaskPayload(masked)
		out.Write(masked)
	} else {
		out.Write(payload)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.tr.Send(out.Bytes())
}

// Send transmits one message. TEXT and BINARY messages are compressed
// when permessage-deflate is active and the payload is large enough
// for compression to pay off; if compression fails, the deflate
// context is reset and the message goes out uncompressed, so the
// stream is never corrupted. PING and PONG payloads are limited to
// 125 bytes. Any other opcode is a programmer error.
func (s *session) Send(opcode Opcode, data []byte) error {
	if !s.upgraded() {
		return ErrNotUpgraded
	}

	switch opcode {
	case OpcodeText, OpcodeBinary:
		if s.pmce != nil {
			threshold := s.smallCompressionThreshold
			if s.parser.PMCESendNoContextTakeover() {
				threshold = s.largeCompressionThreshold
			}

			if len(data) >= threshold {
				out, err := s.pmce.CompressMessage(data, s.parser.PMCESendNoContextTakeover())
				if err == nil {
					if !s.sendRawFrame(true, true, opcode, out) {
						return ErrTransportSend
					}
					return nil
				}

				// The deflator is left in an indeterminate state, so
				// reset it and send the message uncompressed.
				s.logger.Error().Err(err).Msg("could not compress message")
				s.pmce.DeflateReset()
			}
		}

		if !s.sendRawFrame(true, false, opcode, data) {
			return ErrTransportSend
		}
		return nil

	case OpcodePing, OpcodePong:
		if len(data) > maxControlPayload {
			return fmt.Errorf("%w: %d", ErrControlPayloadTooBig, len(data))
		}

		// Control messages can't be compressed, so send as is.
		if !s.sendRawFrame(true, false, opcode, data) {
			return ErrTransportSend
		}
		return nil

	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedOpcode, opcode)
	}
}

// ShutDown emits a CLOSE frame carrying the status and a truncated
// reason, then requests transport shutdown. Before the upgrade it
// just shuts the transport down. It is idempotent.
func (s *session) ShutDown(status StatusCode, reason string) bool {
	return s.doShutDown(status, reason)
}

func (s *session) doShutDown(status StatusCode, reason string) bool {
	if !s.upgraded() {
		return s.tr.ShutDown()
	}

	// A control frame shall not be fragmented, so the reason has to
	// be truncated if it's too long.
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}

	body := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(body, uint16(status))
	copy(body[2:], reason)

	sent := s.sendRawFrame(true, false, OpcodeClose, body)
	return s.tr.ShutDown() || sent
}

// TransportClosed is called by the I/O layer when the connection goes
// away, with the system error number that killed it (0 for a clean
// EOF). It delivers the close notification if a CLOSE frame never
// did.
func (s *session) TransportClosed(errno int) {
	if !s.upgraded() {
		return
	}

	s.logger.Debug().Int("errno", errno).Msg("WebSocket transport closed")
	s.callOnCloseOnce(StatusClosedAbnormally, "no CLOSE frame received")
}
