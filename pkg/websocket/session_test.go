package websocket

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/tzrikka/poseidon/pkg/buffer"
)

// fakeTransport records queued bytes and shutdown requests.
type fakeTransport struct {
	sent     bytes.Buffer
	shutdown bool
}

func (t *fakeTransport) Send(data []byte) bool {
	t.sent.Write(data)
	return true
}

func (t *fakeTransport) ShutDown() bool {
	t.shutdown = true
	return true
}

const handshakeWire = "GET /chat HTTP/1.1\r\n" +
	"Host: server.example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n" +
	"\r\n"

// newAcceptedServer runs the sample handshake against a fresh server
// session and returns it upgraded and ready for frames.
func newAcceptedServer(t *testing.T, cfg ServerSessionConfig) (*ServerSession, *fakeTransport) {
	t.Helper()

	tr := &fakeTransport{}
	s := NewServerSession(tr, cfg)

	var buf buffer.Linear
	buf.PutString(handshakeWire)
	s.Feed(&buf, false)

	wire := tr.sent.String()
	if !strings.Contains(wire, "101 Switching Protocols") {
		t.Fatalf("handshake response = %q", wire)
	}
	tr.sent.Reset()
	return s, tr
}

// clientFrame composes one masked frame as a client would send it.
func clientFrame(fin, rsv1 bool, op Opcode, payload []byte, key uint32) []byte {
	h := FrameHeader{
		Fin: fin, RSV1: rsv1, Opcode: op,
		Masked: true, PayloadLen: uint64(len(payload)), MaskingKey: key,
	}
	var out bytes.Buffer
	h.Encode(&out)

	masked := append([]byte(nil), payload...)
	h.MaskPayload(masked)
	out.Write(masked)
	return out.Bytes()
}

func TestServerHandshakeScenario(t *testing.T) {
	tr := &fakeTransport{}
	s := NewServerSession(tr, ServerSessionConfig{})

	accepted := ""
	s.OnAccepted = func(uri string) { accepted = uri }

	var buf buffer.Linear
	buf.PutString(handshakeWire)
	s.Feed(&buf, false)

	wire := tr.sent.String()
	if !strings.HasPrefix(wire, "HTTP/1.1 101 Switching Protocols\r\n") {
		t.Errorf("handshake response = %q", wire)
	}
	if !strings.Contains(wire, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=") {
		t.Errorf("wrong accept token in %q", wire)
	}
	if accepted != "server.example.com/chat" {
		t.Errorf("OnAccepted uri = %q", accepted)
	}
	if tr.shutdown {
		t.Error("transport shut down after a successful handshake")
	}
}

func TestServerHandshakeRejected(t *testing.T) {
	tr := &fakeTransport{}
	s := NewServerSession(tr, ServerSessionConfig{})

	closed := 0
	s.OnClose = func(status StatusCode, reason string) { closed++ }

	var buf buffer.Linear
	buf.PutString("GET /chat HTTP/1.1\r\nHost: h\r\n\r\n")
	s.Feed(&buf, false)

	wire := tr.sent.String()
	if !strings.Contains(wire, "400") {
		t.Errorf("handshake response = %q", wire)
	}
	if closed != 1 {
		t.Errorf("OnClose fired %d times, want 1", closed)
	}
	if !tr.shutdown {
		t.Error("transport not shut down after a failed handshake")
	}
}

// send(TEXT, "Hello") from the server must emit exactly
// 81 05 48 65 6c 6c 6f.
func TestServerSendUnmaskedText(t *testing.T) {
	s, tr := newAcceptedServer(t, ServerSessionConfig{CompressionLevel: CompressionDisabled})

	if err := s.Send(OpcodeText, []byte("Hello")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	want := []byte{0x81, 0x05, 0x48, 0x65, 0x6c, 0x6c, 0x6f}
	if !bytes.Equal(tr.sent.Bytes(), want) {
		t.Errorf("Send(TEXT, Hello) = %x, want %x", tr.sent.Bytes(), want)
	}
}

// A client with masking key 37 fa 21 3d sending "Hello" produces
// 81 85 37 fa 21 3d 7f 9f 4d 51 58.
func TestClientMaskedTextVector(t *testing.T) {
	got := clientFrame(true, false, OpcodeText, []byte("Hello"), 0x37fa213d)
	want := []byte{0x81, 0x85, 0x37, 0xfa, 0x21, 0x3d, 0x7f, 0x9f, 0x4d, 0x51, 0x58}
	if !bytes.Equal(got, want) {
		t.Errorf("masked frame = %x, want %x", got, want)
	}
}

func TestServerReceiveFragmentedText(t *testing.T) {
	s, _ := newAcceptedServer(t, ServerSessionConfig{})

	var messages []string
	var opcodes []Opcode
	s.OnMessageFinish = func(op Opcode, data []byte) {
		opcodes = append(opcodes, op)
		messages = append(messages, string(data))
	}

	// "Hel" non-FIN + "lo" FIN-CONTINUATION, masked as a client must.
	var buf buffer.Linear
	buf.Put(clientFrame(false, false, OpcodeText, []byte("Hel"), 0x11223344))
	buf.Put(clientFrame(true, false, OpcodeContinuation, []byte("lo"), 0x55667788))
	s.Feed(&buf, false)

	if len(messages) != 1 || messages[0] != "Hello" {
		t.Fatalf("messages = %q, want [Hello]", messages)
	}
	if opcodes[0] != OpcodeText {
		t.Errorf("opcode = %v, want text", opcodes[0])
	}
}

func TestServerReceivePingSendsPong(t *testing.T) {
	s, tr := newAcceptedServer(t, ServerSessionConfig{})

	var pings []string
	s.OnMessageFinish = func(op Opcode, data []byte) {
		if op == OpcodePing {
			pings = append(pings, string(data))
		}
	}

	var buf buffer.Linear
	buf.Put(clientFrame(true, false, OpcodePing, []byte("alive?"), 0xabadcafe))
	s.Feed(&buf, false)

	if len(pings) != 1 || pings[0] != "alive?" {
		t.Fatalf("ping payloads = %q", pings)
	}

	want := append([]byte{0x8a, 0x06}, "alive?"...)
	if !bytes.Equal(tr.sent.Bytes(), want) {
		t.Errorf("PONG = %x, want %x", tr.sent.Bytes(), want)
	}
}

// shut_down(1000, "") emits the frame 88 02 03 e8 and the peer
// delivers on_close exactly once before the transport closes.
func TestServerShutDownCloseFrame(t *testing.T) {
	s, tr := newAcceptedServer(t, ServerSessionConfig{})

	if !s.ShutDown(StatusNormalClosure, "") {
		t.Fatal("ShutDown() = false")
	}

	want := []byte{0x88, 0x02, 0x03, 0xe8}
	if !bytes.Equal(tr.sent.Bytes(), want) {
		t.Errorf("CLOSE frame = %x, want %x", tr.sent.Bytes(), want)
	}
	if !tr.shutdown {
		t.Error("transport not shut down")
	}
}

func TestServerReceiveCloseExactlyOnce(t *testing.T) {
	s, tr := newAcceptedServer(t, ServerSessionConfig{})

	var statuses []StatusCode
	var reasons []string
	s.OnClose = func(status StatusCode, reason string) {
		statuses = append(statuses, status)
		reasons = append(reasons, reason)
	}

	payload := make([]byte, 2+7)
	binary.BigEndian.PutUint16(payload, uint16(StatusGoingAway))
	copy(payload[2:], "bye now")

	var buf buffer.Linear
	buf.Put(clientFrame(true, false, OpcodeClose, payload, 0x0badf00d))
	s.Feed(&buf, false)

	// A transport-closed notification afterwards must not re-fire.
	s.TransportClosed(0)

	if len(statuses) != 1 || statuses[0] != StatusGoingAway || reasons[0] != "bye now" {
		t.Fatalf("OnClose calls = %v %q", statuses, reasons)
	}
	if !tr.shutdown {
		t.Error("transport not shut down after peer CLOSE")
	}
	if tr.sent.Len() == 0 || tr.sent.Bytes()[0] != 0x88 {
		t.Errorf("no CLOSE frame echoed: %x", tr.sent.Bytes())
	}
}

func TestServerCloseWithoutStatusCode(t *testing.T) {
	s, _ := newAcceptedServer(t, ServerSessionConfig{})

	var status StatusCode = 0
	s.OnClose = func(st StatusCode, reason string) { status = st }

	var buf buffer.Linear
	buf.Put(clientFrame(true, false, OpcodeClose, nil, 0x12345678))
	s.Feed(&buf, false)

	if status != StatusNotReceived {
		t.Errorf("OnClose status = %v, want %v", status, StatusNotReceived)
	}
}

func TestServerProtocolErrorCloses(t *testing.T) {
	s, tr := newAcceptedServer(t, ServerSessionConfig{})

	var status StatusCode
	var reason string
	s.OnClose = func(st StatusCode, rs string) { status, reason = st, rs }

	// An unmasked client frame is a protocol violation.
	var buf buffer.Linear
	buf.Put([]byte{0x81, 0x05, 'H', 'e', 'l', 'l', 'o'})
	s.Feed(&buf, false)

	if status != StatusProtocolError {
		t.Errorf("OnClose status = %v, want protocol error", status)
	}
	if reason != "clients must mask frames to servers" {
		t.Errorf("OnClose reason = %q", reason)
	}
	if !tr.shutdown {
		t.Error("transport not shut down")
	}
}

func TestServerTransportClosedDeliversClose(t *testing.T) {
	s, _ := newAcceptedServer(t, ServerSessionConfig{})

	calls := 0
	var status StatusCode
	s.OnClose = func(st StatusCode, reason string) { calls++; status = st }

	s.TransportClosed(104)
	s.TransportClosed(104)

	if calls != 1 || status != StatusClosedAbnormally {
		t.Errorf("OnClose calls = %d, status = %v", calls, status)
	}
}

func TestServerSendProgrammerErrors(t *testing.T) {
	s, tr := newAcceptedServer(t, ServerSessionConfig{})
	tr.sent.Reset()

	if err := s.Send(OpcodePing, make([]byte, 126)); !errors.Is(err, ErrControlPayloadTooBig) {
		t.Errorf("oversized PING error = %v, want ErrControlPayloadTooBig", err)
	}
	if err := s.Send(OpcodeClose, nil); !errors.Is(err, ErrUnsupportedOpcode) {
		t.Errorf("Send(CLOSE) error = %v, want ErrUnsupportedOpcode", err)
	}

	// The connection stays intact.
	if tr.shutdown {
		t.Error("programmer error shut the connection down")
	}
	if err := s.Send(OpcodeText, []byte("still alive")); err != nil {
		t.Errorf("Send() after programmer error = %v", err)
	}
}

func TestSendBeforeUpgradeFails(t *testing.T) {
	tr := &fakeTransport{}
	s := NewServerSession(tr, ServerSessionConfig{})

	if err := s.Send(OpcodeText, []byte("x")); !errors.Is(err, ErrNotUpgraded) {
		t.Errorf("Send() before upgrade = %v, want ErrNotUpgraded", err)
	}
}

const pmceHandshakeWire = "GET /chat HTTP/1.1\r\n" +
	"Host: server.example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n" +
	"Sec-WebSocket-Extensions: permessage-deflate; client_max_window_bits\r\n" +
	"\r\n"

func newCompressedServer(t *testing.T) (*ServerSession, *fakeTransport) {
	t.Helper()

	tr := &fakeTransport{}
	s := NewServerSession(tr, ServerSessionConfig{})

	var buf buffer.Linear
	buf.PutString(pmceHandshakeWire)
	s.Feed(&buf, false)

	if !strings.Contains(tr.sent.String(), "Sec-WebSocket-Extensions: permessage-deflate") {
		t.Fatalf("PMCE not negotiated: %q", tr.sent.String())
	}
	tr.sent.Reset()
	return s, tr
}

func TestServerReceiveCompressedMessage(t *testing.T) {
	s, _ := newCompressedServer(t)

	var messages []string
	s.OnMessageFinish = func(op Opcode, data []byte) {
		messages = append(messages, string(data))
	}

	// Compress a message the way a client would.
	client := NewDeflator(newEstablishedParser(false, true))
	msg := []byte(strings.Repeat("compressed payload ", 10))
	compressed, err := client.CompressMessage(msg, false)
	if err != nil {
		t.Fatalf("CompressMessage() error = %v", err)
	}

	var buf buffer.Linear
	buf.Put(clientFrame(true, true, OpcodeText, compressed, 0xfeedface))
	s.Feed(&buf, false)

	if len(messages) != 1 || messages[0] != string(msg) {
		t.Fatalf("messages = %d, want the decompressed payload", len(messages))
	}
}

func TestServerSendCompressesLargeMessages(t *testing.T) {
	s, tr := newCompressedServer(t)

	msg := []byte(strings.Repeat("squeeze me ", 100))
	if err := s.Send(OpcodeText, msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	out := tr.sent.Bytes()
	if out[0] != 0xc1 {
		t.Fatalf("first byte = %#x, want 0xc1 (FIN+RSV1+TEXT)", out[0])
	}
	if tr.sent.Len() >= len(msg) {
		t.Errorf("compressed frame (%d bytes) not smaller than message (%d bytes)",
			tr.sent.Len(), len(msg))
	}

	// Tiny messages stay uncompressed.
	tr.sent.Reset()
	if err := s.Send(OpcodeText, []byte("hi")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := tr.sent.Bytes()[0]; got != 0x81 {
		t.Errorf("tiny message first byte = %#x, want 0x81", got)
	}
}

func TestServerRSV1WithoutNegotiationFails(t *testing.T) {
	s, _ := newAcceptedServer(t, ServerSessionConfig{})

	var status StatusCode
	s.OnClose = func(st StatusCode, reason string) { status = st }

	var buf buffer.Linear
	buf.Put(clientFrame(true, true, OpcodeText, []byte("x"), 0x01020304))
	s.Feed(&buf, false)

	if status != StatusProtocolError {
		t.Errorf("OnClose status = %v, want protocol error", status)
	}
}

func TestServerMessageTooBig(t *testing.T) {
	s, _ := newAcceptedServer(t, ServerSessionConfig{MaxMessageLength: 256})

	var status StatusCode
	s.OnClose = func(st StatusCode, reason string) { status = st }

	var buf buffer.Linear
	buf.Put(clientFrame(true, false, OpcodeBinary, make([]byte, 512), 0x01020304))
	s.Feed(&buf, false)

	if status != StatusMessageTooBig {
		t.Errorf("OnClose status = %v, want message too big", status)
	}
}

func TestClientSessionHandshakeAndEcho(t *testing.T) {
	// Wire a client session and a server session back to back through
	// in-memory transports.
	clientTr := &fakeTransport{}
	client := NewClientSession(clientTr, ClientSessionConfig{
		Host: "server.example.com",
		Path: "/chat",
	})

	serverTr := &fakeTransport{}
	server := NewServerSession(serverTr, ServerSessionConfig{})

	var serverGot []string
	server.OnMessageFinish = func(op Opcode, data []byte) {
		if op == OpcodeText {
			serverGot = append(serverGot, string(data))
			server.Send(OpcodeText, data)
		}
	}

	var clientGot []string
	connected := false
	client.OnConnected = func() { connected = true }
	client.OnMessageFinish = func(op Opcode, data []byte) {
		if op == OpcodeText {
			clientGot = append(clientGot, string(data))
		}
	}

	// Handshake request travels client -> server.
	if !client.Connect() {
		t.Fatal("Connect() = false")
	}
	var buf buffer.Linear
	buf.Put(clientTr.sent.Bytes())
	clientTr.sent.Reset()
	server.Feed(&buf, false)

	// Response travels server -> client.
	buf.Clear()
	buf.Put(serverTr.sent.Bytes())
	serverTr.sent.Reset()
	client.Feed(&buf, false)

	if !connected {
		t.Fatal("client OnConnected never fired")
	}

	// A text message travels client -> server and echoes back.
	if err := client.Send(OpcodeText, []byte("round trip")); err != nil {
		t.Fatalf("client Send() error = %v", err)
	}
	buf.Clear()
	buf.Put(clientTr.sent.Bytes())
	clientTr.sent.Reset()
	server.Feed(&buf, false)

	if len(serverGot) != 1 || serverGot[0] != "round trip" {
		t.Fatalf("server messages = %q", serverGot)
	}

	buf.Clear()
	buf.Put(serverTr.sent.Bytes())
	serverTr.sent.Reset()
	client.Feed(&buf, false)

	if len(clientGot) != 1 || clientGot[0] != "round trip" {
		t.Fatalf("client messages = %q", clientGot)
	}
}

func TestClientSessionRejectsBadHandshake(t *testing.T) {
	tr := &fakeTransport{}
	client := NewClientSession(tr, ClientSessionConfig{Host: "h"})

	var status StatusCode
	closed := 0
	client.OnClose = func(st StatusCode, reason string) { closed++; status = st }

	client.Connect()

	var buf buffer.Linear
	buf.PutString("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	client.Feed(&buf, false)

	if closed != 1 || status != StatusProtocolError {
		t.Errorf("OnClose calls = %d, status = %v", closed, status)
	}
	if !tr.shutdown {
		t.Error("transport not shut down after a failed handshake")
	}
}
