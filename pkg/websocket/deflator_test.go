package websocket

import (
	"bytes"
	"strings"
	"testing"
)

func newTestDeflator(t *testing.T) *Deflator {
	t.Helper()
	return NewDeflator(newEstablishedParser(true, true))
}

func TestDeflatorRoundTrip(t *testing.T) {
	d := newTestDeflator(t)
	msg := []byte("Hello, compressed world! Hello, compressed world!")

	compressed, err := d.CompressMessage(msg, false)
	if err != nil {
		t.Fatalf("CompressMessage() error = %v", err)
	}
	if bytes.HasSuffix(compressed, syncFlushTrailer) {
		t.Error("sync-flush trailer not stripped from the wire payload")
	}

	if err := d.InflateMessageStream(compressed, 1<<20); err != nil {
		t.Fatalf("InflateMessageStream() error = %v", err)
	}
	out, err := d.InflateMessageFinish(1 << 20)
	if err != nil {
		t.Fatalf("InflateMessageFinish() error = %v", err)
	}

	if !bytes.Equal(out, msg) {
		t.Errorf("inflate(deflate(msg)) = %q, want %q", out, msg)
	}
}

// With context takeover, later messages reference the LZ77 window of
// earlier ones; both directions must keep working across messages.
func TestDeflatorContextTakeover(t *testing.T) {
	d := newTestDeflator(t)

	msgs := [][]byte{
		[]byte("a shared phrase that repeats across messages"),
		[]byte("a shared phrase that repeats across messages, again"),
		[]byte("a shared phrase that repeats across messages, and again"),
	}

	var sizes []int
	for i, msg := range msgs {
		compressed, err := d.CompressMessage(msg, false)
		if err != nil {
			t.Fatalf("message %d: CompressMessage() error = %v", i, err)
		}
		sizes = append(sizes, len(compressed))

		if err := d.InflateMessageStream(compressed, 1<<20); err != nil {
			t.Fatalf("message %d: InflateMessageStream() error = %v", i, err)
		}
		out, err := d.InflateMessageFinish(1 << 20)
		if err != nil {
			t.Fatalf("message %d: InflateMessageFinish() error = %v", i, err)
		}
		if !bytes.Equal(out, msg) {
			t.Errorf("message %d: round trip = %q, want %q", i, out, msg)
		}
	}

	// The repeated phrase must compress much better once the window
	// carries it.
	if sizes[1] >= sizes[0] {
		t.Errorf("context takeover did not help: sizes %v", sizes)
	}
}

// With no context takeover, both sides reset between messages; the
// round trip must hold even then.
func TestDeflatorNoContextTakeover(t *testing.T) {
	d := newTestDeflator(t)

	for i := range 3 {
		msg := []byte(strings.Repeat("reset between messages ", i+1))

		compressed, err := d.CompressMessage(msg, true)
		if err != nil {
			t.Fatalf("message %d: CompressMessage() error = %v", i, err)
		}

		// A fresh inflate context must suffice for every message.
		fresh := newTestDeflator(t)
		if err := fresh.InflateMessageStream(compressed, 1<<20); err != nil {
			t.Fatalf("message %d: InflateMessageStream() error = %v", i, err)
		}
		out, err := fresh.InflateMessageFinish(1 << 20)
		if err != nil {
			t.Fatalf("message %d: InflateMessageFinish() error = %v", i, err)
		}
		if !bytes.Equal(out, msg) {
			t.Errorf("message %d: round trip = %q, want %q", i, out, msg)
		}
	}
}

func TestDeflatorFragmentedInflate(t *testing.T) {
	d := newTestDeflator(t)
	msg := []byte(strings.Repeat("fragmented transfer ", 100))

	compressed, err := d.CompressMessage(msg, false)
	if err != nil {
		t.Fatalf("CompressMessage() error = %v", err)
	}

	// Feed the compressed payload one byte at a time, as if it had
	// arrived in many continuation frames.
	for _, b := range compressed {
		if err := d.InflateMessageStream([]byte{b}, 1<<20); err != nil {
			t.Fatalf("InflateMessageStream() error = %v", err)
		}
	}
	out, err := d.InflateMessageFinish(1 << 20)
	if err != nil {
		t.Fatalf("InflateMessageFinish() error = %v", err)
	}
	if !bytes.Equal(out, msg) {
		t.Errorf("fragmented round trip length = %d, want %d", len(out), len(msg))
	}
}

func TestDeflatorMessageLengthCap(t *testing.T) {
	d := newTestDeflator(t)

	// Highly compressible input: small on the wire, large inflated.
	msg := bytes.Repeat([]byte{'x'}, 100000)
	compressed, err := d.CompressMessage(msg, false)
	if err != nil {
		t.Fatalf("CompressMessage() error = %v", err)
	}

	fresh := newTestDeflator(t)
	if err := fresh.InflateMessageStream(compressed, 1<<20); err != nil {
		t.Fatalf("InflateMessageStream() error = %v", err)
	}
	if _, err := fresh.InflateMessageFinish(1024); err == nil {
		t.Fatal("InflateMessageFinish() accepted a message over the length cap")
	}
}

func TestDeflatorResetAfterError(t *testing.T) {
	d := newTestDeflator(t)

	// Garbage input fails the inflater...
	_ = d.InflateMessageStream([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, 1<<20)
	if _, err := d.InflateMessageFinish(1 << 20); err == nil {
		t.Fatal("InflateMessageFinish() accepted garbage")
	}
	d.InflateReset()

	// ...but after a reset, fresh messages decode again.
	compressed, err := d.CompressMessage([]byte("recovered"), true)
	if err != nil {
		t.Fatalf("CompressMessage() error = %v", err)
	}
	if err := d.InflateMessageStream(compressed, 1<<20); err != nil {
		t.Fatalf("InflateMessageStream() error = %v", err)
	}
	out, err := d.InflateMessageFinish(1 << 20)
	if err != nil {
		t.Fatalf("InflateMessageFinish() error = %v", err)
	}
	if string(out) != "recovered" {
		t.Errorf("round trip after reset = %q", out)
	}
}
