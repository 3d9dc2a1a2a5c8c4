package websocket

import (
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"io"
	"sync"
)

// syncFlushTrailer is emitted by a raw DEFLATE stream after a sync
// flush. RFC 7692 elides it on the wire: senders strip it from the
// end of every message, receivers feed it back before inflating the
// final block.
var syncFlushTrailer = []byte{0x00, 0x00, 0xff, 0xff}

// finalEmptyBlock is an empty stored block with the BFINAL bit set.
// Appending it after the restored trailer lets the inflater observe a
// clean end of stream instead of an unexpected EOF.
var finalEmptyBlock = []byte{0x01, 0x00, 0x00, 0xff, 0xff}

// inflateWindowSize is the upper bound of the LZ77 sliding window
// (32 KiB, 15 bits). Decompressed history up to this size is carried
// across messages so context takeover keeps working on the receive
// side.
const inflateWindowSize = 32768

// ErrMessageTooLarge is reported by the inflate direction when a
// message exceeds the configured maximum length while decompressing.
var ErrMessageTooLarge = errors.New("websocket: message length limit exceeded")

// Deflator holds the two per-connection raw-DEFLATE contexts of the
// permessage-deflate extension: deflate for outbound messages and
// inflate for inbound ones. The directions carry independent locks,
// so a sender thread compressing an outbound message never blocks
// inbound decoding on the same connection.
type Deflator struct {
	defMu  sync.Mutex
	defBuf bytes.Buffer
	defW   *flate.Writer

	infMu   sync.Mutex
	infSrc  bytes.Buffer // compressed bytes of the current message
	infR    io.ReadCloser
	infDict []byte // decompressed history for context takeover
}

// NewDeflator creates both DEFLATE contexts from the PMCE parameters
// negotiated by the given parser.
func NewDeflator(parser *FrameParser) *Deflator {
	d := &Deflator{}

	// Window sizes below 15 bits are negotiated and echoed, but the
	// DEFLATE implementation always uses the full window; emitting
	// with a larger window than advertised is interoperable, because
	// back-references never exceed the data actually sent.
	level := parser.PMCECompressionLevel()
	if level < 1 || level > 9 {
		level = flate.DefaultCompression
	}
	d.defW, _ = flate.NewWriter(&d.defBuf, level)

	d.infR = flate.NewReader(&d.infSrc)
	return d
}

// DeflateReset discards the LZ77 window of the deflate direction, so
// the next message does not reference earlier ones.
func (d *Deflator) DeflateReset() {
	d.defMu.Lock()
	defer d.defMu.Unlock()

	d.defBuf.Reset()
	d.defW.Reset(&d.defBuf)
}

// CompressMessage compresses one outbound message and returns its
// wire payload: the raw DEFLATE stream after a sync flush, with the
// trailing `00 00 FF FF` stripped as RFC 7692 requires. When
// resetContext is set, the deflate context is reset first, so the
// message does not depend on previous ones.
//
// The lock of the deflate direction is held for the whole message:
// with context takeover, compressed messages depend on each other, so
// interleaving two senders would corrupt the stream.
func (d *Deflator) CompressMessage(data []byte, resetContext bool) ([]byte, error) {
	d.defMu.Lock()
	defer d.defMu.Unlock()

	d.defBuf.Reset()
	if resetContext {
		d.defW.Reset(&d.defBuf)
	}

	if _, err := d.defW.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress WebSocket message: %w", err)
	}
	if err := d.defW.Flush(); err != nil {
		return nil, fmt.Errorf("failed to compress WebSocket message: %w", err)
	}

	out := d.defBuf.Bytes()
	if n := len(out); n >= 4 && bytes.Equal(out[n-4:], syncFlushTrailer) {
		out = out[:n-4]
	}

	// The backing array is reused for the next message.
	cp := make([]byte, len(out))
	copy(cp, out)
	return cp, nil
}

// InflateMessageStream absorbs one frame's worth of compressed
// payload of the current inbound message. The compressed bytes are
// bounded by maxMessageLength as they accumulate; decompression
// happens in [Deflator.InflateMessageFinish], where the decompressed
// size is bounded again.
func (d *Deflator) InflateMessageStream(data []byte, maxMessageLength int) error {
	d.infMu.Lock()
	defer d.infMu.Unlock()

	if d.infSrc.Len()+len(data) > maxMessageLength+len(finalEmptyBlock) {
		return ErrMessageTooLarge
	}
	d.infSrc.Write(data)
	return nil
}

// InflateMessageFinish feeds the elided `00 00 FF FF` trailer back
// into the stream, decompresses the whole message, and returns it.
// The LZ77 window survives across messages: the last 32 KiB of
// decompressed output become the dictionary of the next message, so a
// peer that keeps its compression context produces back-references
// this side can still resolve.
func (d *Deflator) InflateMessageFinish(maxMessageLength int) ([]byte, error) {
	d.infMu.Lock()
	defer d.infMu.Unlock()

	d.infSrc.Write(syncFlushTrailer)
	d.infSrc.Write(finalEmptyBlock)

	if err := d.infR.(flate.Resetter).Reset(&d.infSrc, d.infDict); err != nil {
		return nil, fmt.Errorf("failed to reset WebSocket inflater: %w", err)
	}

	// Read at most one byte past the limit, so an oversized message
	// is detected without decompressing all of it.
	out, err := io.ReadAll(io.LimitReader(d.infR, int64(maxMessageLength)+1))
	d.infSrc.Reset()
	if err != nil {
		return nil, fmt.Errorf("failed to decompress WebSocket message: %w", err)
	}
	if len(out) > maxMessageLength {
		return nil, ErrMessageTooLarge
	}

	d.updateDict(out)
	return out, nil
}

// InflateReset drops the accumulated compressed bytes and the
// dictionary, e.g. after a decompression error.
func (d *Deflator) InflateReset() {
	d.infMu.Lock()
	defer d.infMu.Unlock()

	d.infSrc.Reset()
	d.infDict = nil
}

// updateDict appends decompressed output to the dictionary, keeping
// only the trailing window.
func (d *Deflator) updateDict(out []byte) {
	if len(out) >= inflateWindowSize {
		d.infDict = append(d.infDict[:0], out[len(out)-inflateWindowSize:]...)
		return
	}

	d.infDict = append(d.infDict, out...)
	if excess := len(d.infDict) - inflateWindowSize; excess > 0 {
		d.infDict = append(d.infDict[:0], d.infDict[excess:]...)
	}
}
