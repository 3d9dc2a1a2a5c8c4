package http1

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/tzrikka/poseidon/pkg/buffer"
)

// Parser phases. Both message parsers pause at phaseHeadersDone so the
// owner can inspect the header block, and again at phasePayloadDone so
// the owner can reset them for a pipelined message.
type parserPhase int

const (
	phaseNew parserPhase = iota
	phaseHeadersDone
	phasePayloadDone
)

// Payload framing, determined from the header block.
type bodyKind int

const (
	bodyNone bodyKind = iota
	bodyLength
	bodyChunked
	bodyUntilEOF
)

// Sub-states of the chunked transfer coding decoder.
type chunkPhase int

const (
	chunkSize chunkPhase = iota
	chunkData
	chunkDataCRLF
	chunkTrailer
)

// maxHeaderLength bounds the size of a message head that has not been
// terminated yet, so a peer cannot grow the receive buffer without
// ever sending the empty line.
const maxHeaderLength = 65536

// defaultMaxContentLength is the payload accumulation limit applied
// when the owner does not configure one.
const defaultMaxContentLength = 1048576

// findMessageHead locates the head of a message in data, skipping any
// CRLF sequences that precede it. It returns the head without its
// terminating empty line, and the total number of bytes to consume,
// or (nil, 0) when the terminator has not arrived yet.
func findMessageHead(data []byte) (head []byte, consumed int) {
	start := 0
	for len(data)-start >= 2 && data[start] == '\r' && data[start+1] == '\n' {
		start += 2
	}

	idx := bytes.Index(data[start:], []byte("\r\n\r\n"))
	if idx < 0 {
		return nil, 0
	}
	return data[start : start+idx], start + idx + 4
}

// parseFieldLines parses `name: value` lines, appending to fields.
// Continuation lines (obsolete line folding) extend the value of the
// most recent field. It returns false on a malformed line.
func parseFieldLines(lines []string, fields []Field) ([]Field, bool) {
	for _, line := range lines {
		if line == "" {
			return fields, false
		}

		if line[0] == ' ' || line[0] == '\t' {
			// Obsolete line folding: the line continues the most
			// recent field value.
			if len(fields) == 0 {
				return fields, false
			}
			last := &fields[len(fields)-1]
			last.Value.SetString(last.Value.AsString() + " " + strings.Trim(line, " \t"))
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok || !FieldName(name).Valid() {
			return fields, false
		}

		fields = append(fields, Field{
			Name:  FieldName(name),
			Value: StringValue(strings.Trim(value, " \t")),
		})
	}
	return fields, true
}

// connectionDisposition scans all `Connection` headers and reports
// whether a `close` or `keep-alive` token is present.
func connectionDisposition(fields []Field) (close_, keepAlive bool) {
	var hparser HeaderParser
	for i := range fields {
		if !fields[i].Name.Equals("Connection") {
			continue
		}
		hparser.Reload(fields[i].Value.AsString())
		for hparser.NextElement() {
			switch {
			case strings.EqualFold(hparser.CurrentName(), "close"):
				close_ = true
			case strings.EqualFold(hparser.CurrentName(), "keep-alive"):
				keepAlive = true
			}
		}
	}
	return
}

// determineBody derives the payload framing of a message from its
// header fields. It returns an HTTP status code on error: 411 for a
// transfer coding this parser cannot decode, 400 for a malformed
// `Content-Length`.
func determineBody(fields []Field) (bodyKind, int64, int) {
	var hparser HeaderParser

	for i := range fields {
		if !fields[i].Name.Equals("Transfer-Encoding") {
			continue
		}

		// The only transfer coding understood here is `chunked`; for
		// anything else the peer must supply a `Content-Length`.
		hparser.Reload(fields[i].Value.AsString())
		for hparser.NextElement() {
			if !strings.EqualFold(hparser.CurrentName(), "chunked") {
				return bodyNone, 0, http.StatusLengthRequired
			}
		}
		return bodyChunked, 0, 0
	}

	length := int64(-1)
	for i := range fields {
		if !fields[i].Name.Equals("Content-Length") {
			continue
		}

		s := fields[i].Value.AsString()
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			return bodyNone, 0, http.StatusBadRequest
		}
		if length >= 0 && length != n {
			// Conflicting duplicates.
			return bodyNone, 0, http.StatusBadRequest
		}
		length = n
	}

	if length < 0 {
		return bodyNone, 0, 0
	}
	// `Content-Length: 0` is reported as bodyLength so callers can
	// distinguish an explicit empty payload from no framing at all.
	return bodyLength, length, 0
}

// bodyDecoder is the payload sub-machine shared by the request and
// response parsers. It moves bytes from the receive buffer into the
// payload buffer (or discards them when accumulate is unset) and
// enforces the content length cap.
type bodyDecoder struct {
	kind       bodyKind
	rem        int64
	chunk      chunkPhase
	accumulate bool
}

// run consumes payload bytes from data. It returns (done, errStatus).
func (d *bodyDecoder) run(data *buffer.Linear, payload *buffer.Linear, maxLength int, eof bool) (bool, int) {
	switch d.kind {
	case bodyNone:
		return true, 0

	case bodyLength:
		if !d.moveN(data, payload, maxLength, &d.rem) {
			return false, http.StatusRequestEntityTooLarge
		}
		if d.rem == 0 {
			return true, 0
		}
		if eof && data.Empty() {
			// The peer closed mid-payload.
			return false, http.StatusBadRequest
		}
		return false, 0

	case bodyChunked:
		return d.runChunked(data, payload, maxLength, eof)

	case bodyUntilEOF:
		n := int64(data.Size())
		if !d.moveN(data, payload, maxLength, &n) {
			return false, http.StatusRequestEntityTooLarge
		}
		return eof, 0
	}
	return false, http.StatusInternalServerError
}

// moveN transfers up to *rem bytes from data, decrementing *rem. It
// returns false when the accumulated payload would exceed maxLength.
func (d *bodyDecoder) moveN(data *buffer.Linear, payload *buffer.Linear, maxLength int, rem *int64) bool {
	n := int64(data.Size())
	if n > *rem {
		n = *rem
	}
	if n == 0 {
		return true
	}

	if d.accumulate {
		if payload.Size()+int(n) > maxLength {
			return false
		}
		payload.Put(data.Data()[:n])
	}
	data.Discard(int(n))
	*rem -= n
	return true
}

// runChunked decodes the chunked transfer coding incrementally,
// re-entrant at every sub-state boundary.
func (d *bodyDecoder) runChunked(data *buffer.Linear, payload *buffer.Linear, maxLength int, eof bool) (bool, int) {
	for {
		switch d.chunk {
		case chunkSize:
			line, ok := takeLine(data)
			if !ok {
				if eof {
					return false, http.StatusBadRequest
				}
				return false, 0
			}

			// Chunk extensions after `;` are permitted and ignored.
			if i := strings.IndexByte(line, ';'); i >= 0 {
				line = line[:i]
			}
			n, err := strconv.ParseInt(strings.Trim(line, " \t"), 16, 64)
			if err != nil || n < 0 {
				return false, http.StatusBadRequest
			}

			if n == 0 {
				d.chunk = chunkTrailer
				continue
			}
			d.rem = n
			d.chunk = chunkData

		case chunkData:
			if !d.moveN(data, payload, maxLength, &d.rem) {
				return false, http.StatusRequestEntityTooLarge
			}
			if d.rem != 0 {
				if eof && data.Empty() {
					return false, http.StatusBadRequest
				}
				return false, 0
			}
			d.chunk = chunkDataCRLF

		case chunkDataCRLF:
			if data.Size() < 2 {
				if eof {
					return false, http.StatusBadRequest
				}
				return false, 0
			}
			if !bytes.HasPrefix(data.Data(), []byte("\r\n")) {
				return false, http.StatusBadRequest
			}
			data.Discard(2)
			d.chunk = chunkSize

		case chunkTrailer:
			line, ok := takeLine(data)
			if !ok {
				if eof {
					return false, http.StatusBadRequest
				}
				return false, 0
			}
			if line == "" {
				// The empty line terminates the trailer section.
				return true, 0
			}
			// Trailer fields are tolerated and dropped.
		}
	}
}

// takeLine consumes one CRLF-terminated line from data and returns it
// without the terminator, or ("", false) if no full line is buffered.
func takeLine(data *buffer.Linear) (string, bool) {
	idx := bytes.Index(data.Data(), []byte("\r\n"))
	if idx < 0 {
		return "", false
	}
	line := string(data.Data()[:idx])
	data.Discard(idx + 2)
	return line, true
}
