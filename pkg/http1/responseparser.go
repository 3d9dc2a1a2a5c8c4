package http1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tzrikka/poseidon/pkg/buffer"
)

// ResponseParser is an incremental parser for HTTP/1.1 responses,
// with the same streaming contract as [RequestParser]: it consumes a
// prefix of the receive buffer on each call, pauses at
// headers-complete and payload-complete, and resets with
// [ResponseParser.NextMessage].
//
// A response with neither `Content-Length` nor a chunked transfer
// coding is delimited by connection closure, so its payload completes
// only when the stream reports EOF.
type ResponseParser struct {
	maxContentLength int

	headers ResponseHeaders
	payload buffer.Linear

	phase             parserPhase
	errStatus         int
	closeAfterPayload bool
	body              bodyDecoder
}

// NewResponseParser creates a parser with the given payload
// accumulation limit in bytes. Zero selects the default of 1 MiB.
func NewResponseParser(maxContentLength int) *ResponseParser {
	if maxContentLength <= 0 {
		maxContentLength = defaultMaxContentLength
	}
	return &ResponseParser{maxContentLength: maxContentLength}
}

// Error reports whether the parser is in its error state.
func (p *ResponseParser) Error() bool { return p.errStatus != 0 }

// ErrorStatus returns the HTTP status derived from the parse error,
// or 0 when there is none. The taxonomy matches
// [RequestParser.ErrorStatus].
func (p *ResponseParser) ErrorStatus() int { return p.errStatus }

// HeadersComplete reports whether the header block has been parsed.
func (p *ResponseParser) HeadersComplete() bool { return p.phase >= phaseHeadersDone }

// PayloadComplete reports whether the message payload has been parsed.
func (p *ResponseParser) PayloadComplete() bool { return p.phase >= phasePayloadDone }

// Headers returns the parsed header block.
func (p *ResponseParser) Headers() *ResponseHeaders { return &p.headers }

// Payload returns the accumulated payload buffer.
func (p *ResponseParser) Payload() *buffer.Linear { return &p.payload }

// ShouldCloseAfterPayload reports whether the connection has to be
// closed after the current message.
func (p *ResponseParser) ShouldCloseAfterPayload() bool { return p.closeAfterPayload }

// MaxContentLength returns the configured payload accumulation limit.
func (p *ResponseParser) MaxContentLength() int { return p.maxContentLength }

// SetNoPayload forces the current message to have no payload,
// regardless of its header fields. The owner calls this after
// inspecting the headers of a response to a HEAD request, whose
// `Content-Length` describes a body that is never sent.
func (p *ResponseParser) SetNoPayload() {
	if p.phase != phaseHeadersDone {
		panic("http1: response header not parsed yet")
	}
	p.body = bodyDecoder{kind: bodyNone}
}

// NextMessage resets the parser so the next response on the same
// connection can be parsed.
func (p *ResponseParser) NextMessage() {
	p.headers.Clear()
	p.payload.Clear()
	p.phase = phaseNew
	p.errStatus = 0
	p.closeAfterPayload = false
	p.body = bodyDecoder{}
}

// ParseHeadersFromStream consumes bytes from data until the header
// block is complete.
func (p *ResponseParser) ParseHeadersFromStream(data *buffer.Linear, eof bool) {
	if p.phase >= phaseHeadersDone || p.errStatus != 0 {
		return
	}

	head, consumed := findMessageHead(data.Data())
	if consumed == 0 {
		switch {
		case data.Size() > maxHeaderLength:
			p.errStatus = http.StatusRequestHeaderFieldsTooLarge
		case eof && data.Size() > 0:
			p.errStatus = http.StatusBadRequest
		}
		return
	}

	p.errStatus = p.parseHead(string(head))
	data.Discard(consumed)
	if p.errStatus != 0 {
		return
	}
	p.phase = phaseHeadersDone
}

// ParsePayloadFromStream consumes payload bytes from data until the
// message is complete.
func (p *ResponseParser) ParsePayloadFromStream(data *buffer.Linear, eof bool) {
	if p.phase >= phasePayloadDone || p.errStatus != 0 {
		return
	}

	if p.phase != phaseHeadersDone {
		panic("http1: response header not parsed yet")
	}

	done, errStatus := p.body.run(data, &p.payload, p.maxContentLength, eof)
	if errStatus != 0 {
		p.errStatus = errStatus
		return
	}
	if done {
		p.phase = phasePayloadDone
		if p.body.kind == bodyUntilEOF {
			p.closeAfterPayload = true
		}
	}
}

// parseHead parses the status line and all header fields, and derives
// the payload framing. It returns an HTTP status code on error, or 0.
func (p *ResponseParser) parseHead(head string) int {
	lines := strings.Split(head, "\r\n")

	version, rest, ok := strings.Cut(lines[0], " ")
	if !ok {
		return http.StatusBadRequest
	}
	if version != "HTTP/1.1" && version != "HTTP/1.0" {
		return http.StatusHTTPVersionNotSupported
	}

	// The reason phrase extends to the end of the line and may be
	// empty or absent.
	statusStr, reason, _ := strings.Cut(rest, " ")
	status, err := strconv.Atoi(statusStr)
	if err != nil || len(statusStr) != 3 || status < 100 || status > 599 {
		return http.StatusBadRequest
	}
	p.headers.Status = status
	p.headers.Reason = reason

	p.headers.Headers, ok = parseFieldLines(lines[1:], p.headers.Headers)
	if !ok {
		return http.StatusBadRequest
	}

	close_, keepAlive := connectionDisposition(p.headers.Headers)
	switch {
	case close_:
		p.closeAfterPayload = true
	case version == "HTTP/1.0" && !keepAlive:
		p.closeAfterPayload = true
	}

	// Some responses never carry a payload: informational responses
	// (including 101, which hands the stream to the upgrade path),
	// 204, and 304.
	if status < 200 || status == 204 || status == 304 {
		p.body = bodyDecoder{kind: bodyNone}
		return 0
	}

	kind, rem, errStatus := determineBody(p.headers.Headers)
	if errStatus != 0 {
		return errStatus
	}
	if kind == bodyNone {
		// Neither a length nor a chunked coding: the payload runs
		// until the server closes the connection.
		kind = bodyUntilEOF
	}
	if kind == bodyLength && rem > int64(p.maxContentLength) {
		return http.StatusRequestEntityTooLarge
	}

	p.body = bodyDecoder{kind: kind, rem: rem, accumulate: true}
	return 0
}
