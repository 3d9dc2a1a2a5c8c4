package http1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tzrikka/poseidon/pkg/buffer"
)

// The nine standard request methods. A method outside this set is
// rejected with `405 Method Not Allowed`; composing an extension
// method on the sending side remains possible through
// [RequestHeaders.Method].
var standardMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodConnect: true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
	http.MethodPatch:   true,
}

// RequestParser is an incremental parser for HTTP/1.1 requests. Bytes
// are fed from a receive buffer in arbitrary chunks; the parser
// consumes a prefix on each call and pauses when the headers and then
// the payload are complete, so the owner can inspect them. After a
// complete message, [RequestParser.NextMessage] resets the parser for
// the next pipelined request.
//
// A wire-format error freezes the parser; the derived HTTP status is
// available from [RequestParser.ErrorStatus].
type RequestParser struct {
	maxContentLength int

	headers RequestHeaders
	payload buffer.Linear

	phase             parserPhase
	errStatus         int
	closeAfterPayload bool
	body              bodyDecoder
}

// NewRequestParser creates a parser with the given payload
// accumulation limit in bytes. Zero selects the default of 1 MiB.
func NewRequestParser(maxContentLength int) *RequestParser {
	if maxContentLength <= 0 {
		maxContentLength = defaultMaxContentLength
	}
	return &RequestParser{maxContentLength: maxContentLength}
}

// Error reports whether the parser is in its error state.
func (p *RequestParser) Error() bool { return p.errStatus != 0 }

// ErrorStatus returns the HTTP status derived from the parse error:
// 505 for an unsupported version, 405 for an unknown method, 411 for
// a transfer coding that cannot be decoded, 413 for an oversized
// payload, 431 for an unterminated head, and 400 for anything else.
// It returns 0 when there is no error.
func (p *RequestParser) ErrorStatus() int { return p.errStatus }

// HeadersComplete reports whether the header block has been parsed.
func (p *RequestParser) HeadersComplete() bool { return p.phase >= phaseHeadersDone }

// PayloadComplete reports whether the message payload has been parsed.
func (p *RequestParser) PayloadComplete() bool { return p.phase >= phasePayloadDone }

// Headers returns the parsed header block.
func (p *RequestParser) Headers() *RequestHeaders { return &p.headers }

// Payload returns the accumulated payload buffer.
func (p *RequestParser) Payload() *buffer.Linear { return &p.payload }

// ShouldCloseAfterPayload reports whether the connection has to be
// closed after the current message, due to `Connection: close` or
// HTTP/1.0 semantics.
func (p *RequestParser) ShouldCloseAfterPayload() bool { return p.closeAfterPayload }

// MaxContentLength returns the configured payload accumulation limit.
func (p *RequestParser) MaxContentLength() int { return p.maxContentLength }

// NextMessage resets the parser so the next pipelined request can be
// parsed from the same receive buffer.
func (p *RequestParser) NextMessage() {
	p.headers.Clear()
	p.payload.Clear()
	p.phase = phaseNew
	p.errStatus = 0
	p.closeAfterPayload = false
	p.body = bodyDecoder{}
}

// ParseHeadersFromStream consumes bytes from data until the header
// block is complete. It never blocks; if the terminating empty line
// has not arrived yet, it returns leaving the partial head in data.
func (p *RequestParser) ParseHeadersFromStream(data *buffer.Linear, eof bool) {
	if p.phase >= phaseHeadersDone || p.errStatus != 0 {
		return
	}

	head, consumed := findMessageHead(data.Data())
	if consumed == 0 {
		switch {
		case data.Size() > maxHeaderLength:
			p.errStatus = http.StatusRequestHeaderFieldsTooLarge
		case eof && data.Size() > 0:
			// The peer closed mid-head.
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

// ParsePayloadFromStream consumes payload bytes from data, unchunking
// as required, until the message is complete. Bytes are accumulated
// into the payload buffer only for POST, PUT, and PATCH; other
// methods have their payloads decoded and discarded.
func (p *RequestParser) ParsePayloadFromStream(data *buffer.Linear, eof bool) {
	if p.phase >= phasePayloadDone || p.errStatus != 0 {
		return
	}

	if p.phase != phaseHeadersDone {
		panic("http1: request header not parsed yet")
	}

	done, errStatus := p.body.run(data, &p.payload, p.maxContentLength, eof)
	if errStatus != 0 {
		p.errStatus = errStatus
		return
	}
	if done {
		p.phase = phasePayloadDone
	}
}

// parseHead parses the request line and all header fields, and
// derives the payload framing. It returns an HTTP status code on
// error, or 0.
func (p *RequestParser) parseHead(head string) int {
	lines := strings.Split(head, "\r\n")

	method, rest, ok := strings.Cut(lines[0], " ")
	if !ok {
		return http.StatusBadRequest
	}
	target, version, ok := strings.Cut(rest, " ")
	if !ok || target == "" {
		return http.StatusBadRequest
	}

	if version != "HTTP/1.1" && version != "HTTP/1.0" {
		return http.StatusHTTPVersionNotSupported
	}
	if !standardMethods[method] {
		return http.StatusMethodNotAllowed
	}
	p.headers.Method = method

	p.headers.Headers, ok = parseFieldLines(lines[1:], p.headers.Headers)
	if !ok {
		return http.StatusBadRequest
	}

	if errStatus := p.parseTarget(method, target); errStatus != 0 {
		return errStatus
	}

	// Work out whether the connection survives this message.
	close_, keepAlive := connectionDisposition(p.headers.Headers)
	switch {
	case close_:
		p.closeAfterPayload = true
	case version == "HTTP/1.0" && !keepAlive:
		p.closeAfterPayload = true
	}

	kind, rem, errStatus := determineBody(p.headers.Headers)
	if errStatus != 0 {
		return errStatus
	}
	if kind == bodyLength && rem > int64(p.maxContentLength) &&
		(method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch) {
		return http.StatusRequestEntityTooLarge
	}

	p.body = bodyDecoder{
		kind: kind,
		rem:  rem,
		accumulate: method == http.MethodPost || method == http.MethodPut ||
			method == http.MethodPatch,
	}
	return 0
}

// parseTarget splits the request target into userinfo, host, port,
// path, and query, using a permissive URI tokenizer. An absolute URI
// puts the request in proxy mode; otherwise the target must be
// origin-form and exactly one `Host` header is required.
func (p *RequestParser) parseTarget(method, target string) int {
	if method == http.MethodConnect {
		// CONNECT uses the authority form.
		p.headers.IsProxy = true
		return p.parseAuthority(target)
	}

	switch {
	case len(target) >= 7 && strings.EqualFold(target[:7], "http://"):
		p.headers.IsProxy = true
		p.headers.IsSSL = false
		p.headers.Port = 80
		target = target[7:]

	case len(target) >= 8 && strings.EqualFold(target[:8], "https://"):
		p.headers.IsProxy = true
		p.headers.IsSSL = true
		p.headers.Port = 443
		target = target[8:]

	case strings.Contains(target, "://"):
		// Some other scheme; not forwardable.
		return http.StatusBadRequest
	}

	if p.headers.IsProxy {
		// Userinfo is allowed before the authority.
		if at := strings.IndexAny(target, "@/?"); at >= 0 && target[at] == '@' {
			p.headers.UserInfo = target[:at]
			target = target[at+1:]
		}

		slash := strings.IndexAny(target, "/?")
		authority := target
		if slash >= 0 {
			authority = target[:slash]
			target = target[slash:]
		} else {
			target = ""
		}
		if errStatus := p.parseAuthority(authority); errStatus != 0 {
			return errStatus
		}
	} else {
		if target[0] != '/' {
			return http.StatusBadRequest
		}

		// Exactly one `Host` header is required.
		count := 0
		for i := range p.headers.Headers {
			if p.headers.Headers[i].Name.Equals("Host") {
				count++
				if count == 1 {
					p.headers.Host = p.headers.Headers[i].Value.AsString()
				}
			}
		}
		if count != 1 || p.headers.Host == "" {
			return http.StatusBadRequest
		}
	}

	path, query, _ := strings.Cut(target, "?")
	if path == "" {
		path = "/"
	}
	p.headers.Path = path
	p.headers.Query = query
	return 0
}

// parseAuthority splits `host[:port]`, tolerating an IPv6 literal in
// square brackets.
func (p *RequestParser) parseAuthority(authority string) int {
	if authority == "" {
		return http.StatusBadRequest
	}

	host := authority
	port := ""
	if authority[0] == '[' {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return http.StatusBadRequest
		}
		host = authority[:end+1]
		if rest := authority[end+1:]; rest != "" {
			if rest[0] != ':' {
				return http.StatusBadRequest
			}
			port = rest[1:]
		}
	} else if colon := strings.IndexByte(authority, ':'); colon >= 0 {
		host = authority[:colon]
		port = authority[colon+1:]
	}

	if host == "" {
		return http.StatusBadRequest
	}
	p.headers.Host = host

	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			return http.StatusBadRequest
		}
		p.headers.Port = uint16(n)
	}
	return 0
}
