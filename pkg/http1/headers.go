package http1

import (
	"bytes"
	"net/http"
	"strconv"
)

// Field is one header field: an ordered (name, value) pair. Header
// lists retain arrival order, and duplicate names are allowed except
// where the protocol forbids them (e.g. `Host`).
type Field struct {
	Name  FieldName
	Value Value
}

// TextField is a convenience constructor for a plain string field.
func TextField(name FieldName, value string) Field {
	return Field{Name: name, Value: StringValue(value)}
}

// RequestHeaders is the header block of one HTTP request: the method,
// the split request target, and the ordered header list.
type RequestHeaders struct {
	Method  string
	IsProxy bool
	IsSSL   bool
	Port    uint16

	UserInfo string
	Host     string
	Path     string
	Query    string

	Headers []Field
}

// Clear resets the header block for reuse, keeping allocated storage
// where possible.
func (h *RequestHeaders) Clear() {
	*h = RequestHeaders{Headers: h.Headers[:0]}
}

// Header returns the value of the first header with the given name,
// or nil if there is none.
func (h *RequestHeaders) Header(name FieldName) *Value {
	for i := range h.Headers {
		if h.Headers[i].Name.Equals(name) {
			return &h.Headers[i].Value
		}
	}
	return nil
}

// Add appends a header field, preserving order.
func (h *RequestHeaders) Add(name FieldName, value Value) {
	h.Headers = append(h.Headers, Field{Name: name, Value: value})
}

// Encode emits the request line and all header fields, terminated by
// an empty line. If the method is empty, GET is assumed. Fields with
// empty names are skipped. This function does not validate whether
// the fields contain valid values.
func (h *RequestHeaders) Encode(out *bytes.Buffer) {
	if h.Method == "" {
		out.WriteString("GET ")
	} else {
		out.WriteString(h.Method)
		out.WriteByte(' ')
	}

	if h.IsProxy {
		// The request target shall be an absolute URI.
		if h.IsSSL {
			out.WriteString("https://")
		} else {
			out.WriteString("http://")
		}

		if h.UserInfo != "" {
			out.WriteString(h.UserInfo)
			out.WriteByte('@')
		}

		out.WriteString(h.Host)
		if h.Port != 0 {
			out.WriteByte(':')
			out.WriteString(strconv.Itoa(int(h.Port)))
		}
	}

	if len(h.Path) == 0 || h.Path[0] != '/' {
		out.WriteByte('/')
	}
	out.WriteString(h.Path)

	if h.Query != "" {
		out.WriteByte('?')
		out.WriteString(h.Query)
	}

	out.WriteString(" HTTP/1.1")

	encodeFields(out, h.Headers)
	out.WriteString("\r\n\r\n")
}

// encodeFields writes `CRLF name: value` for each field. Fields with
// an empty name or an empty value are suppressed. Values are written
// through their string view verbatim, so date-times come out in
// RFC 1123 form and no quoting is applied at this layer.
func encodeFields(out *bytes.Buffer, fields []Field) {
	for i := range fields {
		if fields[i].Name == "" || fields[i].Value.AsString() == "" {
			continue
		}
		out.WriteString("\r\n")
		out.WriteString(string(fields[i].Name))
		out.WriteString(": ")
		out.WriteString(fields[i].Value.AsString())
	}
}

// ResponseHeaders is the header block of one HTTP response: the
// status code, the reason phrase, and the ordered header list.
type ResponseHeaders struct {
	Status int
	Reason string

	Headers []Field
}

// Clear resets the header block for reuse, keeping allocated storage
// where possible.
func (h *ResponseHeaders) Clear() {
	*h = ResponseHeaders{Headers: h.Headers[:0]}
}

// Header returns the value of the first header with the given name,
// or nil if there is none.
func (h *ResponseHeaders) Header(name FieldName) *Value {
	for i := range h.Headers {
		if h.Headers[i].Name.Equals(name) {
			return &h.Headers[i].Value
		}
	}
	return nil
}

// Add appends a header field, preserving order.
func (h *ResponseHeaders) Add(name FieldName, value Value) {
	h.Headers = append(h.Headers, Field{Name: name, Value: value})
}

// Encode emits the status line and all header fields, terminated by
// an empty line. If the reason phrase is empty, a default one is
// derived from the status code. Fields with empty names are skipped.
func (h *ResponseHeaders) Encode(out *bytes.Buffer) {
	out.WriteString("HTTP/1.1 ")
	out.WriteString(strconv.Itoa(h.Status))
	out.WriteByte(' ')
	if h.Reason != "" {
		out.WriteString(h.Reason)
	} else {
		out.WriteString(http.StatusText(h.Status))
	}

	encodeFields(out, h.Headers)
	out.WriteString("\r\n\r\n")
}
