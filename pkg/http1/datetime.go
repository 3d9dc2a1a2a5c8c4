package http1

import (
	"strings"
	"time"
)

// Date-time layouts accepted in HTTP header fields, as defined in
// https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.7, plus
// the legacy cookie variant and ISO 8601.
const (
	layoutRFC1123 = "Mon, 02 Jan 2006 15:04:05 GMT" // preferred; fixed 29 bytes
	layoutRFC850  = "Monday, 02-Jan-06 15:04:05 GMT"
	layoutAsctime = "Mon Jan  2 15:04:05 2006" // fixed 24 bytes
	layoutCookie  = "Mon, 02-Jan-2006 15:04:05 GMT"
	layoutISO8601 = "2006-01-02T15:04:05Z" // fixed 20 bytes
)

// FormatDateTime emits an instant in the RFC 1123 form that HTTP
// requires on the wire, e.g. `Sun, 06 Nov 1994 08:49:37 GMT`.
func FormatDateTime(t time.Time) string {
	return t.UTC().Format(layoutRFC1123)
}

// ParseDateTimePartial parses a date-time from the beginning of s,
// trying the RFC 1123, RFC 850, asctime, cookie, and ISO 8601 forms in
// that order. It returns the instant and the number of bytes consumed,
// or a zero instant and 0 if no form matches.
func ParseDateTimePartial(s string) (time.Time, int) {
	if len(s) < 20 {
		// Shorter than the shortest accepted form.
		return time.Time{}, 0
	}

	// `Sun, 06 Nov 1994 08:49:37 GMT`
	if len(s) >= 29 {
		if t, err := time.Parse(layoutRFC1123, s[:29]); err == nil {
			return t, 29
		}
	}

	// `Sunday, 06-Nov-94 08:49:37 GMT`; the length varies with the
	// name of the weekday.
	if comma := strings.IndexByte(s, ','); comma > 3 {
		if n := comma + 24; n <= len(s) {
			if t, err := time.Parse(layoutRFC850, s[:n]); err == nil {
				return t, n
			}
		}
	}

	// `Sun Nov  6 08:49:37 1994`
	if len(s) >= 24 {
		if t, err := time.Parse(layoutAsctime, s[:24]); err == nil {
			return t, 24
		}
	}

	// `Sun, 06-Nov-1994 08:49:37 GMT`
	if len(s) >= 29 {
		if t, err := time.Parse(layoutCookie, s[:29]); err == nil {
			return t, 29
		}
	}

	// `1994-11-06T08:49:37Z`
	if t, err := time.Parse(layoutISO8601, s[:20]); err == nil {
		return t, 20
	}

	return time.Time{}, 0
}
