package http1

import (
	"fmt"
	"strings"
)

// FieldName is the name of an HTTP header field. Names are ASCII
// tokens; comparison and hashing are case-insensitive, as defined in
// https://datatracker.ietf.org/doc/html/rfc9110#section-5.1.
type FieldName string

// Equals compares two field names, ignoring ASCII case.
func (n FieldName) Equals(other FieldName) bool {
	return strings.EqualFold(string(n), string(other))
}

// EqualsString compares a field name with a plain string, ignoring
// ASCII case.
func (n FieldName) EqualsString(s string) bool {
	return strings.EqualFold(string(n), s)
}

// Hash returns an FNV-1a hash of the field name that is invariant
// under ASCII case.
func (n FieldName) Hash() uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(n); i++ {
		c := n[i]
		if c >= 'A' && c <= 'Z' {
			c |= 0x20
		}
		h = (h ^ uint32(c)) * 16777619
	}
	return h
}

// Canonicalized returns the field name converted to lowercase. It
// fails if the name contains a byte outside the allowed token set
// (ASCII letters, digits, '-' and '_').
func (n FieldName) Canonicalized() (FieldName, error) {
	b := []byte(n)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
			// Already canonical.
		case c >= 'A' && c <= 'Z':
			b[i] = c | 0x20
		default:
			return n, fmt.Errorf("invalid HTTP field name %q", string(n))
		}
	}
	return FieldName(b), nil
}

// Valid reports whether every byte of the field name is in the
// allowed token set.
func (n FieldName) Valid() bool {
	for i := 0; i < len(n); i++ {
		c := n[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return len(n) > 0
}
