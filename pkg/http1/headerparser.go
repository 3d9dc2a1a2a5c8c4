package http1

// Cursor positions with special meanings.
const (
	hposInit  = -1
	hposError = -2
)

// HeaderParser iterates over a structured header value as a sequence
// of `, `-separated elements, each an ordered list of `;`-separated
// attributes. Each attribute is either `name` or `name=value`, where
// the value is parsed as a [Value], so `max-age=2592000` yields the
// integer 2592000. Whitespace around separators is permitted.
//
// This shape covers `Connection`, `Cache-Control`, `Set-Cookie`,
// `Sec-WebSocket-Extensions`, `Alt-Svc`, and friends. A syntax error
// freezes the cursor; further calls return false.
type HeaderParser struct {
	hstr string
	hpos int

	name  string
	value Value
}

// Reload resets the cursor over a new header value string.
func (p *HeaderParser) Reload(hstr string) {
	p.hstr = hstr
	p.hpos = hposInit
	p.name = ""
	p.value.Clear()
}

// Clear drops the input string and resets the cursor.
func (p *HeaderParser) Clear() {
	p.Reload("")
	p.hpos = 0
}

// CurrentName returns the name of the current attribute.
func (p *HeaderParser) CurrentName() string { return p.name }

// CurrentValue returns the value of the current attribute. The value
// is null for an attribute without `=`.
func (p *HeaderParser) CurrentValue() *Value { return &p.value }

// nextAttributeFromSeparator moves the cursor past the separator it
// points at and parses one attribute. It returns false at the end of
// the current element, at the end of input, or on a syntax error.
func (p *HeaderParser) nextAttributeFromSeparator() bool {
	// Skip the current separator, then leading whitespace. This
	// function shall not move across element boundaries on its own.
	p.hpos++
	i := p.hpos
	for i < len(p.hstr) && (p.hstr[i] == ' ' || p.hstr[i] == '\t') {
		i++
	}

	if i == len(p.hstr) || p.hstr[i] == ';' || p.hstr[i] == ',' {
		return false
	}

	// Parse the name of an attribute, and initialize its value to null.
	tlen := p.value.ParseTokenPartial(p.hstr[i:])
	if tlen == 0 {
		p.hpos = hposError
		return false
	}

	i += tlen
	p.name = p.value.AsString()
	p.value.Clear()

	for i < len(p.hstr) && (p.hstr[i] == ' ' || p.hstr[i] == '\t') {
		i++
	}

	// If an equals sign is encountered, then there will be a value.
	if i < len(p.hstr) && p.hstr[i] == '=' {
		i++
		for i < len(p.hstr) && (p.hstr[i] == ' ' || p.hstr[i] == '\t') {
			i++
		}

		tlen = p.value.Parse(p.hstr[i:])
		i += tlen

		// Ensure the value is not null in this case, so it is
		// distinguishable from not having a value at all.
		if tlen == 0 {
			p.value.SetString("")
		}
	}

	for i < len(p.hstr) && (p.hstr[i] == ' ' || p.hstr[i] == '\t') {
		i++
	}

	// The attribute shall have been terminated by a separator.
	if i != len(p.hstr) && p.hstr[i] != ';' && p.hstr[i] != ',' {
		p.hpos = hposError
		return false
	}

	p.hpos = i
	return true
}

// NextAttribute advances to the next attribute within the current
// element. It returns false at an element boundary, at the end of
// input, or after a syntax error.
func (p *HeaderParser) NextAttribute() bool {
	if p.hpos == hposInit {
		return p.nextAttributeFromSeparator()
	}

	if p.hpos == hposError || p.hpos >= len(p.hstr) {
		return false
	}

	switch p.hstr[p.hpos] {
	case ',':
		// Stop at this element separator.
		return false
	case ';':
		return p.nextAttributeFromSeparator()
	default:
		p.hpos = hposError
		return false
	}
}

// NextElement advances past any remaining attributes of the current
// element to the first attribute of the next element. It returns
// false at the end of input or after a syntax error.
func (p *HeaderParser) NextElement() bool {
	if p.hpos == hposInit {
		return p.nextAttributeFromSeparator()
	}

	for {
		if p.hpos == hposError || p.hpos >= len(p.hstr) {
			return false
		}

		switch p.hstr[p.hpos] {
		case ',':
			return p.nextAttributeFromSeparator()
		case ';':
			// Move past this attribute separator and keep scanning
			// for the element boundary.
			p.nextAttributeFromSeparator()
		default:
			p.hpos = hposError
			return false
		}
	}
}
