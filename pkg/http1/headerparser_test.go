package http1

import (
	"testing"
)

type attr struct {
	name   string
	hasVal bool
	val    string
}

// collect drains the cursor element by element.
func collect(t *testing.T, input string) [][]attr {
	t.Helper()

	var hparser HeaderParser
	hparser.Reload(input)

	var elements [][]attr
	for hparser.NextElement() {
		var el []attr
		for ok := true; ok; ok = hparser.NextAttribute() {
			a := attr{name: hparser.CurrentName()}
			if !hparser.CurrentValue().IsNull() {
				a.hasVal = true
				a.val = hparser.CurrentValue().AsString()
			}
			el = append(el, a)
		}
		elements = append(elements, el)
	}
	return elements
}

func TestHeaderParserElements(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  [][]attr
	}{
		{
			name:  "single_token",
			input: "close",
			want:  [][]attr{{{name: "close"}}},
		},
		{
			name:  "cache_control",
			input: "public, max-age=2592000",
			want: [][]attr{
				{{name: "public"}},
				{{name: "max-age", hasVal: true, val: "2592000"}},
			},
		},
		{
			name:  "extension_offer",
			input: "permessage-deflate; client_max_window_bits",
			want: [][]attr{
				{{name: "permessage-deflate"}, {name: "client_max_window_bits"}},
			},
		},
		{
			name:  "attributes_with_values",
			input: "permessage-deflate; server_max_window_bits=12; client_no_context_takeover",
			want: [][]attr{
				{
					{name: "permessage-deflate"},
					{name: "server_max_window_bits", hasVal: true, val: "12"},
					{name: "client_no_context_takeover"},
				},
			},
		},
		{
			name:  "quoted_value",
			input: `realm="chat server", charset=UTF-8`,
			want: [][]attr{
				{{name: "realm", hasVal: true, val: "chat server"}},
				{{name: "charset", hasVal: true, val: "UTF-8"}},
			},
		},
		{
			name:  "whitespace_around_separators",
			input: "a ; b = 1 , c",
			want: [][]attr{
				{{name: "a"}, {name: "b", hasVal: true, val: "1"}},
				{{name: "c"}},
			},
		},
		{
			name:  "empty_value_after_equals",
			input: "a=; b",
			want: [][]attr{
				{{name: "a", hasVal: true, val: ""}, {name: "b"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collect(t, tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("collect(%q) = %d elements, want %d: %v", tt.input, len(got), len(tt.want), got)
			}
			for i := range got {
				if len(got[i]) != len(tt.want[i]) {
					t.Fatalf("element %d = %d attributes, want %d: %v", i, len(got[i]), len(tt.want[i]), got[i])
				}
				for j := range got[i] {
					if got[i][j] != tt.want[i][j] {
						t.Errorf("attribute [%d][%d] = %+v, want %+v", i, j, got[i][j], tt.want[i][j])
					}
				}
			}
		})
	}
}

func TestHeaderParserNextElementSkipsAttributes(t *testing.T) {
	var hparser HeaderParser
	hparser.Reload("permessage-deflate; server_max_window_bits=12, x-webkit-deflate-frame")

	if !hparser.NextElement() {
		t.Fatal("HeaderParser.NextElement() = false on first element")
	}
	if got := hparser.CurrentName(); got != "permessage-deflate" {
		t.Fatalf("CurrentName() = %q, want %q", got, "permessage-deflate")
	}

	// Jump straight to the next element, past the remaining attribute.
	if !hparser.NextElement() {
		t.Fatal("HeaderParser.NextElement() = false on second element")
	}
	if got := hparser.CurrentName(); got != "x-webkit-deflate-frame" {
		t.Errorf("CurrentName() = %q, want %q", got, "x-webkit-deflate-frame")
	}

	if hparser.NextElement() {
		t.Error("HeaderParser.NextElement() = true past the end")
	}
}

func TestHeaderParserErrorFreezesCursor(t *testing.T) {
	var hparser HeaderParser
	hparser.Reload("ok, ba[d stuff, never-reached")

	if !hparser.NextElement() {
		t.Fatal("HeaderParser.NextElement() = false on first element")
	}

	// The malformed second element freezes the cursor.
	if hparser.NextElement() {
		t.Error("HeaderParser.NextElement() = true on malformed element")
	}
	if hparser.NextElement() {
		t.Error("HeaderParser.NextElement() = true after error")
	}
	if hparser.NextAttribute() {
		t.Error("HeaderParser.NextAttribute() = true after error")
	}
}
