package http1

import (
	"testing"
)

func TestFieldNameEquals(t *testing.T) {
	tests := []struct {
		name string
		a, b FieldName
		want bool
	}{
		{name: "same_case", a: "Content-Length", b: "Content-Length", want: true},
		{name: "different_case", a: "content-length", b: "CONTENT-LENGTH", want: true},
		{name: "different_names", a: "Host", b: "Connection", want: false},
		{name: "prefix", a: "Host", b: "Hosts", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equals(tt.b); got != tt.want {
				t.Errorf("FieldName(%q).Equals(%q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestFieldNameHashCaseInvariant(t *testing.T) {
	pairs := [][2]FieldName{
		{"Content-Length", "content-length"},
		{"SEC-WEBSOCKET-KEY", "Sec-WebSocket-Key"},
		{"x_custom", "X_CUSTOM"},
	}

	for _, p := range pairs {
		if p[0].Hash() != p[1].Hash() {
			t.Errorf("FieldName.Hash() differs for %q and %q", p[0], p[1])
		}
	}

	if FieldName("Host").Hash() == FieldName("Connection").Hash() {
		t.Errorf("FieldName.Hash() collides for distinct short names")
	}
}

func TestFieldNameCanonicalized(t *testing.T) {
	tests := []struct {
		name    string
		input   FieldName
		want    FieldName
		wantErr bool
	}{
		{name: "mixed_case", input: "Sec-WebSocket-Key", want: "sec-websocket-key"},
		{name: "already_lower", input: "content-length", want: "content-length"},
		{name: "underscore_digit", input: "X_Custom_2", want: "x_custom_2"},
		{name: "space_rejected", input: "Bad Name", wantErr: true},
		{name: "colon_rejected", input: "name:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.input.Canonicalized()
			if (err != nil) != tt.wantErr {
				t.Fatalf("FieldName.Canonicalized() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("FieldName.Canonicalized() = %q, want %q", got, tt.want)
			}
		})
	}
}
