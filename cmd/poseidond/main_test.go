package main

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/tzrikka/poseidon/pkg/http1"
)

func TestAuthorizer(t *testing.T) {
	const secret = "test-secret"

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "client-1",
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}

	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "client-1",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{name: "valid_token", header: "Bearer " + signed, want: true},
		{name: "missing_header", header: "", want: false},
		{name: "not_bearer", header: "Basic dXNlcjpwdw==", want: false},
		{name: "garbage_token", header: "Bearer not.a.jwt", want: false},
		{name: "unsigned_token", header: "Bearer " + wrongAlg, want: false},
	}

	auth := authorizer(zerolog.Nop(), secret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &http1.RequestHeaders{Method: "GET", Path: "/chat"}
			if tt.header != "" {
				req.Add("Authorization", http1.StringValue(tt.header))
			}

			if got := auth(req); got != tt.want {
				t.Errorf("authorizer() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthorizerDisabled(t *testing.T) {
	if authorizer(zerolog.Nop(), "") != nil {
		t.Error("authorizer() != nil without a secret")
	}
}
