// Package config defines the CLI flags that configure the protocol
// core: payload and message length limits, and the compression level
// offered for permessage-deflate. These flags can also be set using
// environment variables and the application's configuration file.
package config

import (
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

// Defaults for the `network.http.*` settings.
const (
	DefaultMaxContentLength = 1048576 // 1 MiB
	DefaultMaxMessageLength = 1048576 // 1 MiB
	DefaultCompressionLevel = 6
	DefaultHTTPPort         = 8080
)

// Flags defines CLI flags for the `network.http.*` settings consumed
// by the HTTP and WebSocket parsers.
func Flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "http-port",
			Usage: "TCP port of the HTTP/WebSocket listener",
			Value: DefaultHTTPPort,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("POSEIDON_HTTP_PORT"),
				toml.TOML("network.http.port", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "max-request-content-length",
			Usage: "upper bound of request payload accumulation, in bytes",
			Value: DefaultMaxContentLength,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("POSEIDON_MAX_REQUEST_CONTENT_LENGTH"),
				toml.TOML("network.http.max_request_content_length", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "max-response-content-length",
			Usage: "upper bound of response payload accumulation, in bytes",
			Value: DefaultMaxContentLength,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("POSEIDON_MAX_RESPONSE_CONTENT_LENGTH"),
				toml.TOML("network.http.max_response_content_length", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "max-websocket-message-length",
			Usage: "upper bound of one decompressed WebSocket message, in bytes",
			Value: DefaultMaxMessageLength,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("POSEIDON_MAX_WEBSOCKET_MESSAGE_LENGTH"),
				toml.TOML("network.http.max_websocket_message_length", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "default-compression-level",
			Usage: "permessage-deflate compression level (0 disables the offer)",
			Value: DefaultCompressionLevel,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("POSEIDON_DEFAULT_COMPRESSION_LEVEL"),
				toml.TOML("network.http.default_compression_level", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "auth-secret",
			Usage: "HMAC secret for JWT bearer tokens on WebSocket handshakes (empty disables the check)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("POSEIDON_AUTH_SECRET"),
				toml.TOML("network.http.auth_secret", configFilePath),
			),
		},
	}
}
