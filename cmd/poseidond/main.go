// Poseidond is a demo server for the Poseidon protocol core: it
// accepts TCP connections, runs the WebSocket opening handshake over
// HTTP/1.1, and echoes every data message back to the client.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli/v3"
	"github.com/tzrikka/xdg"

	"github.com/tzrikka/poseidon/internal/config"
	"github.com/tzrikka/poseidon/internal/logger"
	"github.com/tzrikka/poseidon/internal/stream"
	"github.com/tzrikka/poseidon/pkg/http1"
	"github.com/tzrikka/poseidon/pkg/websocket"
)

const (
	ConfigDirName  = "poseidon"
	ConfigFileName = "config.toml"
)

func main() {
	bi, _ := debug.ReadBuildInfo()

	cmd := &cli.Command{
		Name:    "poseidond",
		Usage:   "WebSocket echo server built on the Poseidon protocol core",
		Version: bi.Main.Version,
		Flags:   flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			initLog(cmd.Bool("dev") || cmd.Bool("pretty-log"))
			return serve(cmd)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	fs := []cli.Flag{
		&cli.BoolFlag{
			Name:  "dev",
			Usage: "simple setup, but unsafe for production",
		},
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
		},
	}

	return append(fs, config.Flags(configFile())...)
}

// configFile returns the path to the app's configuration file.
// It also creates an empty file if it doesn't already exist.
func configFile() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, ConfigDirName, ConfigFileName)
	if err != nil {
		logger.FatalError("failed to create config file", err)
	}
	return altsrc.StringSourcer(path)
}

// initLog initializes the loggers, based on whether the server is
// running in development mode or not.
func initLog(devMode bool) {
	var handler slog.Handler
	if devMode {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: true,
		})
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: true,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// serve accepts TCP connections and drives one echo session each,
// blocking forever.
func serve(cmd *cli.Command) error {
	port := cmd.Int("http-port")
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	log.Info().Int("port", port).Msg("WebSocket echo server listening")

	for {
		nc, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("failed to accept connection: %w", err)
		}
		go handle(nc, cmd)
	}
}

// handle runs one connection to completion.
func handle(nc net.Conn, cmd *cli.Command) {
	conn := stream.New(nc, log.Logger)
	l := conn.Logger()

	sess := websocket.NewServerSession(conn, websocket.ServerSessionConfig{
		Logger:           l,
		CompressionLevel: compressionLevel(cmd),
		MaxMessageLength: cmd.Int("max-websocket-message-length"),
		MaxContentLength: cmd.Int("max-request-content-length"),
		Authorize:        authorizer(l, cmd.String("auth-secret")),
	})

	sess.OnAccepted = func(uri string) {
		l.Info().Str("uri", uri).Msg("client connected")
	}
	sess.OnMessageFinish = func(opcode websocket.Opcode, data []byte) {
		if opcode != websocket.OpcodeText && opcode != websocket.OpcodeBinary {
			return
		}
		if err := sess.Send(opcode, data); err != nil {
			l.Warn().Err(err).Msg("echo failed")
			sess.ShutDown(websocket.StatusInternalError, "echo failed")
		}
	}
	sess.OnClose = func(status websocket.StatusCode, reason string) {
		l.Info().Str("close_status", status.String()).Str("close_reason", reason).
			Msg("client disconnected")
	}

	conn.Run(sess)
}

// compressionLevel maps the `default_compression_level` setting to
// the parser's configuration, where 0 means "disable the offer".
func compressionLevel(cmd *cli.Command) int {
	level := cmd.Int("default-compression-level")
	if level == 0 {
		return websocket.CompressionDisabled
	}
	return level
}

// authorizer vets handshake requests with a JWT bearer token when a
// secret is configured; otherwise all clients are admitted.
func authorizer(l zerolog.Logger, secret string) func(*http1.RequestHeaders) bool {
	if secret == "" {
		return nil
	}

	return func(req *http1.RequestHeaders) bool {
		auth := req.Header("Authorization")
		if auth == nil {
			l.Warn().Msg("handshake rejected: no Authorization header")
			return false
		}

		raw, ok := strings.CutPrefix(auth.AsString(), "Bearer ")
		if !ok {
			l.Warn().Msg("handshake rejected: not a bearer token")
			return false
		}

		_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil {
			l.Warn().Err(err).Msg("handshake rejected: invalid token")
			return false
		}
		return true
	}
}
