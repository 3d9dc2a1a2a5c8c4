// Package http1 implements the HTTP/1.1 protocol core: typed header
// field names and values, a structured header-value cursor, incremental
// streaming parsers for requests and responses, and the client/server
// session state machines that glue parsing, payload delivery, and
// protocol upgrade together.
//
// The parsers are pure state machines. They consume a prefix of a
// receive buffer, never block, and never touch the network; feeding a
// byte stream in arbitrary chunks yields the same result as feeding it
// in one shot. Transport I/O is a collaborator, reached only through
// the [Transport] contract.
//
// It is based on:
//   - Message syntax and routing: https://datatracker.ietf.org/doc/html/rfc9112
//   - Semantics: https://datatracker.ietf.org/doc/html/rfc9110
package http1
