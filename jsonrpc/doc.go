// Package jsonrpc implements the JSON-RPC 2.0 message envelope used by all
// client transports: requests, notifications, and responses, plus the
// string-or-number request id type that correlates responses to callers.
//
// The package is a pure codec. It has no opinion about framing: stdio
// transports delimit encoded messages with newlines, HTTP transports carry
// them as POST bodies and SSE data payloads.
package jsonrpc
