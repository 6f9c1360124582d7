// Package mcp contains the protocol data types and constants the client
// needs on the wire: method name enumerations, the initialize handshake
// shapes, and tool listing/calling payloads. It mirrors the wire
// representation specified by the Model Context Protocol while keeping the
// surface Go-friendly (exported structs with json tags, string constants for
// method names and enumerations).
//
// The package is intentionally free of transport logic: stdio, SSE, and
// streaming HTTP transports import these types but implement their own
// framing and session handling. The correlation engine in package client
// never inspects them at all; it moves opaque JSON-RPC envelopes.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod). Using the constants avoids typographical mistakes
// and keeps a single point of truth as the protocol evolves.
//
// # Compatibility
//
// The LatestProtocolVersion constant reflects the most recent protocol date
// the library targets. The handshake negotiates versions at runtime;
// application code can compare a session's negotiated version with this
// constant to gate optional behaviors.
package mcp
