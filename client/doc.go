// Package client implements the transport-agnostic half of a streaming
// JSON-RPC client: a correlation engine that sends requests on one channel
// and matches their asynchronous, possibly out-of-order replies arriving on
// a separately-read stream back to the waiting caller.
//
// Responsibilities
//   - Session lifecycle (handshake, open/close state machine, reader ownership)
//   - Response correlation by request id with bounded waits
//   - Fire-and-forget notifications
//   - Anomaly surfacing (duplicate deliveries, malformed frames, orphans)
//
// Transports supply only channel establishment and framing via the Transport
// and Conn interfaces; the stdio, sse, and streaminghttp packages each provide
// one. The engine itself never interprets method semantics: it moves opaque
// jsonrpc envelopes.
//
// Construction
//
//	c := client.New(stdio.NewTransport("./mcp-server"),
//	    client.WithCallTimeout(5*time.Second),
//	)
//	if err := c.Open(ctx); err != nil { ... }
//	defer c.Close()
//
//	resp, err := c.Call(ctx, "tools/list", nil)
//
// # Waiting model
//
// A caller blocked in Call polls the correlation table at a short fixed
// interval (WithPollInterval, default 100ms) up to its deadline. Polling is
// a deliberate simplicity tradeoff given the low request rates this client
// targets; the table API admits a notify-on-insert implementation without
// any caller-visible change.
//
// # Orphaned responses
//
// A response that arrives after its caller timed out stays in the table with
// nobody left to claim it. Long-lived sessions that accumulate timeouts
// should enable the periodic reaper (WithReapInterval) to bound memory;
// without it the entries persist for the session's lifetime.
package client
