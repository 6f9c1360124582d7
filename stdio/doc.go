// Package stdio implements the pipe transport: the client spawns the server
// binary as a subprocess and exchanges newline-delimited JSON-RPC messages
// over its stdin/stdout. It is intended for local development and for
// servers distributed as plain executables.
//
// Characteristics
//
//	Connection model : 1 subprocess <-> 1 session
//	Sessions         : None; the process is the session
//	Send channel     : server stdin (writes serialized; a pipe cannot
//	                   accept interleaved concurrent writes)
//	Out-of-band      : server stdout, one JSON object per line
//
// The server's stderr is drained into the logger so diagnostics are not
// lost and the child never blocks on a full pipe.
//
// Example:
//
//	t := stdio.NewTransport("./mcp-server", stdio.WithArgs("--transport", "stdio"))
//	c := client.New(t)
//	if err := c.Open(ctx); err != nil { log.Fatal(err) }
//	defer c.Close()
//
// WithIO substitutes in-memory pipes for the subprocess, which is how the
// package's own tests script a fake server.
package stdio
