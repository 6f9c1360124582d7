// Package streaminghttp implements the client side of the streaming HTTP
// transport: a single endpoint that multiplexes request POSTs and a
// long-lived streaming GET (Server-Sent Events framing) for asynchronous
// replies on one path.
//
// Wire shape
//
//	Handshake   : POST {base}/mcp with an initialize request; the session
//	              identifier arrives in the Mcp-Session-Id response header,
//	              or failing that in result.sessionId of the body
//	Out-of-band : GET  {base}/mcp with Accept: text/event-stream and the
//	              session header; data frames carry JSON-RPC messages
//	Send        : POST {base}/mcp with the session header (200/202 expected)
//
// Some servers answer a POST with the JSON-RPC response in the POST body
// rather than on the stream. The transport folds such bodies into the
// receive path, so the correlation engine sees one channel either way.
//
// Construction
//
//	t := streaminghttp.NewTransport("http://localhost:8080",
//	    streaminghttp.WithClientInfo(mcp.ImplementationInfo{Name: "probe", Version: "0.1.0"}),
//	)
//	c := client.New(t)
//	if err := c.Open(ctx); err != nil { ... }
//
// After Open, Transport.InitializeResult exposes the negotiated handshake
// result; callers must not re-send initialize through the session.
package streaminghttp
