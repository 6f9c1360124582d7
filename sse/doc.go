// Package sse implements the SSE transport: a long-lived GET stream carries
// server-to-client traffic while each client-to-server message is its own
// POST. The session identifier is chosen client-side and carried as a query
// parameter on both paths.
//
// Wire shape
//
//	Out-of-band : GET  {base}/sse?sessionId={id}   (text/event-stream)
//	Send        : POST {base}/message?sessionId={id} (200/202 expected)
//
// The server announces readiness with an "endpoint" event whose data is the
// POST path to use; Connect does not return before observing it. Subsequent
// "message" events carry JSON-RPC frames. Comments and keep-alive blanks on
// the stream are skipped.
package sse
