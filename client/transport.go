package client

import "context"

// Transport opens the channel pair a session runs over. Implementations
// perform whatever exchange their wire protocol requires to reach a state
// where the out-of-band stream is confirmed readable: spawning a subprocess,
// waiting for an SSE readiness event, or completing an initialize POST.
type Transport interface {
	// Connect establishes the channel and resolves the session identifier,
	// if the transport has a session concept. It must not return a Conn
	// before the receive stream is known readable, and it must honor ctx
	// cancellation while waiting.
	Connect(ctx context.Context) (Conn, error)

	// Name identifies the transport in logs and errors.
	Name() string
}

// Conn is a connected channel pair: a send primitive and a continuously
// readable out-of-band stream.
type Conn interface {
	// Send writes one encoded JSON-RPC message to the send channel. It is
	// safe for concurrent use; transports whose send channel cannot accept
	// interleaved writes (a single pipe) serialize internally.
	Send(ctx context.Context, payload []byte) error

	// Recv blocks until the next raw frame arrives on the out-of-band
	// stream. It returns io.EOF on orderly end of stream and is read by
	// exactly one goroutine, the session's stream reader.
	Recv() ([]byte, error)

	// SessionID returns the identifier resolved during Connect, or the
	// empty string for transports without a session concept.
	SessionID() string

	// Close releases the underlying channel resources and unblocks any
	// in-flight Recv.
	Close() error
}
