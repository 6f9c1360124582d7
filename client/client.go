package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/mcp-client-go/internal/logctx"
	"github.com/ggoodman/mcp-client-go/jsonrpc"
)

// SessionState tracks the session lifecycle.
type SessionState string

const (
	StateUnestablished SessionState = "unestablished"
	StateHandshaking   SessionState = "handshaking"
	StateActive        SessionState = "active"
	StateClosing       SessionState = "closing"
	StateClosed        SessionState = "closed"
)

// Client is one logical session against a remote JSON-RPC server. It owns
// the transport channel, the stream reader goroutine that continuously
// drains the out-of-band stream, and the correlation table that pairs
// responses with waiting callers. A Client is single-use: once closed it
// cannot be reopened.
type Client struct {
	transport Transport
	baseLog   *slog.Logger
	log       *slog.Logger

	handshakeTimeout time.Duration
	callTimeout      time.Duration
	pollInterval     time.Duration
	reapInterval     time.Duration
	onNotification   NotificationHandler

	nextID atomic.Int64

	mu         sync.Mutex
	state      SessionState
	conn       Conn
	readerDone chan struct{}

	table *correlationTable
}

// New builds a Client over the given transport. The session is not touched
// until Open.
func New(transport Transport, opts ...Option) *Client {
	c := &Client{
		transport:        transport,
		baseLog:          slog.Default(),
		handshakeTimeout: defaultHandshakeTimeout,
		callTimeout:      defaultCallTimeout,
		pollInterval:     defaultPollInterval,
		state:            StateUnestablished,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = slog.New(logctx.Handler{Handler: c.baseLog.Handler()})
	c.table = newCorrelationTable(c.log, c.pollInterval)
	return c
}

// Open establishes the session: it runs the transport's channel
// establishment and handshake bounded by the handshake timeout, then starts
// the stream reader. It returns only once the out-of-band stream is
// confirmed readable or the attempt has conclusively failed.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUnestablished {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyOpen, state)
	}
	c.state = StateHandshaking
	c.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()

	conn, err := c.transport.Connect(hctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		c.table.close(ErrSessionClosed)
		return fmt.Errorf("%w: %s transport: %w", ErrOpenFailed, c.transport.Name(), err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateActive
	c.readerDone = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(conn)
	if c.reapInterval > 0 {
		go c.reapLoop()
	}

	c.log.InfoContext(c.sessionCtx(context.Background()), "session established")
	return nil
}

// Call sends a request with an auto-allocated id and blocks until the
// correlated response arrives or the deadline elapses. The deadline is the
// caller context's, when it carries one, and the configured call timeout
// otherwise.
func (c *Client) Call(ctx context.Context, method string, params any) (*jsonrpc.Response, error) {
	id := jsonrpc.NewRequestID(c.nextID.Add(1))
	return c.CallWithID(ctx, id, method, params)
}

// CallWithID is Call with a caller-chosen id. The caller is responsible for
// keeping ids unique among its in-flight requests on this session.
func (c *Client) CallWithID(ctx context.Context, id *jsonrpc.RequestID, method string, params any) (*jsonrpc.Response, error) {
	conn, err := c.activeConn()
	if err != nil {
		return nil, err
	}

	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	payload, err := jsonrpc.EncodeMessage(req)
	if err != nil {
		return nil, err
	}

	ctx = logctx.WithRPCMessage(c.sessionCtx(ctx), &logctx.RPCMessage{
		Method: method,
		ID:     id.String(),
		Type:   string(jsonrpc.MessageTypeRequest),
	})

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.callTimeout)
	}

	if err := conn.Send(ctx, payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSendFailed, method, err)
	}
	c.log.DebugContext(ctx, "request sent")

	resp, err := c.table.take(ctx, id, deadline)
	switch {
	case err == nil:
		return resp, nil
	case errors.Is(err, errDeadlineElapsed) || errors.Is(err, context.DeadlineExceeded):
		c.log.WarnContext(ctx, "call timed out; any late response will be orphaned")
		return nil, &TimeoutError{Method: method, ID: id.String()}
	default:
		// Session closed underneath the caller, or caller cancellation.
		return nil, err
	}
}

// Notify sends a fire-and-forget notification. No id exists to correlate
// on, so there is nothing to wait for beyond the write itself.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	conn, err := c.activeConn()
	if err != nil {
		return err
	}

	n, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	payload, err := jsonrpc.EncodeMessage(n)
	if err != nil {
		return err
	}

	if err := conn.Send(ctx, payload); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSendFailed, method, err)
	}
	return nil
}

// Close shuts the session down: it closes the channel to unblock the stream
// reader, waits a bounded interval for the reader to stop, and fails any
// callers still waiting on the correlation table. Safe to call more than
// once.
func (c *Client) Close() error {
	c.mu.Lock()
	switch c.state {
	case StateUnestablished, StateHandshaking:
		c.state = StateClosed
		c.mu.Unlock()
		c.table.close(ErrSessionClosed)
		return nil
	case StateClosing, StateClosed:
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	conn := c.conn
	readerDone := c.readerDone
	c.mu.Unlock()

	err := conn.Close()

	select {
	case <-readerDone:
	case <-time.After(defaultCloseWait):
		c.log.WarnContext(c.sessionCtx(context.Background()), "stream reader did not stop in time; abandoning it")
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	c.table.close(ErrSessionClosed)
	return err
}

// SessionID returns the session identifier the transport resolved during
// Open, or "" before Open and for transports without a session concept.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ""
	}
	return c.conn.SessionID()
}

// State reports the current session lifecycle state.
func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) activeConn() (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return nil, fmt.Errorf("%w (state %s)", ErrSessionClosed, c.state)
	}
	return c.conn, nil
}

func (c *Client) sessionCtx(ctx context.Context) context.Context {
	c.mu.Lock()
	sid := ""
	if c.conn != nil {
		sid = c.conn.SessionID()
	}
	state := c.state
	c.mu.Unlock()

	return logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sid,
		Transport: c.transport.Name(),
		State:     string(state),
	})
}

// readLoop is the stream reader: the one goroutine draining the out-of-band
// channel for the session's lifetime. Decode failures are absorbed here so
// a single bad frame never takes the session down; end of stream or a
// transport error is fatal to the session.
func (c *Client) readLoop(conn Conn) {
	ctx := c.sessionCtx(context.Background())

	defer func() {
		c.mu.Lock()
		wasClosing := c.state == StateClosing || c.state == StateClosed
		c.state = StateClosed
		readerDone := c.readerDone
		c.mu.Unlock()

		c.table.close(ErrSessionClosed)
		close(readerDone)
		if !wasClosing {
			c.log.InfoContext(ctx, "session closed by reader termination")
		}
	}()

	for {
		frame, err := conn.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.log.DebugContext(ctx, "receive stream ended")
			} else if !c.isShuttingDown() {
				c.log.ErrorContext(ctx, "receive stream failed", slog.String("error", err.Error()))
			}
			return
		}

		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}

		msg, err := jsonrpc.DecodeMessage(frame)
		if err != nil {
			c.log.WarnContext(ctx, "dropping malformed frame", slog.String("error", err.Error()))
			continue
		}

		switch msg.Type() {
		case jsonrpc.MessageTypeResponse:
			resp := msg.AsResponse()
			if resp.ID.IsNil() {
				c.log.WarnContext(ctx, "dropping response without id")
				continue
			}
			mctx := logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
				ID:   resp.ID.String(),
				Type: string(jsonrpc.MessageTypeResponse),
			})
			c.table.put(mctx, resp)
		default:
			req := msg.AsRequest()
			if c.onNotification != nil {
				c.onNotification(req)
				continue
			}
			c.log.DebugContext(ctx, "ignoring server-initiated message",
				slog.String("method", req.Method),
				slog.String("type", string(msg.Type())),
			)
		}
	}
}

// reapLoop periodically drops orphaned table entries. An orphan's caller
// gave up at least one full call timeout ago, so three timeouts is a
// comfortably late cutoff.
func (c *Client) reapLoop() {
	ctx := c.sessionCtx(context.Background())
	ticker := time.NewTicker(c.reapInterval)
	defer ticker.Stop()

	c.mu.Lock()
	readerDone := c.readerDone
	c.mu.Unlock()

	for {
		select {
		case <-readerDone:
			return
		case <-ticker.C:
			if n := c.table.reap(3 * c.callTimeout); n > 0 {
				c.log.WarnContext(ctx, "reaped orphaned responses", slog.Int("count", n))
			}
		}
	}
}

func (c *Client) isShuttingDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateClosing || c.state == StateClosed
}
