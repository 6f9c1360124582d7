package sse

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/ggoodman/mcp-client-go/client"
	"github.com/ggoodman/mcp-client-go/internal/eventstream"
)

const (
	streamPath  = "/sse"
	messagePath = "/message"

	// endpointEvent is the readiness signal: the server names the POST
	// path the session should send to.
	endpointEvent = "endpoint"
)

var _ client.Transport = (*Transport)(nil)

// Transport connects to an SSE-style server: one GET stream in, one POST
// per message out.
type Transport struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
	sessionID  string
}

// NewTransport configures an SSE transport against the given base URL
// (scheme://host[:port], no trailing path).
func NewTransport(baseURL string, opts ...Option) *Transport {
	t := &Transport{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Option customizes a Transport.
type Option func(*Transport)

// WithHTTPClient overrides the HTTP client used for both the stream and
// POSTs.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *Transport) {
		if hc != nil {
			t.httpClient = hc
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// WithSessionID fixes the session identifier instead of generating one.
func WithSessionID(id string) Option {
	return func(t *Transport) {
		t.sessionID = id
	}
}

// Name implements client.Transport.
func (t *Transport) Name() string { return "sse" }

// Connect opens the event stream and waits for the server's endpoint event,
// bounded by ctx. The stream itself is detached from ctx: it lives until
// Close.
func (t *Transport) Connect(ctx context.Context) (client.Conn, error) {
	sessionID := t.sessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	base, err := url.Parse(t.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	streamURL := *base
	streamURL.Path = streamPath
	streamURL.RawQuery = url.Values{"sessionId": {sessionID}}.Encode()

	// The stream must outlive the handshake deadline, so it gets its own
	// cancellation tied to conn.Close, not to ctx.
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, streamURL.String(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open event stream: unexpected status %d", resp.StatusCode)
	}
	if err := eventstream.ValidateContentType(resp.Header.Get("Content-Type")); err != nil {
		resp.Body.Close()
		cancel()
		return nil, err
	}

	c := &conn{
		log:        t.log,
		httpClient: t.httpClient,
		sessionID:  sessionID,
		body:       resp.Body,
		scanner:    eventstream.NewScanner(resp.Body),
		cancel:     cancel,
	}

	postURL, err := c.awaitEndpoint(ctx, base)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.postURL = postURL

	t.log.Debug("event stream ready",
		slog.String("session_id", sessionID),
		slog.String("post_url", postURL.String()),
	)
	return c, nil
}

type conn struct {
	log        *slog.Logger
	httpClient *http.Client
	sessionID  string
	postURL    *url.URL

	body    io.ReadCloser
	scanner *eventstream.Scanner

	closeOnce sync.Once
	cancel    context.CancelFunc
}

// awaitEndpoint reads the stream until the endpoint event arrives or ctx
// expires. The scanner blocks in a goroutine so the deadline stays
// enforceable.
func (c *conn) awaitEndpoint(ctx context.Context, base *url.URL) (*url.URL, error) {
	type result struct {
		ev  *eventstream.Event
		err error
	}
	ch := make(chan result, 1)
	go func() {
		for {
			ev, err := c.scanner.Next()
			if err != nil {
				ch <- result{err: err}
				return
			}
			if ev.Name == endpointEvent {
				ch <- result{ev: ev}
				return
			}
			// Anything before the endpoint event is out-of-protocol
			// noise; skip it.
		}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for endpoint event: %w", ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("stream ended before endpoint event: %w", res.err)
		}
		ref, err := url.Parse(res.ev.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint %q: %w", res.ev.Data, err)
		}
		return base.ResolveReference(ref), nil
	}
}

// Send POSTs one message to the session's message endpoint. POSTs are
// independent requests, so concurrent senders need no extra serialization.
func (c *conn) Send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.postURL.String(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("post message: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Recv returns the next message frame from the stream, skipping events that
// are not protocol traffic (endpoint re-announcements and named events other
// than "message").
func (c *conn) Recv() ([]byte, error) {
	for {
		ev, err := c.scanner.Next()
		if err != nil {
			return nil, err
		}
		if ev.Name != "" && ev.Name != "message" {
			c.log.Debug("skipping non-message event", slog.String("event", ev.Name))
			continue
		}
		return []byte(ev.Data), nil
	}
}

func (c *conn) SessionID() string { return c.sessionID }

// Close cancels the stream request and closes its body, unblocking Recv.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.body.Close()
	})
	return nil
}
