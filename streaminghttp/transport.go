package streaminghttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ggoodman/mcp-client-go/client"
	"github.com/ggoodman/mcp-client-go/internal/eventstream"
	"github.com/ggoodman/mcp-client-go/jsonrpc"
	"github.com/ggoodman/mcp-client-go/mcp"
)

const (
	// Go matches header names case-insensitively; the canonical form is for
	// readability.
	mcpSessionIDHeader = "Mcp-Session-Id"

	defaultEndpointPath = "/mcp"
)

var _ client.Transport = (*Transport)(nil)

// Transport connects to a unified streaming HTTP endpoint.
type Transport struct {
	baseURL         string
	endpointPath    string
	httpClient      *http.Client
	log             *slog.Logger
	clientInfo      mcp.ImplementationInfo
	capabilities    mcp.ClientCapabilities
	protocolVersion string

	mu      sync.Mutex
	initRes *mcp.InitializeResult
}

// NewTransport configures a streaming HTTP transport against the given base
// URL (scheme://host[:port], no trailing path).
func NewTransport(baseURL string, opts ...Option) *Transport {
	t := &Transport{
		baseURL:         baseURL,
		endpointPath:    defaultEndpointPath,
		httpClient:      http.DefaultClient,
		log:             slog.Default(),
		protocolVersion: mcp.LatestProtocolVersion,
		clientInfo: mcp.ImplementationInfo{
			Name:    "mcp-client-go",
			Version: "0.1.0",
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Option customizes a Transport.
type Option func(*Transport)

// WithHTTPClient overrides the HTTP client used for the handshake, the
// stream, and message POSTs.
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

// WithEndpointPath overrides the endpoint path (default /mcp).
func WithEndpointPath(path string) Option {
	return func(t *Transport) {
		if path != "" {
			t.endpointPath = path
		}
	}
}

// WithClientInfo sets the implementation info sent in the handshake.
func WithClientInfo(info mcp.ImplementationInfo) Option {
	return func(t *Transport) {
		t.clientInfo = info
	}
}

// WithCapabilities sets the client capabilities advertised in the handshake.
func WithCapabilities(caps mcp.ClientCapabilities) Option {
	return func(t *Transport) {
		t.capabilities = caps
	}
}

// WithProtocolVersion overrides the protocol version offered in the
// handshake.
func WithProtocolVersion(v string) Option {
	return func(t *Transport) {
		if v != "" {
			t.protocolVersion = v
		}
	}
}

// Name implements client.Transport.
func (t *Transport) Name() string { return "streaminghttp" }

// InitializeResult returns the handshake result once Connect has succeeded.
func (t *Transport) InitializeResult() *mcp.InitializeResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initRes
}

func (t *Transport) endpointURL() (string, error) {
	base, err := url.Parse(t.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u := *base
	u.Path = t.endpointPath
	return u.String(), nil
}

// Connect performs the initialize handshake to obtain the session
// identifier, then opens the streaming GET. It returns only after the
// stream responded 200 with event-stream framing, the readiness signal for
// this transport.
func (t *Transport) Connect(ctx context.Context) (client.Conn, error) {
	endpoint, err := t.endpointURL()
	if err != nil {
		return nil, err
	}

	initRes, sessionID, err := t.handshake(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.initRes = initRes
	t.mu.Unlock()

	// The stream outlives the handshake deadline; it gets its own
	// cancellation tied to conn.Close.
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set(mcpSessionIDHeader, sessionID)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open stream: unexpected status %d", resp.StatusCode)
	}
	if err := eventstream.ValidateContentType(resp.Header.Get("Content-Type")); err != nil {
		resp.Body.Close()
		cancel()
		return nil, err
	}

	c := &conn{
		log:        t.log,
		httpClient: t.httpClient,
		endpoint:   endpoint,
		sessionID:  sessionID,
		body:       resp.Body,
		cancel:     cancel,
		recvCh:     make(chan []byte, 32),
		done:       make(chan struct{}),
		closing:    make(chan struct{}),
	}
	go c.readStream(eventstream.NewScanner(resp.Body))

	t.log.Debug("stream established", slog.String("session_id", sessionID))
	return c, nil
}

// handshake POSTs initialize and extracts the session id, preferring the
// Mcp-Session-Id response header and falling back to result.sessionId.
func (t *Transport) handshake(ctx context.Context, endpoint string) (*mcp.InitializeResult, string, error) {
	initReq, err := jsonrpc.NewRequest(
		jsonrpc.NewRequestID(uuid.NewString()),
		string(mcp.InitializeMethod),
		&mcp.InitializeRequest{
			ProtocolVersion: t.protocolVersion,
			Capabilities:    t.capabilities,
			ClientInfo:      t.clientInfo,
		},
	)
	if err != nil {
		return nil, "", err
	}
	payload, err := jsonrpc.EncodeMessage(initReq)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("initialize: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("initialize: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("initialize: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	msg, err := jsonrpc.DecodeMessage(body)
	if err != nil {
		return nil, "", fmt.Errorf("initialize: malformed response: %w", err)
	}
	rpcResp := msg.AsResponse()
	if rpcResp == nil {
		return nil, "", fmt.Errorf("initialize: expected a response message, got %s", msg.Type())
	}
	if rpcResp.Error != nil {
		return nil, "", fmt.Errorf("initialize: %w", rpcResp.Error)
	}

	var initRes mcp.InitializeResult
	if err := rpcResp.UnmarshalResult(&initRes); err != nil {
		return nil, "", fmt.Errorf("initialize: %w", err)
	}

	sessionID := resp.Header.Get(mcpSessionIDHeader)
	if sessionID == "" {
		sessionID = initRes.SessionID
	}
	if sessionID == "" {
		return nil, "", fmt.Errorf("initialize: server returned no session id")
	}

	return &initRes, sessionID, nil
}

type conn struct {
	log        *slog.Logger
	httpClient *http.Client
	endpoint   string
	sessionID  string

	body   io.ReadCloser
	cancel context.CancelFunc

	recvCh  chan []byte
	done    chan struct{}
	closing chan struct{}
	readErr error

	closeOnce sync.Once
}

// readStream pumps stream frames into the receive channel. It is the only
// writer of readErr and the only closer of done.
func (c *conn) readStream(scanner *eventstream.Scanner) {
	for {
		ev, err := scanner.Next()
		if err != nil {
			c.readErr = err
			close(c.done)
			return
		}
		if ev.Name != "" && ev.Name != "message" {
			c.log.Debug("skipping non-message event", slog.String("event", ev.Name))
			continue
		}
		select {
		case c.recvCh <- []byte(ev.Data):
		case <-c.closing:
			c.readErr = io.EOF
			close(c.done)
			return
		}
	}
}

// Send POSTs one message with the session header. A 200 response whose body
// is itself a valid JSON-RPC message is folded into the receive path so
// servers that answer inline and servers that answer on the stream look the
// same to the engine.
func (c *conn) Send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set(mcpSessionIDHeader, c.sessionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("post message: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if !json.Valid(body) {
		return nil
	}
	if _, err := jsonrpc.DecodeMessage(body); err != nil {
		// Status/ack bodies ({"status":"accepted"} and friends) are not
		// protocol messages; ignore them.
		return nil
	}

	select {
	case c.recvCh <- body:
	case <-c.done:
	case <-c.closing:
	default:
		c.log.Warn("receive buffer full; dropping inline response body")
	}
	return nil
}

// Recv returns the next inbound frame, draining anything already buffered
// before reporting the stream's end.
func (c *conn) Recv() ([]byte, error) {
	select {
	case frame := <-c.recvCh:
		return frame, nil
	case <-c.done:
		select {
		case frame := <-c.recvCh:
			return frame, nil
		default:
		}
		if c.readErr != nil {
			return nil, c.readErr
		}
		return nil, io.EOF
	}
}

func (c *conn) SessionID() string { return c.sessionID }

// Close cancels the stream request and closes its body, which ends
// readStream and unblocks Recv.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.cancel()
		c.body.Close()
	})
	return nil
}
