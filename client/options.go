package client

import (
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-client-go/jsonrpc"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultCallTimeout      = 5 * time.Second
	defaultPollInterval     = 100 * time.Millisecond
	defaultCloseWait        = 2 * time.Second
)

// NotificationHandler observes server-initiated pushes (notifications and
// server-to-client requests) seen on the out-of-band stream. It runs on the
// stream reader goroutine, so it must not block.
type NotificationHandler func(req *jsonrpc.Request)

// Option customizes a Client.
type Option func(*Client)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.baseLog = l
		}
	}
}

// WithHandshakeTimeout bounds Open: channel establishment plus handshake
// must complete within d or Open fails rather than hangs.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// WithCallTimeout sets the default per-call deadline used when the caller's
// context carries none.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithPollInterval sets how often a blocked call re-checks the correlation
// table for its response.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithReapInterval enables the periodic orphan reaper: every d, table
// entries older than three call timeouts are dropped and logged. Zero
// (the default) disables reaping; orphans then live as long as the session.
func WithReapInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.reapInterval = d
		}
	}
}

// WithNotificationHandler registers an observer for server-initiated
// messages, which the engine otherwise discards.
func WithNotificationHandler(h NotificationHandler) Option {
	return func(c *Client) {
		if h != nil {
			c.onNotification = h
		}
	}
}
