package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/mcp-client-go/jsonrpc"
)

// correlationTable holds responses delivered by the stream reader until the
// caller that issued the matching request claims them. The reader is the
// sole writer; callers are each the sole consumer of their own id. One mutex
// guards lookup+removal so two callers can never pop the same entry.
type correlationTable struct {
	log  *slog.Logger
	poll time.Duration

	mu       sync.Mutex
	entries  map[string]*tableEntry
	closed   bool
	closeErr error
}

type tableEntry struct {
	resp       *jsonrpc.Response
	receivedAt time.Time
}

func newCorrelationTable(log *slog.Logger, poll time.Duration) *correlationTable {
	return &correlationTable{
		log:     log,
		poll:    poll,
		entries: make(map[string]*tableEntry),
	}
}

// put inserts a response unconditionally. An unconsumed entry under the same
// id is a duplicate delivery: the newer value replaces it and the discard is
// logged as an anomaly. Never fails.
func (t *correlationTable) put(ctx context.Context, resp *jsonrpc.Response) {
	key := resp.ID.String()

	t.mu.Lock()
	prev, dup := t.entries[key]
	t.entries[key] = &tableEntry{resp: resp, receivedAt: time.Now()}
	t.mu.Unlock()

	if dup {
		t.log.WarnContext(ctx, "duplicate response delivery; discarding earlier value",
			slog.String("id", key),
			slog.Time("first_received_at", prev.receivedAt),
		)
	}
}

// take blocks until a response for id is available (returned and removed in
// one critical section), the deadline elapses (errDeadlineElapsed), the
// table closes underneath the caller (the close cause), or ctx is canceled.
func (t *correlationTable) take(ctx context.Context, id *jsonrpc.RequestID, deadline time.Time) (*jsonrpc.Response, error) {
	key := id.String()

	for {
		t.mu.Lock()
		if entry, ok := t.entries[key]; ok {
			delete(t.entries, key)
			t.mu.Unlock()
			return entry.resp, nil
		}
		if t.closed {
			err := t.closeErr
			t.mu.Unlock()
			return nil, err
		}
		t.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errDeadlineElapsed
		}

		wait := t.poll
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// reap removes entries older than maxAge and returns how many were dropped.
// Entries it removes are orphans: responses whose callers timed out before
// delivery.
func (t *correlationTable) reap(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for key, entry := range t.entries {
		if entry.receivedAt.Before(cutoff) {
			delete(t.entries, key)
			n++
		}
	}
	return n
}

// close wakes every waiting take with cause. Entries already present stay
// claimable until then; new waits fail immediately.
func (t *correlationTable) close(cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.closeErr = cause
}

func (t *correlationTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
