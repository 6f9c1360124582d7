package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-client-go/internal/logtest"
	"github.com/ggoodman/mcp-client-go/jsonrpc"
)

// fakeConn is an in-memory channel pair with a scriptable remote side.
type fakeConn struct {
	sessionID string
	sendErr   error

	sentCh chan []byte
	recvCh chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		sentCh: make(chan []byte, 64),
		recvCh: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Send(ctx context.Context, payload []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	frame := make([]byte, len(payload))
	copy(frame, payload)
	select {
	case c.sentCh <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Recv() ([]byte, error) {
	select {
	case frame := <-c.recvCh:
		return frame, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) SessionID() string { return c.sessionID }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// deliver pushes a raw frame onto the out-of-band channel.
func (c *fakeConn) deliver(frame string) {
	c.recvCh <- []byte(frame)
}

type fakeTransport struct {
	conn         *fakeConn
	connectErr   error
	connectDelay time.Duration
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Connect(ctx context.Context) (Conn, error) {
	if t.connectDelay > 0 {
		select {
		case <-time.After(t.connectDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	return t.conn, nil
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	opts = append([]Option{
		WithLogger(logtest.NewLogger(t)),
		WithPollInterval(5 * time.Millisecond),
	}, opts...)
	c := New(&fakeTransport{conn: conn}, opts...)
	if err := c.Open(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c, conn
}

// respondEcho answers every sent request with a result echoing its params.
func respondEcho(t *testing.T, conn *fakeConn) {
	t.Helper()
	go func() {
		for {
			select {
			case frame := <-conn.sentCh:
				msg, err := jsonrpc.DecodeMessage(frame)
				if err != nil || msg.Type() != jsonrpc.MessageTypeRequest {
					continue
				}
				resp := &jsonrpc.Response{
					JSONRPCVersion: jsonrpc.ProtocolVersion,
					Result:         msg.Params,
					ID:             msg.ID,
				}
				payload, err := jsonrpc.EncodeMessage(resp)
				if err != nil {
					continue
				}
				conn.deliver(string(payload))
			case <-conn.closed:
				return
			}
		}
	}()
}

func TestCallReturnsCorrelatedResponse(t *testing.T) {
	c, conn := newTestClient(t)
	respondEcho(t, conn)

	resp, err := c.CallWithID(t.Context(), jsonrpc.NewRequestID(1), "echo", map[string]string{"message": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(resp.Result), "hi") {
		t.Errorf("response does not echo params: %s", resp.Result)
	}
	if !resp.ID.Equal(jsonrpc.NewRequestID(1)) {
		t.Errorf("wrong id on response: %s", resp.ID)
	}
}

func TestNotifyLeavesNoTableEntry(t *testing.T) {
	c, conn := newTestClient(t)

	if err := c.Notify(t.Context(), "notifications/initialized", nil); err != nil {
		t.Fatal(err)
	}

	select {
	case frame := <-conn.sentCh:
		msg, err := jsonrpc.DecodeMessage(frame)
		if err != nil {
			t.Fatal(err)
		}
		if msg.Type() != jsonrpc.MessageTypeNotification {
			t.Errorf("expected a notification on the wire, got %s", msg.Type())
		}
	case <-time.After(time.Second):
		t.Fatal("notification never sent")
	}

	time.Sleep(20 * time.Millisecond)
	if n := c.table.size(); n != 0 {
		t.Errorf("notification created %d table entries", n)
	}
}

func TestConcurrentCallsResolveInReverseArrivalOrder(t *testing.T) {
	c, conn := newTestClient(t)

	// Collect both requests before answering in reverse order.
	go func() {
		var pending []*jsonrpc.AnyMessage
		for len(pending) < 2 {
			frame := <-conn.sentCh
			msg, err := jsonrpc.DecodeMessage(frame)
			if err != nil {
				continue
			}
			pending = append(pending, msg)
		}
		for i := len(pending) - 1; i >= 0; i-- {
			resp := &jsonrpc.Response{
				JSONRPCVersion: jsonrpc.ProtocolVersion,
				Result:         []byte(fmt.Sprintf(`{"answer_for":%q}`, pending[i].ID.String())),
				ID:             pending[i].ID,
			}
			payload, _ := jsonrpc.EncodeMessage(resp)
			conn.deliver(string(payload))
		}
	}()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := jsonrpc.NewRequestID(i + 1)
			resp, err := c.CallWithID(t.Context(), id, "work", nil)
			if err != nil {
				errs[i] = err
				return
			}
			want := fmt.Sprintf(`{"answer_for":%q}`, id.String())
			if string(resp.Result) != want {
				errs[i] = fmt.Errorf("caller %d got %s, want %s", i, resp.Result, want)
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
}

func TestCallTimeoutOrphansLateResponse(t *testing.T) {
	c, conn := newTestClient(t)

	// Reply well after the caller's deadline.
	go func() {
		frame := <-conn.sentCh
		msg, err := jsonrpc.DecodeMessage(frame)
		if err != nil {
			return
		}
		time.Sleep(150 * time.Millisecond)
		resp := &jsonrpc.Response{
			JSONRPCVersion: jsonrpc.ProtocolVersion,
			Result:         []byte(`{"late":true}`),
			ID:             msg.ID,
		}
		payload, _ := jsonrpc.EncodeMessage(resp)
		conn.deliver(string(payload))
	}()

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err := c.CallWithID(ctx, jsonrpc.NewRequestID("slow"), "slow", nil)
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("want *TimeoutError, got %v", err)
	}
	if timeoutErr.Method != "slow" || timeoutErr.ID != "slow" {
		t.Errorf("timeout lacks diagnostics: %+v", timeoutErr)
	}

	// The late response lands as an orphan; a reap pass clears it.
	deadline := time.Now().Add(time.Second)
	for c.table.size() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("late response never delivered to table")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := c.table.reap(0); n != 1 {
		t.Errorf("reap removed %d entries, want 1", n)
	}
}

func TestMalformedFrameDoesNotBreakDelivery(t *testing.T) {
	c, conn := newTestClient(t)

	go func() {
		<-conn.sentCh
		conn.deliver("this is not even json {")
		conn.deliver(`{"jsonrpc":"2.0","id":3,"result":{"ok":true}}`)
	}()

	resp, err := c.CallWithID(t.Context(), jsonrpc.NewRequestID(3), "sturdy", nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Result) != `{"ok":true}` {
		t.Errorf("wrong response after malformed frame: %s", resp.Result)
	}
}

func TestReaderTerminationFailsCallsFast(t *testing.T) {
	c, conn := newTestClient(t)

	// An in-flight call at stream end must not wait out its full deadline.
	inFlight := make(chan error, 1)
	go func() {
		_, err := c.CallWithID(t.Context(), jsonrpc.NewRequestID("doomed"), "doomed", nil)
		inFlight <- err
	}()

	time.Sleep(20 * time.Millisecond)
	conn.Close() // remote end of stream

	select {
	case err := <-inFlight:
		if !errors.Is(err, ErrSessionClosed) {
			t.Errorf("in-flight call: want ErrSessionClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("in-flight call did not fail fast on reader termination")
	}

	waitForState(t, c, StateClosed)

	if _, err := c.Call(t.Context(), "anything", nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("future call: want ErrSessionClosed, got %v", err)
	}
}

func TestSendFailureReturnsImmediately(t *testing.T) {
	c, conn := newTestClient(t)
	conn.sendErr = errors.New("broken pipe")

	start := time.Now()
	_, err := c.Call(t.Context(), "anything", nil)
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("want ErrSendFailed, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("send failure waited on correlation: %v", elapsed)
	}
}

func TestOpenHandshakeTimeout(t *testing.T) {
	c := New(
		&fakeTransport{conn: newFakeConn(), connectDelay: time.Second},
		WithLogger(logtest.NewLogger(t)),
		WithHandshakeTimeout(30*time.Millisecond),
	)

	start := time.Now()
	err := c.Open(t.Context())
	if !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("want ErrOpenFailed, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("open did not respect handshake timeout: %v", elapsed)
	}
	if got := c.State(); got != StateClosed {
		t.Errorf("failed open should close the session, state is %s", got)
	}
}

func TestOpenIsSingleUse(t *testing.T) {
	c, _ := newTestClient(t)
	if err := c.Open(t.Context()); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("want ErrAlreadyOpen, got %v", err)
	}
}

func TestServerPushRoutesToHandler(t *testing.T) {
	pushed := make(chan *jsonrpc.Request, 1)
	c, conn := newTestClient(t, WithNotificationHandler(func(req *jsonrpc.Request) {
		pushed <- req
	}))

	conn.deliver(`{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info"}}`)

	select {
	case req := <-pushed:
		if req.Method != "notifications/message" {
			t.Errorf("wrong method on pushed notification: %s", req.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("notification never reached handler")
	}

	if n := c.table.size(); n != 0 {
		t.Errorf("server push created %d table entries", n)
	}
}

func TestReaperDropsOrphansPeriodically(t *testing.T) {
	c, conn := newTestClient(t,
		WithCallTimeout(10*time.Millisecond),
		WithReapInterval(20*time.Millisecond),
	)

	// Deliver a response nobody asked for; it is an orphan from birth.
	conn.deliver(`{"jsonrpc":"2.0","id":"nobody","result":{}}`)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if c.table.size() == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("reaper never removed the orphan")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloseTransitionsState(t *testing.T) {
	c, _ := newTestClient(t)

	if got := c.State(); got != StateActive {
		t.Fatalf("want active after open, got %s", got)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if got := c.State(); got != StateClosed {
		t.Fatalf("want closed after close, got %s", got)
	}
	// Idempotent.
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}

func waitForState(t *testing.T, c *Client, want SessionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state never reached %s (now %s)", want, c.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
