package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ggoodman/mcp-client-go/client"
	"github.com/ggoodman/mcp-client-go/internal/eventstream"
	"github.com/ggoodman/mcp-client-go/internal/logtest"
	"github.com/ggoodman/mcp-client-go/jsonrpc"
)

// fakeServer implements the wire protocol this transport expects: a GET
// stream announcing its POST endpoint, and a POST sink that answers over
// the stream.
type fakeServer struct {
	t *testing.T

	mu       sync.Mutex
	sessions map[string]chan string

	// respond maps an inbound request to the frames to stream back. The
	// default echoes params as the result.
	respond func(req *jsonrpc.AnyMessage) []string
}

func newFakeServer(t *testing.T) *fakeServer {
	return &fakeServer{
		t:        t,
		sessions: make(map[string]chan string),
	}
}

func (s *fakeServer) session(id string) chan string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.sessions[id]
	if !ok {
		ch = make(chan string, 16)
		s.sessions[id] = ch
	}
	return ch
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/sse":
		s.serveStream(w, r)
	case "/message":
		s.serveMessage(w, r)
	case "/health":
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func (s *fakeServer) serveStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.t.Fatal("response writer is not a flusher")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)

	endpoint := fmt.Sprintf("/message?sessionId=%s", sessionID)
	if err := eventstream.WriteFrame(w, "endpoint", endpoint); err != nil {
		return
	}
	flusher.Flush()

	ch := s.session(sessionID)
	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-ch:
			if err := eventstream.WriteFrame(w, "message", frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *fakeServer) serveMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg, err := jsonrpc.DecodeMessage(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if msg.Type() == jsonrpc.MessageTypeRequest {
		ch := s.session(sessionID)
		for _, frame := range s.answers(msg) {
			ch <- frame
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *fakeServer) answers(msg *jsonrpc.AnyMessage) []string {
	if s.respond != nil {
		return s.respond(msg)
	}
	result := msg.Params
	if len(result) == 0 {
		result = []byte(`{}`)
	}
	payload, err := jsonrpc.EncodeMessage(&jsonrpc.Response{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Result:         result,
		ID:             msg.ID,
	})
	if err != nil {
		s.t.Errorf("encode response: %v", err)
		return nil
	}
	return []string{string(payload)}
}

func startServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestConnectWaitsForEndpointEvent(t *testing.T) {
	fs := newFakeServer(t)
	srv := startServer(t, fs)

	tr := NewTransport(srv.URL, WithLogger(logtest.NewLogger(t)))
	conn, err := tr.Connect(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := uuid.Parse(conn.SessionID()); err != nil {
		t.Errorf("session id %q is not a uuid: %v", conn.SessionID(), err)
	}
}

func TestSessionIDPropagatesToPosts(t *testing.T) {
	fs := newFakeServer(t)
	srv := startServer(t, fs)

	const fixed = "11111111-2222-3333-4444-555555555555"
	tr := NewTransport(srv.URL,
		WithLogger(logtest.NewLogger(t)),
		WithSessionID(fixed),
	)
	conn, err := tr.Connect(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if got := conn.SessionID(); got != fixed {
		t.Fatalf("session id = %q, want %q", got, fixed)
	}

	// The endpoint event carried the session id; a Send must land on that
	// session's channel and flow back over the stream.
	if err := conn.Send(t.Context(), []byte(`{"jsonrpc":"2.0","method":"echo","params":{"k":"v"},"id":7}`)); err != nil {
		t.Fatal(err)
	}
	frame, err := conn.Recv()
	if err != nil {
		t.Fatal(err)
	}
	msg, err := jsonrpc.DecodeMessage(frame)
	if err != nil {
		t.Fatal(err)
	}
	if !msg.ID.Equal(jsonrpc.NewRequestID(7)) {
		t.Errorf("response answered id %v, want 7", msg.ID)
	}
}

func TestCallRoundTrip(t *testing.T) {
	fs := newFakeServer(t)
	srv := startServer(t, fs)

	c := client.New(NewTransport(srv.URL, WithLogger(logtest.NewLogger(t))),
		client.WithLogger(logtest.NewLogger(t)),
		client.WithPollInterval(5*time.Millisecond),
	)
	if err := c.Open(t.Context()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	resp, err := c.Call(t.Context(), "echo", map[string]string{"message": "over sse"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(resp.Result), "over sse") {
		t.Errorf("echo lost the message: %s", resp.Result)
	}
}

func TestReverseOrderResponsesCorrelate(t *testing.T) {
	fs := newFakeServer(t)

	// Hold the first request until the second arrives, then answer both in
	// reverse arrival order.
	var (
		mu      sync.Mutex
		pending []*jsonrpc.AnyMessage
	)
	fs.respond = func(req *jsonrpc.AnyMessage) []string {
		mu.Lock()
		defer mu.Unlock()
		pending = append(pending, req)
		if len(pending) < 2 {
			return nil
		}
		var frames []string
		for i := len(pending) - 1; i >= 0; i-- {
			payload, err := jsonrpc.EncodeMessage(&jsonrpc.Response{
				JSONRPCVersion: jsonrpc.ProtocolVersion,
				Result:         pending[i].Params,
				ID:             pending[i].ID,
			})
			if err != nil {
				t.Errorf("encode: %v", err)
				continue
			}
			frames = append(frames, string(payload))
		}
		pending = nil
		return frames
	}
	srv := startServer(t, fs)

	c := client.New(NewTransport(srv.URL, WithLogger(logtest.NewLogger(t))),
		client.WithLogger(logtest.NewLogger(t)),
		client.WithPollInterval(5*time.Millisecond),
	)
	if err := c.Open(t.Context()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("msg-%d", i)
			resp, err := c.Call(context.Background(), "echo", map[string]string{"message": want})
			if err != nil {
				t.Errorf("call %d: %v", i, err)
				return
			}
			if !strings.Contains(string(resp.Result), want) {
				t.Errorf("call %d got someone else's result: %s", i, resp.Result)
			}
		}(i)
	}
	wg.Wait()
}

func TestConnectRejectsErrorStatus(t *testing.T) {
	srv := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))

	tr := NewTransport(srv.URL, WithLogger(logtest.NewLogger(t)))
	if _, err := tr.Connect(t.Context()); err == nil {
		t.Fatal("expected connect to fail on 500")
	}
}

func TestConnectRejectsWrongContentType(t *testing.T) {
	srv := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	}))

	tr := NewTransport(srv.URL, WithLogger(logtest.NewLogger(t)))
	if _, err := tr.Connect(t.Context()); err == nil {
		t.Fatal("expected connect to reject a non-event-stream response")
	}
}

func TestConnectTimesOutWithoutEndpointEvent(t *testing.T) {
	srv := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": keep-alive\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))

	tr := NewTransport(srv.URL, WithLogger(logtest.NewLogger(t)))
	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	_, err := tr.Connect(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline error, got %v", err)
	}
}

func TestSendRejectsErrorStatus(t *testing.T) {
	fs := newFakeServer(t)
	mux := http.NewServeMux()
	mux.Handle("/sse", fs)
	mux.HandleFunc("/message", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	srv := startServer(t, mux)

	tr := NewTransport(srv.URL, WithLogger(logtest.NewLogger(t)))
	conn, err := tr.Connect(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.Send(t.Context(), []byte(`{"jsonrpc":"2.0","method":"m","id":1}`)); err == nil {
		t.Fatal("expected send to fail on 503")
	}
}
