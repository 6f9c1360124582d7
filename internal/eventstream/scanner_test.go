package eventstream

import (
	"io"
	"strings"
	"testing"
)

func TestScannerSkipsNonProtocolTraffic(t *testing.T) {
	stream := strings.Join([]string{
		": welcome comment",
		"",
		"",
		"retry: 3000",
		"event: message",
		"data: {\"a\":1}",
		"",
		": keep-alive",
		"",
		"data: {\"b\":2}",
		"",
	}, "\n")

	sc := NewScanner(strings.NewReader(stream))

	ev, err := sc.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Name != "message" || ev.Data != `{"a":1}` {
		t.Errorf("first event: got name=%q data=%q", ev.Name, ev.Data)
	}

	ev, err = sc.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Name != "" || ev.Data != `{"b":2}` {
		t.Errorf("second event: got name=%q data=%q", ev.Name, ev.Data)
	}

	if _, err := sc.Next(); err != io.EOF {
		t.Errorf("want io.EOF at end of stream, got %v", err)
	}
}

func TestScannerHandlesCRLFAndMultilineData(t *testing.T) {
	stream := "event: endpoint\r\ndata: /message?sessionId=abc\r\n\r\n" +
		"data: line one\ndata: line two\n\n"

	sc := NewScanner(strings.NewReader(stream))

	ev, err := sc.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Name != "endpoint" || ev.Data != "/message?sessionId=abc" {
		t.Errorf("endpoint event: got name=%q data=%q", ev.Name, ev.Data)
	}

	ev, err = sc.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Data != "line one\nline two" {
		t.Errorf("multiline data: got %q", ev.Data)
	}
}

func TestScannerDiscardsPartialFinalEvent(t *testing.T) {
	// A data line that never got its dispatch blank line before the stream
	// died must not be surfaced as a complete event.
	sc := NewScanner(strings.NewReader("data: {\"truncated\":true}"))
	if ev, err := sc.Next(); err == nil {
		t.Errorf("expected error for truncated stream, got event %+v", ev)
	}
}

func TestWriteFrameRoundTrip(t *testing.T) {
	var sb strings.Builder
	if err := WriteFrame(&sb, "message", `{"id":1}`); err != nil {
		t.Fatal(err)
	}
	if err := WriteFrame(&sb, "", `{"id":2}`); err != nil {
		t.Fatal(err)
	}

	sc := NewScanner(strings.NewReader(sb.String()))

	ev, err := sc.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Name != "message" || ev.Data != `{"id":1}` {
		t.Errorf("got name=%q data=%q", ev.Name, ev.Data)
	}

	ev, err = sc.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Name != "" || ev.Data != `{"id":2}` {
		t.Errorf("got name=%q data=%q", ev.Name, ev.Data)
	}
}

func TestValidateContentType(t *testing.T) {
	if err := ValidateContentType("text/event-stream"); err != nil {
		t.Errorf("bare media type: %v", err)
	}
	if err := ValidateContentType("text/event-stream; charset=utf-8"); err != nil {
		t.Errorf("with parameters: %v", err)
	}
	if err := ValidateContentType("application/json"); err == nil {
		t.Error("expected rejection of application/json")
	}
	if err := ValidateContentType(""); err == nil {
		t.Error("expected rejection of missing content type")
	}
}
