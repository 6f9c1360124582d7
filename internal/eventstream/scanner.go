// Package eventstream reads and writes text/event-stream framing. The
// reader side is deliberately lenient: comments, unknown fields, and blank
// keep-alive lines are interleaved with protocol traffic on the same stream
// and must be skipped, not surfaced as errors.
package eventstream

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Event is one server-sent event: an optional event name and the
// concatenated data payload.
type Event struct {
	Name string
	Data string
}

// Scanner yields events from a stream one at a time.
type Scanner struct {
	r *bufio.Reader
}

// NewScanner wraps r for event-at-a-time reading.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReader(r)}
}

// Next blocks until a complete event (terminated by a blank line) has been
// read, the stream ends (io.EOF), or the read fails. Events with an empty
// data payload are skipped; they are keep-alives.
func (s *Scanner) Next() (*Event, error) {
	var (
		name      string
		dataLines []string
	)

	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			// A partial final line without its dispatch blank line is
			// discarded, matching browser EventSource behavior.
			return nil, err
		}

		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			// Dispatch boundary.
			if len(dataLines) == 0 {
				name = ""
				continue
			}
			return &Event{Name: name, Data: strings.Join(dataLines, "\n")}, nil
		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive.
			continue
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimPrefix(strings.TrimPrefix(line, "event:"), " ")
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// Unknown field (id:, retry:, or garbage). Ignored.
		}
	}
}

// WriteFrame emits one event in wire form. An empty name omits the event
// field, which clients read as the default "message" event.
func WriteFrame(w io.Writer, name, data string) error {
	if name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", name); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
