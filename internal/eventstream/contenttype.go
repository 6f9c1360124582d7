package eventstream

import (
	"fmt"
	"net/http"

	"github.com/elnormous/contenttype"
)

var eventStreamMediaType = contenttype.NewMediaType("text/event-stream")

// ValidateContentType checks that a stream response declared
// text/event-stream, tolerating parameters such as charset.
func ValidateContentType(header string) error {
	if header == "" {
		return fmt.Errorf("missing content type on stream response")
	}

	// contenttype parses from a request; wrap the response header value.
	probe := &http.Request{Header: http.Header{"Content-Type": []string{header}}}
	mt, err := contenttype.GetMediaType(probe)
	if err != nil {
		return fmt.Errorf("invalid stream content type %q: %w", header, err)
	}
	if mt.Type != eventStreamMediaType.Type || mt.Subtype != eventStreamMediaType.Subtype {
		return fmt.Errorf("unexpected stream content type %q: want %s", header, eventStreamMediaType.String())
	}
	return nil
}
