package client

import (
	"errors"
	"fmt"
)

var (
	// ErrOpenFailed indicates the handshake or channel establishment failed.
	// Fatal to the session: the client never becomes Active.
	ErrOpenFailed = errors.New("session open failed")

	// ErrSendFailed indicates the transport write failed. The caller's
	// single attempt fails; nothing is retried and no other in-flight call
	// is affected.
	ErrSendFailed = errors.New("send failed")

	// ErrSessionClosed indicates the session is closed, either explicitly
	// or because the stream reader terminated. Every outstanding and future
	// call fails with it rather than waiting out its deadline.
	ErrSessionClosed = errors.New("session closed")

	// ErrAlreadyOpen is returned by Open on a session that already ran its
	// handshake. A Client is single-use.
	ErrAlreadyOpen = errors.New("session already opened")

	// errDeadlineElapsed is the table's internal timeout signal; the
	// dispatcher translates it into a *TimeoutError with call context.
	errDeadlineElapsed = errors.New("deadline elapsed")
)

// TimeoutError reports that no correlated response arrived within the
// caller's deadline. The method and id identify the abandoned call; if its
// response arrives later it is orphaned in the correlation table.
type TimeoutError struct {
	Method string
	ID     string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for response: method=%s id=%s", e.Method, e.ID)
}
