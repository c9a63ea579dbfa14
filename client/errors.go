package client

import (
	"errors"
	"fmt"

	"github.com/fkabongo/eventlogclient/internal/dispatch"
	"github.com/fkabongo/eventlogclient/internal/events"
)

// ErrAccessDenied is returned for a server NotAuthenticated response
// or an HTTP 401 from the projections client.
var ErrAccessDenied = events.ErrAccessDenied

// Sentinel errors for the taxonomy members that carry no payload
// (§7). Use errors.Is against these.
var (
	// ErrBadRequest is returned when the server rejects a malformed
	// request.
	ErrBadRequest = errors.New("client: bad request")
	// ErrStreamDeleted is returned when an operation targets a
	// tombstoned stream.
	ErrStreamDeleted = errors.New("client: stream deleted")
	// ErrStreamNotFound is returned when a read targets a stream that
	// has never existed.
	ErrStreamNotFound = errors.New("client: stream not found")
	// ErrEventNotFound is returned when a single-event read has no
	// matching event.
	ErrEventNotFound = errors.New("client: event not found")
	// ErrOperationTimedOut is returned when an operation's local
	// deadline elapses before a response arrives. The same value the
	// dispatcher delivers internally, so errors.Is matches the error
	// Submit actually returns.
	ErrOperationTimedOut = dispatch.ErrOperationTimedOut
	// ErrConnectionLost is returned when the socket disappeared and
	// the reconnection budget is exhausted, or the connection
	// manager has otherwise terminated permanently.
	ErrConnectionLost = dispatch.ErrConnectionLost
	// ErrRetriesExhausted is returned when the dispatcher gives up
	// after repeated transient failures.
	ErrRetriesExhausted = dispatch.ErrRetriesExhausted
	// ErrInvalidFrame is returned for a framing protocol violation.
	ErrInvalidFrame = errors.New("client: invalid frame")
)

// WrongExpectedVersionError reports an optimistic-concurrency
// violation: Given is the precondition the caller supplied, Actual is
// the server-observed version (absent for NoStream/EmptyStream
// violations where the server does not report one).
type WrongExpectedVersionError struct {
	Given  ExpectedVersion
	Actual *int64
}

func (e *WrongExpectedVersionError) Error() string {
	if e.Actual != nil {
		return fmt.Sprintf("client: wrong expected version: given %s, actual %d", e.Given, *e.Actual)
	}
	return fmt.Sprintf("client: wrong expected version: given %s", e.Given)
}

// UnexpectedResponseError reports a response payload that did not
// match what the operation expected for its correlation id.
type UnexpectedResponseError = events.UnexpectedResponseError

// SubscriptionDropReason enumerates why a subscription's terminal
// onDropped callback fired.
type SubscriptionDropReason = events.SubscriptionDropReason

const (
	DropReasonUnsubscribed   = events.DropReasonUnsubscribed
	DropReasonAccessDenied   = events.DropReasonAccessDenied
	DropReasonNotFound       = events.DropReasonNotFound
	DropReasonConnectionLost = events.DropReasonConnectionLost
	DropReasonOverflow       = events.DropReasonOverflow
	DropReasonServerError    = events.DropReasonServerError
)

// SubscriptionDroppedError is the argument to a subscription's
// onDropped terminal callback.
type SubscriptionDroppedError = events.SubscriptionDroppedError
