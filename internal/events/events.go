// Package events holds the event/subscription value types shared
// between the public client facade and the internal subscription
// engine, so neither has to import the other.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrAccessDenied is returned for a server NotAuthenticated response
// or an HTTP 401 from the projections client.
var ErrAccessDenied = errors.New("client: access denied")

// ContentType tags whether an event's data or metadata bytes are
// opaque binary or a JSON document.
type ContentType int

const (
	ContentTypeBinary ContentType = iota
	ContentTypeJSON
)

// Position is a pair (commit, prepare) totally ordered
// lexicographically, identifying a point in the $all log.
type Position struct {
	Commit  uint64
	Prepare uint64
}

// FirstPosition is the start of $all.
var FirstPosition = Position{Commit: 0, Prepare: 0}

// LastPosition is the sentinel meaning "the most recent position at
// read time".
var LastPosition = Position{Commit: ^uint64(0), Prepare: ^uint64(0)}

// Less orders positions lexicographically by (commit, prepare).
func (p Position) Less(o Position) bool {
	if p.Commit != o.Commit {
		return p.Commit < o.Commit
	}
	return p.Prepare < o.Prepare
}

// LessOrEqual is used by the catch-up de-duplication policy (§4.E).
func (p Position) LessOrEqual(o Position) bool {
	return p == o || p.Less(o)
}

// EventRecord is one stored event as returned by a read or
// subscription, adding position information to EventData's fields.
type EventRecord struct {
	StreamID    string
	EventNumber int64
	EventID     uuid.UUID
	EventType   string
	Data        []byte
	Metadata    []byte
	DataContent ContentType
	MetaContent ContentType
	CreatedAt   time.Time
	CommitPos   Position
}

// ResolvedEvent pairs an event with the link-to pointer that led to
// it, when link resolution is enabled (§3). When the read encountered
// a plain event, or resolution was disabled, Link is nil and Inner is
// the event itself.
type ResolvedEvent struct {
	Inner EventRecord
	Link  *EventRecord
}

// StreamID is a non-empty textual stream name. Names beginning with
// "$" are system streams (e.g. "$all"); "$$..." denotes a metadata
// stream.
type StreamID string

// AllStreams is the distinguished stream identifier referring to the
// global ordered log.
const AllStreams StreamID = "$all"

// IsSystem reports whether id names a system stream.
func (id StreamID) IsSystem() bool { return len(id) > 0 && id[0] == '$' }

// IsMetadata reports whether id names a metadata stream.
func (id StreamID) IsMetadata() bool { return len(id) > 1 && id[0] == '$' && id[1] == '$' }

// SubscriptionDropReason enumerates why a subscription's terminal
// onDropped callback fired.
type SubscriptionDropReason int

const (
	DropReasonUnsubscribed SubscriptionDropReason = iota
	DropReasonAccessDenied
	DropReasonNotFound
	DropReasonConnectionLost
	DropReasonOverflow
	DropReasonServerError
)

func (r SubscriptionDropReason) String() string {
	switch r {
	case DropReasonUnsubscribed:
		return "Unsubscribed"
	case DropReasonAccessDenied:
		return "AccessDenied"
	case DropReasonNotFound:
		return "NotFound"
	case DropReasonConnectionLost:
		return "ConnectionLost"
	case DropReasonOverflow:
		return "Overflow"
	default:
		return "ServerError"
	}
}

// SubscriptionDroppedError is the argument to a subscription's
// onDropped terminal callback.
type SubscriptionDroppedError struct {
	Reason SubscriptionDropReason
	Cause  error
}

func (e *SubscriptionDroppedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("client: subscription dropped (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("client: subscription dropped (%s)", e.Reason)
}

func (e *SubscriptionDroppedError) Unwrap() error { return e.Cause }

// UnexpectedResponseError reports a response payload that did not
// match what the operation expected for its correlation id.
type UnexpectedResponseError struct {
	MessageType byte
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("client: unexpected response (message type 0x%02x)", e.MessageType)
}
