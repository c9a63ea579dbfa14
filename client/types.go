// Package client is the public facade (§4.F): it wires the frame
// codec, connection manager, operation dispatcher, subscription
// engine, and endpoint resolver together and exposes one async
// operation per request kind plus subscription factories.
package client

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/fkabongo/eventlogclient/internal/events"
)

// ContentType tags whether an event's data or metadata bytes are
// opaque binary or a JSON document.
type ContentType = events.ContentType

const (
	ContentTypeBinary = events.ContentTypeBinary
	ContentTypeJSON   = events.ContentTypeJSON
)

// EventNumber is a position within a single stream. First and Last
// are sentinels rather than literal event numbers.
type EventNumber int64

const (
	// EventNumberFirst reads from the start of a stream.
	EventNumberFirst EventNumber = 0
	// EventNumberLast reads from the most recent event at read time.
	EventNumberLast EventNumber = -1
)

// Position is a pair (commit, prepare) totally ordered
// lexicographically, identifying a point in the $all log.
type Position = events.Position

// FirstPosition is the start of $all.
var FirstPosition = events.FirstPosition

// LastPosition is the sentinel meaning "the most recent position at
// read time".
var LastPosition = events.LastPosition

// ExpectedVersionKind selects the optimistic-concurrency precondition
// of a write.
type ExpectedVersionKind int

const (
	// ExpectedAny performs no optimistic check.
	ExpectedAny ExpectedVersionKind = iota
	// ExpectedNoStream requires the stream not to exist.
	ExpectedNoStream
	// ExpectedEmptyStream requires the stream to exist and be empty.
	ExpectedEmptyStream
	// ExpectedExact requires the last event number to equal Version.
	ExpectedExact
)

// ExpectedVersion is the optimistic-concurrency precondition supplied
// with a write (§3).
type ExpectedVersion struct {
	Kind    ExpectedVersionKind
	Version int64 // only meaningful when Kind == ExpectedExact
}

// Any builds the "no optimistic check" precondition.
func Any() ExpectedVersion { return ExpectedVersion{Kind: ExpectedAny} }

// NoStream builds the "stream must not exist" precondition.
func NoStream() ExpectedVersion { return ExpectedVersion{Kind: ExpectedNoStream} }

// EmptyStream builds the "stream exists and is empty" precondition.
func EmptyStream() ExpectedVersion { return ExpectedVersion{Kind: ExpectedEmptyStream} }

// Exact builds the "last event number must equal n" precondition.
func Exact(n int64) ExpectedVersion { return ExpectedVersion{Kind: ExpectedExact, Version: n} }

func (v ExpectedVersion) String() string {
	switch v.Kind {
	case ExpectedAny:
		return "Any"
	case ExpectedNoStream:
		return "NoStream"
	case ExpectedEmptyStream:
		return "EmptyStream"
	case ExpectedExact:
		return fmt.Sprintf("Exact(%d)", v.Version)
	default:
		return "Unknown"
	}
}

// EventData is one event submitted for append. EventID must be unique
// within the target stream over its lifetime; servers use it for
// write idempotence, so retries and reconnect-triggered resends that
// reuse the same EventID are safe.
type EventData struct {
	EventID         uuid.UUID
	EventType       string
	Data            []byte
	Metadata        []byte
	DataContent     ContentType
	MetadataContent ContentType
}

// NewEventData builds an EventData with a fresh random EventID.
func NewEventData(eventType string, data []byte) EventData {
	return EventData{EventID: uuid.New(), EventType: eventType, Data: data, DataContent: ContentTypeBinary}
}

// EventRecord is one stored event as returned by a read or
// subscription, adding position information to EventData's fields.
type EventRecord = events.EventRecord

// ResolvedEvent pairs an event with the link-to pointer that led to
// it, when link resolution is enabled (§3). When the read encountered
// a plain event, or resolution was disabled, Link is nil and Inner is
// the event itself.
type ResolvedEvent = events.ResolvedEvent

// StreamID is a non-empty textual stream name. Names beginning with
// "$" are system streams (e.g. "$all"); "$$..." denotes a metadata
// stream.
type StreamID = events.StreamID

// AllStreams is the distinguished stream identifier referring to the
// global ordered log.
const AllStreams = events.AllStreams
