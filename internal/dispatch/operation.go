package dispatch

import (
	"time"

	"github.com/google/uuid"

	"github.com/fkabongo/eventlogclient/internal/config"
	"github.com/fkabongo/eventlogclient/internal/wire"
)

// Outcome is what a Handler returns after observing one inbound
// message addressed to its operation.
type Outcome struct {
	// Terminal, when true, completes the operation: Result/Err are
	// delivered to the caller and the correlation id is released.
	Terminal bool
	Result   any
	Err      error
	// Retry, valid only when Err != nil and !Terminal, marks a
	// server outcome the dispatcher should retry (§4.D): PrepareTimeout,
	// CommitTimeout, ForwardTimeout, NotHandled(NotMaster).
	Retry bool
	// ReResolve additionally asks the dispatcher to have the
	// endpoint resolver re-resolve before the retry is sent, for the
	// NotHandled(NotMaster) case.
	ReResolve bool
}

// Handler decodes one inbound message for an operation and decides
// what happens next. messageType/payload are exactly what arrived on
// the wire for this correlation id.
type Handler func(messageType wire.MessageType, payload []byte) Outcome

// Request describes a one-shot operation submitted through
// Dispatcher.Submit.
type Request struct {
	MessageType wire.MessageType
	Payload     []byte
	Credentials *config.Credentials
	Timeout     time.Duration
	MaxRetries  int
	Handler     Handler
}

// operation is the dispatcher's private bookkeeping record (§3's
// "Operation record"): correlation id, message kind, payload,
// credentials, deadline, retries-left, requester handle, in-flight
// flag.
type operation struct {
	correlationID uuid.UUID
	packet        wire.Packet
	handler       Handler
	deadline      time.Time
	retriesLeft   int
	inFlight      bool
	longLived     bool // subscriptions: no deadline, not auto-resent on reconnect
	resultCh      chan Outcome
	onTerminal    func(Outcome) // subscriptions: called in place of resultCh when the dispatcher ends them
}
