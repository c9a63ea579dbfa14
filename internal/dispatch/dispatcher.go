// Package dispatch implements the operation dispatcher (§4.D): it owns
// the correlation-id → operation-record mapping, injects credentials,
// retries transient server outcomes, enforces per-operation timeouts,
// and routes inbound responses (and, for subscriptions, inbound
// pushes) back to whoever registered the correlation id.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fkabongo/eventlogclient/internal/config"
	"github.com/fkabongo/eventlogclient/internal/metrics"
	"github.com/fkabongo/eventlogclient/internal/wire"
)

// ErrRetriesExhausted is delivered when an operation's retry budget
// runs out without a definitive outcome ("Retried-too-many-times").
var ErrRetriesExhausted = errors.New("dispatch: retried too many times")

// ErrConnectionLost is delivered to every outstanding operation and
// subscription registration when the connection manager terminates
// permanently, or (for subscriptions only) on any connection loss.
var ErrConnectionLost = errors.New("dispatch: connection lost")

// Sender is the connection manager's outward-facing seam: handing a
// packet to it enqueues it for the socket in FIFO order (§5).
type Sender interface {
	Send(p wire.Packet)
}

// Dispatcher is a single-goroutine actor; all of its state is only
// ever touched from its own run loop, per §5's run-to-completion
// rule.
type Dispatcher struct {
	sender        Sender
	defaultCreds  *config.Credentials
	metrics       *metrics.Dispatcher
	reResolve     func()
	cmds          chan any
	done          chan struct{}
	closeOnce     sync.Once
}

type cmdSubmit struct {
	corrID uuid.UUID
	req    Request
}

type cmdRegister struct {
	corrID     uuid.UUID
	packet     wire.Packet
	handler    Handler
	onTerminal func(Outcome)
}

type cmdInbound struct {
	corrID      uuid.UUID
	messageType wire.MessageType
	payload     []byte
}

type cmdUnregister struct{ corrID uuid.UUID }
type cmdFail struct {
	corrID uuid.UUID
	err    error
}
type cmdConnectionLost struct{}
type cmdReconnected struct{}
type cmdTerminated struct{}

// New constructs a Dispatcher. reResolve, if non-nil, is invoked when
// a retried operation reports NotHandled(NotMaster), so the caller can
// force the endpoint resolver to pick a fresh master before the next
// connect.
func New(sender Sender, defaultCreds *config.Credentials, m *metrics.Dispatcher, reResolve func()) *Dispatcher {
	d := &Dispatcher{
		sender:       sender,
		defaultCreds: defaultCreds,
		metrics:      m,
		reResolve:    reResolve,
		cmds:         make(chan any, 64),
		done:         make(chan struct{}),
	}
	go d.run()
	return d
}

// Submit installs a one-shot operation and blocks until it completes,
// the request's own timeout elapses (OperationTimedOut), or ctx is
// cancelled, whichever comes first.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (any, error) {
	corrID := uuid.New()
	resultCh := make(chan Outcome, 1)
	select {
	case d.cmds <- cmdSubmitWithResult{cmdSubmit{corrID: corrID, req: req}, resultCh}:
	case <-d.done:
		return nil, ErrConnectionLost
	}
	select {
	case out := <-resultCh:
		return out.Result, out.Err
	case <-ctx.Done():
		d.discard(corrID)
		return nil, ctx.Err()
	case <-d.done:
		return nil, ErrConnectionLost
	}
}

type cmdSubmitWithResult struct {
	cmdSubmit
	resultCh chan Outcome
}

// Register installs a long-lived correlation id (a subscription): no
// deadline, no retries, never auto-resent across a reconnect. Inbound
// messages are routed to handler until the subscription itself calls
// Unregister or the dispatcher delivers a terminal ConnectionLost.
// onTerminal, if non-nil, is invoked exactly once when the
// subscription's correlation id is released for any terminal reason
// (a terminal Handler outcome, ConnectionLost, or Terminated) — the
// only way a subscription learns its registration ended, since
// Register has no result channel the way Submit does.
func (d *Dispatcher) Register(corrID uuid.UUID, packet wire.Packet, handler Handler, onTerminal func(Outcome)) {
	select {
	case d.cmds <- cmdRegister{corrID: corrID, packet: packet, handler: handler, onTerminal: onTerminal}:
	case <-d.done:
	}
}

// Unregister releases a long-lived correlation id without delivering
// any further callbacks.
func (d *Dispatcher) Unregister(corrID uuid.UUID) {
	select {
	case d.cmds <- cmdUnregister{corrID: corrID}:
	case <-d.done:
	}
}

// Fail terminates a single outstanding operation or subscription with
// err, as if its handler had returned a terminal outcome. Used when a
// packet keyed by corrID is dropped before it ever reached the wire
// (e.g. an outbound stash overflow) and so will never see a response.
// Unknown correlation ids are silently ignored.
func (d *Dispatcher) Fail(corrID uuid.UUID, err error) {
	select {
	case d.cmds <- cmdFail{corrID: corrID, err: err}:
	case <-d.done:
	}
}

// Inbound routes one received packet to its operation or subscription
// by correlation id. Unknown correlation ids (e.g. a late response
// after a local timeout already discarded the record) are silently
// dropped, matching §5's "late responses ... are dropped".
func (d *Dispatcher) Inbound(p wire.Packet) {
	select {
	case d.cmds <- cmdInbound{corrID: p.CorrelationID, messageType: p.MessageType, payload: p.Payload}:
	case <-d.done:
	}
}

// ConnectionLost notifies the dispatcher of a transient disconnect:
// in-flight one-shot operations remain installed (they'll be resent
// once Reconnected fires), but every subscription registration is
// failed with ConnectionLost, since subscriptions never survive a
// reconnect (§4.E).
func (d *Dispatcher) ConnectionLost() {
	select {
	case d.cmds <- cmdConnectionLost{}:
	case <-d.done:
	}
}

// Reconnected re-sends every in-flight one-shot operation's original
// packet, unchanged correlation id; the resend order between
// operations is not defined.
func (d *Dispatcher) Reconnected() {
	select {
	case d.cmds <- cmdReconnected{}:
	case <-d.done:
	}
}

// Terminated fails every outstanding operation and subscription with
// ConnectionLost and shuts the dispatcher down.
func (d *Dispatcher) Terminated() {
	select {
	case d.cmds <- cmdTerminated{}:
	case <-d.done:
	}
}

func (d *Dispatcher) discard(corrID uuid.UUID) {
	select {
	case d.cmds <- cmdUnregister{corrID: corrID}:
	case <-d.done:
	}
}

func (d *Dispatcher) run() {
	ops := make(map[uuid.UUID]*operation)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	finish := func() {
		for corrID, op := range ops {
			d.completeLocked(op, Outcome{Terminal: true, Err: ErrConnectionLost})
			delete(ops, corrID)
		}
		d.closeOnce.Do(func() { close(d.done) })
	}

	for {
		select {
		case cmd := <-d.cmds:
			switch c := cmd.(type) {
			case cmdSubmitWithResult:
				d.handleSubmit(ops, c)
			case cmdRegister:
				ops[c.corrID] = &operation{correlationID: c.corrID, packet: c.packet, handler: c.handler, longLived: true, inFlight: true, onTerminal: c.onTerminal}
				d.sender.Send(c.packet)
			case cmdUnregister:
				delete(ops, c.corrID)
			case cmdFail:
				if op, ok := ops[c.corrID]; ok {
					delete(ops, c.corrID)
					d.completeLocked(op, Outcome{Terminal: true, Err: c.err})
				}
			case cmdInbound:
				d.handleInbound(ops, c)
			case cmdConnectionLost:
				d.handleConnectionLost(ops)
			case cmdReconnected:
				d.handleReconnected(ops)
			case cmdTerminated:
				finish()
				return
			}
		case <-ticker.C:
			d.sweepTimeouts(ops)
		}
	}
}

func (d *Dispatcher) handleSubmit(ops map[uuid.UUID]*operation, c cmdSubmitWithResult) {
	creds := c.req.Credentials
	if creds == nil {
		creds = d.defaultCreds
	}
	packet := wire.Packet{MessageType: c.req.MessageType, CorrelationID: c.corrID, Payload: c.req.Payload}
	if creds != nil {
		packet.Login, packet.Password = creds.Login, creds.Password
	}
	maxRetries := c.req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}
	op := &operation{
		correlationID: c.corrID,
		packet:        packet,
		handler:       c.req.Handler,
		deadline:      time.Now().Add(c.req.Timeout),
		retriesLeft:   maxRetries,
		inFlight:      true,
		resultCh:      c.resultCh,
	}
	ops[c.corrID] = op
	if d.metrics != nil {
		d.metrics.InFlight.Inc()
	}
	d.sender.Send(packet)
}

func (d *Dispatcher) handleInbound(ops map[uuid.UUID]*operation, c cmdInbound) {
	op, ok := ops[c.corrID]
	if !ok {
		return
	}
	outcome := op.handler(c.messageType, c.payload)
	if outcome.Terminal {
		delete(ops, c.corrID)
		d.completeLocked(op, outcome)
		return
	}
	if outcome.Err != nil && outcome.Retry {
		if op.retriesLeft <= 0 {
			delete(ops, c.corrID)
			d.completeLocked(op, Outcome{Terminal: true, Err: ErrRetriesExhausted})
			return
		}
		op.retriesLeft--
		if d.metrics != nil {
			d.metrics.Retries.Inc()
		}
		if outcome.ReResolve && d.reResolve != nil {
			d.reResolve()
		}
		d.sender.Send(op.packet)
		return
	}
	// Continue: e.g. a subscription's next StreamEventAppeared push,
	// or a multi-frame read still awaiting its final page. The
	// operation stays installed under the same correlation id.
}

func (d *Dispatcher) handleConnectionLost(ops map[uuid.UUID]*operation) {
	for corrID, op := range ops {
		if op.longLived {
			delete(ops, corrID)
			d.completeLocked(op, Outcome{Terminal: true, Err: ErrConnectionLost})
		}
	}
}

func (d *Dispatcher) handleReconnected(ops map[uuid.UUID]*operation) {
	for _, op := range ops {
		if !op.longLived && op.inFlight {
			d.sender.Send(op.packet)
		}
	}
}

func (d *Dispatcher) sweepTimeouts(ops map[uuid.UUID]*operation) {
	now := time.Now()
	for corrID, op := range ops {
		if op.longLived || !op.inFlight {
			continue
		}
		if now.After(op.deadline) {
			delete(ops, corrID)
			d.completeLocked(op, Outcome{Terminal: true, Err: ErrOperationTimedOut})
			if d.metrics != nil {
				d.metrics.Timeouts.Inc()
			}
		}
	}
}

func (d *Dispatcher) completeLocked(op *operation, outcome Outcome) {
	if d.metrics != nil && !op.longLived {
		d.metrics.InFlight.Dec()
	}
	if op.resultCh != nil {
		select {
		case op.resultCh <- outcome:
		default:
		}
	}
	if op.onTerminal != nil {
		op.onTerminal(outcome)
	}
}

// ErrOperationTimedOut is delivered when an operation's deadline
// elapses while still in flight.
var ErrOperationTimedOut = errors.New("dispatch: operation timed out")
