package subscribe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fkabongo/eventlogclient/internal/events"
	"github.com/fkabongo/eventlogclient/internal/dispatch"
	"github.com/fkabongo/eventlogclient/internal/wire"
)

var errRetryableReadOutcome = errors.New("subscribe: retryable read outcome")

type catchUpKind int

const (
	kindStream catchUpKind = iota
	kindAll
)

type catchUpState int

const (
	catchUpReading catchUpState = iota
	catchUpCatchingUp
	catchUpLiveProcessing
	catchUpDropped
)

// CatchUp is the stream-or-all catch-up subscription of §4.E: Reading
// -> CatchingUp -> LiveProcessing -> Dropped. It replays history via
// paged reads, then overlaps a live subscription with a final read
// pass so that no event between the last read page and the live
// subscription's start is lost or delivered twice.
type CatchUp struct {
	kind           catchUpKind
	streamID       events.StreamID
	resolveLinkTos bool
	batchSize      int32
	login          string
	password       string

	dispatcher *dispatch.Dispatcher
	sender     dispatch.Sender
	codec      wire.Codec
	observer   Observer

	mu              sync.Mutex
	state           catchUpState
	lastEventNumber int64
	lastPosition    events.Position
	pending         []events.ResolvedEvent
	done            bool
	subCorrID       uuid.UUID

	liveStartOnce sync.Once
	liveStartCh   chan int64
}

// StartCatchUpStream begins a catch-up subscription against a single
// stream. Only events numbered above fromEventNumberExclusive are
// emitted: -1 replays from the start, 0 begins after event 0.
func StartCatchUpStream(d *dispatch.Dispatcher, sender dispatch.Sender, codec wire.Codec, stream events.StreamID, fromEventNumberExclusive int64, resolveLinkTos bool, batchSize int32, login, password string, observer Observer) *CatchUp {
	c := newCatchUp(kindStream, d, sender, codec, resolveLinkTos, batchSize, login, password, observer)
	c.streamID = stream
	c.lastEventNumber = fromEventNumberExclusive
	go c.run(fromEventNumberExclusive, events.Position{})
	return c
}

// StartCatchUpAll begins a catch-up subscription against the global
// $all log. fromPositionExclusive selects where replay begins.
func StartCatchUpAll(d *dispatch.Dispatcher, sender dispatch.Sender, codec wire.Codec, fromPositionExclusive events.Position, resolveLinkTos bool, batchSize int32, login, password string, observer Observer) *CatchUp {
	c := newCatchUp(kindAll, d, sender, codec, resolveLinkTos, batchSize, login, password, observer)
	c.streamID = events.AllStreams
	c.lastPosition = fromPositionExclusive
	go c.run(0, fromPositionExclusive)
	return c
}

func newCatchUp(kind catchUpKind, d *dispatch.Dispatcher, sender dispatch.Sender, codec wire.Codec, resolveLinkTos bool, batchSize int32, login, password string, observer Observer) *CatchUp {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &CatchUp{
		kind:           kind,
		resolveLinkTos: resolveLinkTos,
		batchSize:      batchSize,
		login:          login,
		password:       password,
		dispatcher:     d,
		sender:         sender,
		codec:          codec,
		observer:       observer,
		state:          catchUpReading,
		liveStartCh:    make(chan int64, 1),
	}
}

// Close stops the subscription: best-effort Unsubscribe, then
// OnDropped(Unsubscribed) as the last observer callback.
func (c *CatchUp) Close() {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	c.state = catchUpDropped
	corrID := c.subCorrID
	c.mu.Unlock()

	if corrID != (uuid.UUID{}) {
		payload, _ := c.codec.Marshal(&wire.UnsubscribeFromStream{})
		c.sender.Send(wire.Packet{MessageType: wire.MsgUnsubscribeFromStream, CorrelationID: corrID, Payload: payload})
		c.dispatcher.Unregister(corrID)
	}
	c.observer.OnDropped(&events.SubscriptionDroppedError{Reason: events.DropReasonUnsubscribed})
}

func (c *CatchUp) run(fromEventNumber int64, fromPosition events.Position) {
	ctx := context.Background()
	next := fromEventNumber
	nextCommit, nextPrepare := fromPosition.Commit, fromPosition.Prepare

	for {
		if c.isDone() {
			return
		}
		completed, err := c.readPage(ctx, next, nextCommit, nextPrepare)
		if err != nil {
			c.dropWithError(events.DropReasonServerError, err)
			return
		}
		shortPage := c.emitPage(completed)
		if c.kind == kindStream {
			next = completed.stream.NextEventNumber
		} else {
			nextCommit, nextPrepare = completed.all.NextCommitPosition, completed.all.NextPreparePosition
		}
		if shortPage {
			break
		}
	}

	c.setState(catchUpCatchingUp)
	c.subscribeLive()

	var liveStart int64
	select {
	case liveStart = <-c.liveStartCh:
	case <-time.After(30 * time.Second):
		c.dropWithError(events.DropReasonServerError, dispatch.ErrOperationTimedOut)
		return
	}

	for {
		if c.isDone() {
			return
		}
		completed, err := c.readPage(ctx, next, nextCommit, nextPrepare)
		if err != nil {
			c.dropWithError(events.DropReasonServerError, err)
			return
		}
		c.emitPage(completed)
		var cursor int64
		if c.kind == kindStream {
			next = completed.stream.NextEventNumber
			cursor = completed.stream.LastCommitPosition
		} else {
			nextCommit, nextPrepare = completed.all.NextCommitPosition, completed.all.NextPreparePosition
			cursor = completed.all.NextCommitPosition
		}
		if cursor >= liveStart || (c.kind == kindStream && completed.stream.IsEndOfStream) || (c.kind == kindAll && completed.all.IsEndOfStream) {
			break
		}
	}

	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.state = catchUpLiveProcessing
	buffered := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.observer.OnLiveProcessingStart()
	for _, ev := range buffered {
		c.emitIfNew(ev)
	}
}

type pageResult struct {
	stream *wire.ReadStreamEventsCompleted
	all    *wire.ReadAllEventsCompleted
}

func (c *CatchUp) readPage(ctx context.Context, fromEventNumber, fromCommit, fromPrepare int64) (pageResult, error) {
	var msgType wire.MessageType
	var payload []byte
	if c.kind == kindStream {
		msgType = wire.MsgReadStreamEventsForward
		payload, _ = c.codec.Marshal(&wire.ReadStreamEventsForward{
			EventStreamId:   string(c.streamID),
			FromEventNumber: fromEventNumber,
			MaxCount:        c.batchSize,
			ResolveLinkTos:  c.resolveLinkTos,
		})
	} else {
		msgType = wire.MsgReadAllEventsForward
		payload, _ = c.codec.Marshal(&wire.ReadAllEventsForward{
			CommitPosition:  fromCommit,
			PreparePosition: fromPrepare,
			MaxCount:        c.batchSize,
			ResolveLinkTos:  c.resolveLinkTos,
		})
	}
	result, err := c.dispatcher.Submit(ctx, dispatch.Request{
		MessageType: msgType,
		Payload:     payload,
		Timeout:     30 * time.Second,
		MaxRetries:  10,
		Handler:     c.readHandler,
	})
	if err != nil {
		return pageResult{}, err
	}
	if c.kind == kindStream {
		return pageResult{stream: result.(*wire.ReadStreamEventsCompleted)}, nil
	}
	return pageResult{all: result.(*wire.ReadAllEventsCompleted)}, nil
}

func (c *CatchUp) readHandler(messageType wire.MessageType, payload []byte) dispatch.Outcome {
	if messageType == wire.MsgNotHandled {
		msg, err := c.codec.Unmarshal(messageType, payload)
		if err != nil {
			return dispatch.Outcome{Terminal: true, Err: err}
		}
		notHandled, _ := msg.(*wire.NotHandled)
		reResolve := notHandled != nil && wire.NotHandledReason(notHandled.Reason) == wire.NotHandledNotMaster
		return dispatch.Outcome{Retry: true, ReResolve: reResolve, Err: errRetryableReadOutcome}
	}
	if messageType == wire.MsgNotAuthenticated {
		return dispatch.Outcome{Terminal: true, Err: events.ErrAccessDenied}
	}
	msg, err := c.codec.Unmarshal(messageType, payload)
	if err != nil {
		return dispatch.Outcome{Terminal: true, Err: err}
	}
	switch m := msg.(type) {
	case *wire.ReadStreamEventsCompleted:
		if m.Result == int32(wire.ResultPrepareTimeout) || m.Result == int32(wire.ResultCommitTimeout) || m.Result == int32(wire.ResultForwardTimeout) {
			return dispatch.Outcome{Retry: true, Err: errRetryableReadOutcome}
		}
		return dispatch.Outcome{Terminal: true, Result: m}
	case *wire.ReadAllEventsCompleted:
		return dispatch.Outcome{Terminal: true, Result: m}
	default:
		return dispatch.Outcome{Terminal: true, Err: &events.UnexpectedResponseError{MessageType: messageType}}
	}
}

// emitPage emits every event in a read page (deduplicated) and
// reports whether the page was short (end of available history).
func (c *CatchUp) emitPage(p pageResult) bool {
	if c.kind == kindStream && p.stream != nil {
		for _, re := range p.stream.Events {
			c.emitIfNew(toResolvedEvent(re))
		}
		return p.stream.IsEndOfStream || len(p.stream.Events) < int(c.batchSize)
	}
	if p.all != nil {
		for _, re := range p.all.Events {
			c.emitIfNew(toResolvedEvent(re))
		}
		return p.all.IsEndOfStream || len(p.all.Events) < int(c.batchSize)
	}
	return true
}

// emitIfNew applies the §4.E de-duplication policy: greatest emitted
// event-number (stream) or position (all) wins, anything not past it
// is dropped silently.
func (c *CatchUp) emitIfNew(ev events.ResolvedEvent) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	var fresh bool
	if c.kind == kindStream {
		fresh = ev.Inner.EventNumber > c.lastEventNumber
		if fresh {
			c.lastEventNumber = ev.Inner.EventNumber
		}
	} else {
		fresh = c.lastPosition.Less(ev.Inner.CommitPos)
		if fresh {
			c.lastPosition = ev.Inner.CommitPos
		}
	}
	c.mu.Unlock()
	if fresh {
		c.observer.OnEvent(ev)
	}
}

func (c *CatchUp) subscribeLive() {
	corrID := uuid.New()
	c.mu.Lock()
	c.subCorrID = corrID
	c.mu.Unlock()
	payload, _ := c.codec.Marshal(&wire.SubscribeToStream{EventStreamId: string(c.streamID), ResolveLinkTos: c.resolveLinkTos})
	packet := wire.Packet{MessageType: wire.MsgSubscribeToStream, CorrelationID: corrID, Payload: payload, Login: c.login, Password: c.password}
	c.dispatcher.Register(corrID, packet, c.subscribeHandler, c.subscribeTerminal)
}

func (c *CatchUp) subscribeHandler(messageType wire.MessageType, payload []byte) dispatch.Outcome {
	switch messageType {
	case wire.MsgSubscribeToStreamCompleted:
		msg, err := c.codec.Unmarshal(messageType, payload)
		if err != nil {
			return dispatch.Outcome{}
		}
		completed, _ := msg.(*wire.SubscribeToStreamCompleted)
		if completed != nil {
			c.liveStartOnce.Do(func() { c.liveStartCh <- completed.LastCommitPosition })
		}
		return dispatch.Outcome{}

	case wire.MsgStreamEventAppeared:
		msg, err := c.codec.Unmarshal(messageType, payload)
		if err != nil {
			return dispatch.Outcome{}
		}
		appeared, ok := msg.(*wire.StreamEventAppeared)
		if !ok || appeared.Event == nil {
			return dispatch.Outcome{}
		}
		ev := toResolvedEvent(appeared.Event)
		c.mu.Lock()
		state := c.state
		if state == catchUpCatchingUp {
			c.pending = append(c.pending, ev)
			c.mu.Unlock()
			return dispatch.Outcome{}
		}
		c.mu.Unlock()
		c.emitIfNew(ev)
		return dispatch.Outcome{}

	case wire.MsgSubscriptionDropped:
		msg, err := c.codec.Unmarshal(messageType, payload)
		reason := events.DropReasonUnsubscribed
		if err == nil {
			if dropped, ok := msg.(*wire.SubscriptionDropped); ok {
				reason = mapWireDropReason(wire.SubscriptionDropReason(dropped.Reason))
			}
		}
		c.dropWithError(reason, nil)
		return dispatch.Outcome{Terminal: true}

	default:
		return dispatch.Outcome{}
	}
}

func (c *CatchUp) subscribeTerminal(outcome dispatch.Outcome) {
	if outcome.Err == nil {
		return
	}
	c.dropWithError(events.DropReasonConnectionLost, outcome.Err)
}

func (c *CatchUp) dropWithError(reason events.SubscriptionDropReason, cause error) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	c.state = catchUpDropped
	c.mu.Unlock()
	c.observer.OnDropped(&events.SubscriptionDroppedError{Reason: reason, Cause: cause})
}

func (c *CatchUp) isDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *CatchUp) setState(s catchUpState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.state = s
	}
}
