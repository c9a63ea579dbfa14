package subscribe

import (
	"sync"

	"github.com/google/uuid"

	"github.com/fkabongo/eventlogclient/internal/events"
	"github.com/fkabongo/eventlogclient/internal/dispatch"
	"github.com/fkabongo/eventlogclient/internal/wire"
)

type volatileState int

const (
	volatileSubscribing volatileState = iota
	volatileRunning
	volatileUnsubscribed
)

// Volatile is the live-only subscription of §4.E: Subscribing ->
// Running -> Unsubscribed.
type Volatile struct {
	corrID     uuid.UUID
	dispatcher *dispatch.Dispatcher
	sender     dispatch.Sender
	codec      wire.Codec
	observer   Observer

	mu    sync.Mutex
	state volatileState
	done  bool
}

// StartVolatile sends SubscribeToStream and begins routing inbound
// pushes to observer. The returned handle's Close unsubscribes.
func StartVolatile(d *dispatch.Dispatcher, sender dispatch.Sender, codec wire.Codec, stream events.StreamID, resolveLinkTos bool, login, password string, observer Observer) *Volatile {
	v := &Volatile{
		corrID:     uuid.New(),
		dispatcher: d,
		sender:     sender,
		codec:      codec,
		observer:   observer,
		state:      volatileSubscribing,
	}
	payload, _ := codec.Marshal(&wire.SubscribeToStream{EventStreamId: string(stream), ResolveLinkTos: resolveLinkTos})
	packet := wire.Packet{MessageType: wire.MsgSubscribeToStream, CorrelationID: v.corrID, Payload: payload, Login: login, Password: password}
	d.Register(v.corrID, packet, v.handle, v.onTerminal)
	return v
}

// Close unsubscribes best-effort, delivers OnDropped(Unsubscribed) and
// synchronously stops delivering callbacks (§5's cancellation rule).
func (v *Volatile) Close() {
	v.mu.Lock()
	if v.done {
		v.mu.Unlock()
		return
	}
	v.done = true
	v.state = volatileUnsubscribed
	v.mu.Unlock()

	payload, _ := v.codec.Marshal(&wire.UnsubscribeFromStream{})
	v.sender.Send(wire.Packet{MessageType: wire.MsgUnsubscribeFromStream, CorrelationID: v.corrID, Payload: payload})
	v.dispatcher.Unregister(v.corrID)
	v.observer.OnDropped(&events.SubscriptionDroppedError{Reason: events.DropReasonUnsubscribed})
}

func (v *Volatile) handle(messageType wire.MessageType, payload []byte) dispatch.Outcome {
	v.mu.Lock()
	if v.done {
		v.mu.Unlock()
		return dispatch.Outcome{}
	}
	state := v.state
	v.mu.Unlock()

	switch messageType {
	case wire.MsgSubscribeToStreamCompleted:
		if state != volatileSubscribing {
			return dispatch.Outcome{}
		}
		v.mu.Lock()
		v.state = volatileRunning
		v.mu.Unlock()
		v.observer.OnLiveProcessingStart()
		return dispatch.Outcome{}

	case wire.MsgStreamEventAppeared:
		msg, err := v.codec.Unmarshal(messageType, payload)
		if err != nil {
			return v.terminalDrop(events.DropReasonServerError, err)
		}
		appeared, ok := msg.(*wire.StreamEventAppeared)
		if !ok || appeared.Event == nil {
			return dispatch.Outcome{}
		}
		v.observer.OnEvent(toResolvedEvent(appeared.Event))
		return dispatch.Outcome{}

	case wire.MsgSubscriptionDropped:
		msg, err := v.codec.Unmarshal(messageType, payload)
		if err != nil {
			return v.terminalDrop(events.DropReasonServerError, err)
		}
		dropped, _ := msg.(*wire.SubscriptionDropped)
		reason := events.DropReasonUnsubscribed
		if dropped != nil {
			reason = mapWireDropReason(wire.SubscriptionDropReason(dropped.Reason))
		}
		return v.terminalDrop(reason, nil)

	default:
		return dispatch.Outcome{}
	}
}

func (v *Volatile) terminalDrop(reason events.SubscriptionDropReason, cause error) dispatch.Outcome {
	v.mu.Lock()
	if v.done {
		v.mu.Unlock()
		return dispatch.Outcome{}
	}
	v.done = true
	v.state = volatileUnsubscribed
	v.mu.Unlock()
	v.observer.OnDropped(&events.SubscriptionDroppedError{Reason: reason, Cause: cause})
	return dispatch.Outcome{Terminal: true}
}

func (v *Volatile) onTerminal(outcome dispatch.Outcome) {
	v.mu.Lock()
	if v.done {
		v.mu.Unlock()
		return
	}
	v.done = true
	v.state = volatileUnsubscribed
	v.mu.Unlock()
	reason := events.DropReasonConnectionLost
	if outcome.Err == nil {
		return
	}
	v.observer.OnDropped(&events.SubscriptionDroppedError{Reason: reason, Cause: outcome.Err})
}
