package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fkabongo/eventlogclient/internal/wire"
)

type recordingSender struct {
	sent chan wire.Packet
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(chan wire.Packet, 64)}
}

func (s *recordingSender) Send(p wire.Packet) { s.sent <- p }

func (s *recordingSender) mustReceive(t *testing.T) wire.Packet {
	t.Helper()
	select {
	case p := <-s.sent:
		return p
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sent packet")
		return wire.Packet{}
	}
}

func TestSubmitCompletesOnTerminalOutcome(t *testing.T) {
	sender := newRecordingSender()
	d := New(sender, nil, nil, nil)

	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := d.Submit(context.Background(), Request{
			MessageType: wire.MsgWriteEvents,
			Timeout:     time.Second,
			Handler: func(messageType wire.MessageType, payload []byte) Outcome {
				return Outcome{Terminal: true, Result: "ok"}
			},
		})
		resultCh <- res
		errCh <- err
	}()

	sent := sender.mustReceive(t)
	d.Inbound(wire.Packet{CorrelationID: sent.CorrelationID, MessageType: wire.MsgWriteEventsCompleted})

	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	if res := <-resultCh; res != "ok" {
		t.Fatalf("got %v", res)
	}
}

func TestSubmitRetriesThenSucceeds(t *testing.T) {
	sender := newRecordingSender()
	d := New(sender, nil, nil, nil)

	attempts := 0
	errCh := make(chan error, 1)
	go func() {
		_, err := d.Submit(context.Background(), Request{
			MessageType: wire.MsgWriteEvents,
			Timeout:     time.Second,
			MaxRetries:  3,
			Handler: func(messageType wire.MessageType, payload []byte) Outcome {
				attempts++
				if attempts < 2 {
					return Outcome{Err: errRetryable, Retry: true}
				}
				return Outcome{Terminal: true, Result: "ok"}
			},
		})
		errCh <- err
	}()

	first := sender.mustReceive(t)
	d.Inbound(wire.Packet{CorrelationID: first.CorrelationID, MessageType: wire.MsgWriteEventsCompleted})
	second := sender.mustReceive(t)
	if second.CorrelationID != first.CorrelationID {
		t.Fatal("retry should resend under the same correlation id")
	}
	d.Inbound(wire.Packet{CorrelationID: second.CorrelationID, MessageType: wire.MsgWriteEventsCompleted})

	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
}

func TestSubmitExhaustsRetries(t *testing.T) {
	sender := newRecordingSender()
	d := New(sender, nil, nil, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Submit(context.Background(), Request{
			MessageType: wire.MsgWriteEvents,
			Timeout:     time.Second,
			MaxRetries:  2,
			Handler: func(messageType wire.MessageType, payload []byte) Outcome {
				return Outcome{Err: errRetryable, Retry: true}
			},
		})
		errCh <- err
	}()

	// The initial send plus MaxRetries resends, each answered retryably.
	for i := 0; i < 3; i++ {
		sent := sender.mustReceive(t)
		d.Inbound(wire.Packet{CorrelationID: sent.CorrelationID, MessageType: wire.MsgWriteEventsCompleted})
	}

	if err := <-errCh; err != ErrRetriesExhausted {
		t.Fatalf("got %v", err)
	}
}

func TestSubmitTimesOut(t *testing.T) {
	sender := newRecordingSender()
	d := New(sender, nil, nil, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Submit(context.Background(), Request{
			MessageType: wire.MsgWriteEvents,
			Timeout:     10 * time.Millisecond,
			Handler: func(messageType wire.MessageType, payload []byte) Outcome {
				return Outcome{}
			},
		})
		errCh <- err
	}()

	sender.mustReceive(t)
	select {
	case err := <-errCh:
		if err != ErrOperationTimedOut {
			t.Fatalf("got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for operation timeout")
	}
}

func TestConnectionLostFailsSubscriptionsOnly(t *testing.T) {
	sender := newRecordingSender()
	d := New(sender, nil, nil, nil)

	terminalCh := make(chan Outcome, 1)
	d.Register(uuid.New(), wire.Packet{MessageType: wire.MsgSubscribeToStream}, func(messageType wire.MessageType, payload []byte) Outcome {
		return Outcome{}
	}, func(outcome Outcome) { terminalCh <- outcome })
	sender.mustReceive(t)

	d.ConnectionLost()

	select {
	case outcome := <-terminalCh:
		if outcome.Err != ErrConnectionLost {
			t.Fatalf("got %v", outcome.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected onTerminal to fire")
	}
}

func TestFailCompletesTheNamedOperation(t *testing.T) {
	sender := newRecordingSender()
	d := New(sender, nil, nil, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Submit(context.Background(), Request{
			MessageType: wire.MsgWriteEvents,
			Timeout:     time.Second,
			Handler: func(messageType wire.MessageType, payload []byte) Outcome {
				return Outcome{Terminal: true, Result: "ok"}
			},
		})
		errCh <- err
	}()

	sent := sender.mustReceive(t)
	d.Fail(sent.CorrelationID, ErrConnectionLost)

	if err := <-errCh; err != ErrConnectionLost {
		t.Fatalf("got %v", err)
	}
}

func TestFailOnUnknownCorrelationIDIsIgnored(t *testing.T) {
	sender := newRecordingSender()
	d := New(sender, nil, nil, nil)

	// Must not panic or block: the correlation id was never registered.
	d.Fail(uuid.New(), ErrConnectionLost)
}

var errRetryable = errRetryableType{}

type errRetryableType struct{}

func (errRetryableType) Error() string { return "retryable" }
