package transport

import (
	"testing"

	"github.com/fkabongo/eventlogclient/internal/wire"
)

func TestStashDrainsInEnqueueOrder(t *testing.T) {
	s := NewStash(0, nil)
	s.Push(wire.Packet{CorrelationID: [16]byte{1}})
	s.Push(wire.Packet{CorrelationID: [16]byte{2}})
	s.Push(wire.Packet{CorrelationID: [16]byte{3}})

	items := s.Drain()
	if len(items) != 3 {
		t.Fatalf("got %d items", len(items))
	}
	if items[0].CorrelationID[0] != 1 || items[1].CorrelationID[0] != 2 || items[2].CorrelationID[0] != 3 {
		t.Fatalf("out of order: %+v", items)
	}
	if s.Len() != 0 {
		t.Fatalf("expected stash emptied after drain, got len %d", s.Len())
	}
}

func TestStashDropsOldestAtCapacity(t *testing.T) {
	var dropped []wire.Packet
	s := NewStash(2, func(p wire.Packet) { dropped = append(dropped, p) })

	s.Push(wire.Packet{CorrelationID: [16]byte{1}})
	s.Push(wire.Packet{CorrelationID: [16]byte{2}})
	s.Push(wire.Packet{CorrelationID: [16]byte{3}})

	if len(dropped) != 1 || dropped[0].CorrelationID[0] != 1 {
		t.Fatalf("expected oldest packet dropped, got %+v", dropped)
	}
	if s.Len() != 2 {
		t.Fatalf("expected stash capped at 2, got %d", s.Len())
	}

	items := s.Drain()
	if items[0].CorrelationID[0] != 2 || items[1].CorrelationID[0] != 3 {
		t.Fatalf("unexpected surviving items: %+v", items)
	}
}
