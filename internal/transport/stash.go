package transport

import "github.com/fkabongo/eventlogclient/internal/wire"

// Stash is the connection manager's outbound FIFO, used while the
// socket is not yet Connected (§3 invariant: "operations are buffered
// in request order"). The source left this unbounded; per §9's design
// note this caps it and drops the oldest entry on overflow rather than
// growing without limit.
type Stash struct {
	items  []wire.Packet
	cap    int
	onDrop func(wire.Packet)
}

// NewStash builds a Stash holding at most capacity packets. capacity
// <= 0 means unbounded (matching the source's historical behavior,
// not recommended — see §9).
func NewStash(capacity int, onDrop func(wire.Packet)) *Stash {
	return &Stash{cap: capacity, onDrop: onDrop}
}

// Push enqueues p, dropping (and reporting via onDrop) the oldest
// entry first if the stash is at capacity.
func (s *Stash) Push(p wire.Packet) {
	if s.cap > 0 && len(s.items) >= s.cap {
		dropped := s.items[0]
		s.items = s.items[1:]
		if s.onDrop != nil {
			s.onDrop(dropped)
		}
	}
	s.items = append(s.items, p)
}

// Drain returns every stashed packet in enqueue order and empties the
// stash.
func (s *Stash) Drain() []wire.Packet {
	items := s.items
	s.items = nil
	return items
}

// Len reports the number of stashed packets.
func (s *Stash) Len() int { return len(s.items) }
