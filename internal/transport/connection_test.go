package transport

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fkabongo/eventlogclient/internal/resolver"
	"github.com/fkabongo/eventlogclient/internal/wire"
)

func listenLoopback(t *testing.T) (net.Listener, resolver.Resolver) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return ln, resolver.NewStatic(host, port)
}

func acceptOne(t *testing.T, ln net.Listener) net.Conn {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func TestConnectionReachesConnectedState(t *testing.T) {
	ln, res := listenLoopback(t)
	accepted := make(chan net.Conn, 1)
	go func() { accepted <- acceptOne(t, ln) }()

	states := make(chan State, 8)
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = time.Hour // keep heartbeats out of the way
	c := New(cfg, res, func(wire.Packet) {}, func(old, next State) { states <- next }, nil, nil)
	c.Start()
	t.Cleanup(c.Stop)

	serverConn := <-accepted
	t.Cleanup(func() { serverConn.Close() })

	deadline := time.After(time.Second)
	for {
		select {
		case s := <-states:
			if s == StateConnected {
				return
			}
		case <-deadline:
			t.Fatal("never reached Connected")
		}
	}
}

func TestConnectionForwardsHeartbeatRequestAsResponse(t *testing.T) {
	ln, res := listenLoopback(t)
	accepted := make(chan net.Conn, 1)
	go func() { accepted <- acceptOne(t, ln) }()

	cfg := DefaultConfig()
	cfg.HeartbeatInterval = time.Hour
	c := New(cfg, res, func(wire.Packet) {}, nil, nil, nil)
	c.Start()
	t.Cleanup(c.Stop)

	serverConn := <-accepted
	t.Cleanup(func() { serverConn.Close() })

	corrID := uuid.New()
	encoded, err := wire.Encode(wire.Packet{MessageType: wire.MsgHeartbeatRequest, CorrelationID: corrID})
	if err != nil {
		t.Fatal(err)
	}
	if err := wire.WriteFrame(serverConn, encoded); err != nil {
		t.Fatal(err)
	}

	serverConn.SetReadDeadline(time.Now().Add(time.Second))
	payload, err := wire.ReadFrame(serverConn)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := wire.Decode(payload)
	if err != nil {
		t.Fatal(err)
	}
	if resp.MessageType != wire.MsgHeartbeatResponse || resp.CorrelationID != corrID {
		t.Fatalf("got %+v", resp)
	}
}

func TestSendBeforeConnectedIsStashedThenFlushed(t *testing.T) {
	ln, res := listenLoopback(t)
	accepted := make(chan net.Conn, 1)
	go func() { accepted <- acceptOne(t, ln) }()

	cfg := DefaultConfig()
	cfg.HeartbeatInterval = time.Hour
	c := New(cfg, res, func(wire.Packet) {}, nil, nil, nil)

	corrID := uuid.New()
	// Sent before Start even runs its first connect attempt; must not
	// be dropped, and must appear on the wire once connected.
	c.Send(wire.Packet{MessageType: wire.MsgWriteEvents, CorrelationID: corrID})
	c.Start()
	t.Cleanup(c.Stop)

	serverConn := <-accepted
	t.Cleanup(func() { serverConn.Close() })

	serverConn.SetReadDeadline(time.Now().Add(time.Second))
	payload, err := wire.ReadFrame(serverConn)
	if err != nil {
		t.Fatal(err)
	}
	got, err := wire.Decode(payload)
	if err != nil {
		t.Fatal(err)
	}
	if got.CorrelationID != corrID {
		t.Fatalf("got %+v", got)
	}
}

func readHeartbeatRequest(t *testing.T, serverConn net.Conn) wire.Packet {
	t.Helper()
	serverConn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		payload, err := wire.ReadFrame(serverConn)
		if err != nil {
			t.Fatal(err)
		}
		p, err := wire.Decode(payload)
		if err != nil {
			t.Fatal(err)
		}
		if p.MessageType == wire.MsgHeartbeatRequest {
			return p
		}
	}
}

func TestHeartbeatIsSentOnEveryInterval(t *testing.T) {
	ln, res := listenLoopback(t)
	accepted := make(chan net.Conn, 1)
	go func() { accepted <- acceptOne(t, ln) }()

	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.HeartbeatTimeout = time.Second
	c := New(cfg, res, func(wire.Packet) {}, nil, nil, nil)
	c.Start()
	t.Cleanup(c.Stop)

	serverConn := <-accepted
	t.Cleanup(func() { serverConn.Close() })

	first := readHeartbeatRequest(t, serverConn)
	second := readHeartbeatRequest(t, serverConn)
	if first.CorrelationID == second.CorrelationID {
		t.Fatal("expected a fresh correlation id per heartbeat round")
	}
}

func TestHeartbeatResponseWithStaleCorrelationIsIgnored(t *testing.T) {
	ln, res := listenLoopback(t)
	accepted := make(chan net.Conn, 1)
	go func() { accepted <- acceptOne(t, ln) }()

	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.HeartbeatTimeout = 150 * time.Millisecond
	cfg.MaxReconnects = 0 // reconnecting on a real heartbeat timeout would mask the bug
	states := make(chan State, 8)
	c := New(cfg, res, func(wire.Packet) {}, func(old, next State) { states <- next }, nil, nil)
	c.Start()
	t.Cleanup(c.Stop)

	serverConn := <-accepted
	t.Cleanup(func() { serverConn.Close() })

	readHeartbeatRequest(t, serverConn)

	stale, err := wire.Encode(wire.Packet{MessageType: wire.MsgHeartbeatResponse, CorrelationID: uuid.New()})
	if err != nil {
		t.Fatal(err)
	}
	if err := wire.WriteFrame(serverConn, stale); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(time.Second)
	sawConnected := false
	for {
		select {
		case s := <-states:
			switch s {
			case StateConnected:
				sawConnected = true
			case StateConnecting:
				if sawConnected {
					t.Fatal("connection reconnected: a stale heartbeat reply was incorrectly accepted")
				}
			case StateTerminated:
				return // heartbeat timeout fired: the stale reply was correctly ignored
			}
		case <-deadline:
			t.Fatal("expected the heartbeat timeout to fire and terminate the connection")
		}
	}
}

func TestStashOverflowReportsDroppedPacket(t *testing.T) {
	// Nothing listens on this port: dial keeps failing and retrying,
	// so the connection never leaves Connecting and every Send stays
	// parked in the stash.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	ln.Close() // closed immediately: port is now unreachable

	cfg := DefaultConfig()
	cfg.StashCapacity = 1
	cfg.ReconnectDelayMin = time.Hour // stay in Connecting between attempts
	dropped := make(chan wire.Packet, 4)
	c := New(cfg, resolver.NewStatic(host, port), func(wire.Packet) {}, nil, func(p wire.Packet) { dropped <- p }, nil)
	c.Start()
	t.Cleanup(c.Stop)

	first := uuid.New()
	second := uuid.New()
	c.Send(wire.Packet{MessageType: wire.MsgWriteEvents, CorrelationID: first})
	c.Send(wire.Packet{MessageType: wire.MsgWriteEvents, CorrelationID: second})

	select {
	case p := <-dropped:
		if p.CorrelationID != first {
			t.Fatalf("expected the oldest packet dropped, got %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a drop notification")
	}
}

func TestBackpressureDoesNotLoseOrReorderFrames(t *testing.T) {
	ln, res := listenLoopback(t)
	accepted := make(chan net.Conn, 1)
	go func() { accepted <- acceptOne(t, ln) }()

	cfg := DefaultConfig()
	cfg.HeartbeatInterval = time.Hour
	cfg.Backpressure = wire.Watermarks{Low: 1, High: 2, Max: 1 << 20}

	inbound := make(chan wire.Packet, 64)
	c := New(cfg, res, func(p wire.Packet) { inbound <- p }, nil, nil, nil)
	c.Start()
	t.Cleanup(c.Stop)

	serverConn := <-accepted
	t.Cleanup(func() { serverConn.Close() })

	const count = 20
	ids := make([]uuid.UUID, count)
	for i := 0; i < count; i++ {
		ids[i] = uuid.New()
		encoded, err := wire.Encode(wire.Packet{MessageType: wire.MsgWriteEventsCompleted, CorrelationID: ids[i]})
		if err != nil {
			t.Fatal(err)
		}
		if err := wire.WriteFrame(serverConn, encoded); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < count; i++ {
		select {
		case p := <-inbound:
			if p.CorrelationID != ids[i] {
				t.Fatalf("frame %d: got correlation id %s, want %s (order or loss regression)", i, p.CorrelationID, ids[i])
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d of %d", i, count)
		}
	}
}
