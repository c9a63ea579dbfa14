// Package transport implements the connection manager (§4.C): a
// single long-lived TCP session that frames outbound/inbound packets,
// performs heartbeat liveness checks, and reconnects on failure
// without failing in-flight operations until the reconnection budget
// is exhausted.
package transport

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"math"
	"net"
	"time"

	"github.com/fkabongo/eventlogclient/internal/metrics"
	"github.com/fkabongo/eventlogclient/internal/resolver"
	"github.com/fkabongo/eventlogclient/internal/wire"
	"github.com/google/uuid"
)

func newHeartbeatCorrelationID() uuid.UUID { return uuid.New() }

// State is one of the connection manager's four states (§4.C).
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	default:
		return "Terminated"
	}
}

// Config carries the subset of §6's configuration surface the
// connection manager needs.
type Config struct {
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxReconnects     int // -1 means infinite
	ReconnectDelayMin time.Duration
	ReconnectDelayMax time.Duration
	ExponentialDelay  bool
	StashCapacity     int
	Backpressure      wire.Watermarks
}

// DefaultConfig matches §6's defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    time.Second,
		HeartbeatInterval: 500 * time.Millisecond,
		HeartbeatTimeout:  5 * time.Second,
		MaxReconnects:     100,
		ReconnectDelayMin: 250 * time.Millisecond,
		ReconnectDelayMax: 10 * time.Second,
		StashCapacity:     4096,
		Backpressure:      wire.DefaultWatermarks(),
	}
}

// Connection is the connection-manager actor: all mutable state below
// is only ever touched from run(), per §5's run-to-completion rule.
type Connection struct {
	cfg      Config
	resolver resolver.Resolver
	metrics  *metrics.Connection

	onInbound     func(wire.Packet)
	onStateChange func(old, new State)
	onStashDrop   func(wire.Packet)

	cmds chan any
	done chan struct{}
}

// New constructs a Connection. onInbound is called for every inbound
// packet that is not a heartbeat/ping handled internally (§2's data
// flow: "C intercepts heartbeats"). onStateChange, if non-nil, is
// called on every state transition. onStashDrop, if non-nil, is
// called with a packet the outbound stash dropped because it
// overflowed its capacity (§6's design note: "fail oldest with
// ConnectionLost on overflow").
func New(cfg Config, res resolver.Resolver, onInbound func(wire.Packet), onStateChange func(old, new State), onStashDrop func(wire.Packet), m *metrics.Connection) *Connection {
	c := &Connection{
		cfg:           cfg,
		resolver:      res,
		metrics:       m,
		onInbound:     onInbound,
		onStateChange: onStateChange,
		onStashDrop:   onStashDrop,
		cmds:          make(chan any, 256),
		done:          make(chan struct{}),
	}
	return c
}

// Start begins the Idle->Connecting transition and runs the actor
// loop until Stop is called or the reconnection budget is exhausted.
func (c *Connection) Start() {
	go c.run()
}

// Send enqueues a packet for the socket. While disconnected it is
// held in the outbound stash and flushed in order once Connected
// (§3's invariant: "no outbound bytes are written" while reconnecting).
func (c *Connection) Send(p wire.Packet) {
	select {
	case c.cmds <- cmdOutbound{packet: p}:
	case <-c.done:
	}
}

// Stop terminates the connection manager: closes the socket, cancels
// timers, and fails every outstanding operation via onInbound's
// owner (the dispatcher), per §5.
func (c *Connection) Stop() {
	select {
	case c.cmds <- cmdStop{}:
	case <-c.done:
	}
}

// Done is closed once the connection manager reaches Terminated.
func (c *Connection) Done() <-chan struct{} { return c.done }

// ForceReconnect drops the current socket and re-consults the
// resolver before reconnecting. Used when the dispatcher observes a
// NotHandled(NotMaster) outcome and wants a fresh master before
// retrying (§4.D/§4.G).
func (c *Connection) ForceReconnect() {
	select {
	case c.cmds <- cmdForceReconnect{}:
	case <-c.done:
	}
}

type cmdOutbound struct{ packet wire.Packet }
type cmdStop struct{}
type cmdForceReconnect struct{}
type cmdSocketConnected struct {
	conn net.Conn
	ep   resolver.Endpoint
}
type cmdSocketFailed struct {
	ep  resolver.Endpoint
	err error
}
type cmdSocketClosed struct{ generation int }
type cmdInboundPacket struct {
	generation int
	packet     wire.Packet
}
type cmdInboundFailure struct {
	generation int
	err        error
}
type cmdHeartbeatTick struct{ generation int }
type cmdHeartbeatTimeout struct{ generation int }
type cmdReconnectTimer struct{}

// OnConnectionLost/OnReconnected/OnTerminated are satisfied by the
// caller's dispatcher and subscription engine via closures passed at
// construction time through onInbound/onStateChange and the
// higher-level facade; Connection itself only reports state.

func (c *Connection) run() {
	state := StateIdle
	attempt := 0
	generation := 0 // bumps every time a socket is (re)established, to ignore stale goroutine events
	var conn net.Conn
	var writer *bufio.Writer
	var currentEndpoint resolver.Endpoint
	stash := NewStash(c.cfg.StashCapacity, c.onStashDrop)
	var heartbeatTimer *time.Timer
	var heartbeatTimeout *time.Timer
	var heartbeatCorrID uuid.UUID

	setState := func(next State) {
		if next == state {
			return
		}
		old := state
		state = next
		if c.metrics != nil {
			c.metrics.State.Set(float64(next))
		}
		if c.onStateChange != nil {
			c.onStateChange(old, next)
		}
	}

	stopHeartbeat := func() {
		if heartbeatTimer != nil {
			heartbeatTimer.Stop()
		}
		if heartbeatTimeout != nil {
			heartbeatTimeout.Stop()
			heartbeatTimeout = nil
		}
	}

	armHeartbeatInterval := func(gen int) {
		if heartbeatTimer != nil {
			heartbeatTimer.Stop()
		}
		heartbeatTimer = time.AfterFunc(c.cfg.HeartbeatInterval, func() {
			select {
			case c.cmds <- cmdHeartbeatTick{generation: gen}:
			case <-c.done:
			}
		})
	}

	closeSocket := func() {
		stopHeartbeat()
		if conn != nil {
			_ = conn.Close()
			conn = nil
			writer = nil
		}
	}

	scheduleConnect := func() {
		setState(StateConnecting)
		generation++
		gen := generation
		go c.dial(gen)
	}

	scheduleReconnect := func() {
		if c.cfg.MaxReconnects >= 0 && attempt >= c.cfg.MaxReconnects {
			setState(StateTerminated)
			return
		}
		delay := c.reconnectDelay(attempt)
		attempt++
		setState(StateConnecting)
		time.AfterFunc(delay, func() {
			select {
			case c.cmds <- cmdReconnectTimer{}:
			case <-c.done:
			}
		})
	}

	scheduleConnect()

	for {
		if state == StateTerminated {
			closeSocket()
			close(c.done)
			return
		}
		cmd := <-c.cmds
		switch m := cmd.(type) {
		case cmdStop:
			setState(StateTerminated)

		case cmdForceReconnect:
			if state == StateConnected {
				closeSocket()
				if c.metrics != nil {
					c.metrics.Reconnects.Inc()
				}
				scheduleReconnect()
			}

		case cmdReconnectTimer:
			if state == StateConnecting {
				scheduleConnect()
			}

		case cmdSocketConnected:
			attempt = 0
			currentEndpoint = m.ep
			conn = m.conn
			writer = bufio.NewWriter(conn)
			c.resolver.MarkReachable(m.ep)
			setState(StateConnected)
			for _, p := range stash.Drain() {
				c.writePacket(writer, p)
			}
			armHeartbeatInterval(generation)
			go c.readLoop(conn, generation)

		case cmdSocketFailed:
			c.resolver.MarkFailed(m.ep)
			scheduleReconnect()

		case cmdSocketClosed:
			if m.generation != generation {
				continue
			}
			closeSocket()
			if c.metrics != nil {
				c.metrics.Reconnects.Inc()
			}
			scheduleReconnect()

		case cmdInboundFailure:
			if m.generation != generation {
				continue
			}
			log.Printf("eventlogclient: connection: framing error: %v", m.err)
			closeSocket()
			scheduleReconnect()

		case cmdInboundPacket:
			if m.generation != generation || state != StateConnected {
				continue
			}
			c.handleInbound(m.packet, writer, generation, &heartbeatTimeout, &heartbeatCorrID)

		case cmdHeartbeatTick:
			if m.generation != generation || state != StateConnected {
				continue
			}
			heartbeatCorrID = c.sendHeartbeatRequest(writer)
			gen := generation
			heartbeatTimeout = time.AfterFunc(c.cfg.HeartbeatTimeout, func() {
				select {
				case c.cmds <- cmdHeartbeatTimeout{generation: gen}:
				case <-c.done:
				}
			})
			armHeartbeatInterval(gen)

		case cmdHeartbeatTimeout:
			if m.generation != generation || state != StateConnected {
				continue
			}
			log.Printf("eventlogclient: connection: heartbeat timeout, reconnecting")
			if c.metrics != nil {
				c.metrics.HeartbeatMiss.Inc()
			}
			closeSocket()
			scheduleReconnect()

		case cmdOutbound:
			if state == StateConnected && writer != nil {
				c.writePacket(writer, m.packet)
			} else {
				stash.Push(m.packet)
			}
		}
		_ = currentEndpoint
	}
}

func (c *Connection) dial(gen int) {
	ep, err := c.resolver.NextEndpoint(context.Background())
	if err != nil {
		select {
		case c.cmds <- cmdSocketFailed{err: err}:
		case <-c.done:
		}
		return
	}
	d := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := d.Dial("tcp", fmt.Sprintf("%s:%d", ep.Host, ep.Port))
	if err != nil {
		select {
		case c.cmds <- cmdSocketFailed{ep: ep, err: err}:
		case <-c.done:
		}
		return
	}
	select {
	case c.cmds <- cmdSocketConnected{conn: conn, ep: ep}:
	case <-c.done:
		_ = conn.Close()
	}
	_ = gen
}

func (c *Connection) readLoop(conn net.Conn, gen int) {
	r := bufio.NewReader(conn)
	decoder := wire.NewDecoder()
	buf := make([]byte, 64*1024)
	bp := wire.NewBuffer(c.cfg.Backpressure)

	deliver := func(frame []byte) bool {
		packet, derr := wire.Decode(frame)
		if derr != nil {
			select {
			case c.cmds <- cmdInboundFailure{generation: gen, err: derr}:
			case <-c.done:
			}
			return false
		}
		select {
		case c.cmds <- cmdInboundPacket{generation: gen, packet: packet}:
			return true
		case <-c.done:
			return false
		}
	}

	// drainWhilePaused pops and delivers buffered frames without
	// touching the socket, so the reader stays off the wire while the
	// buffer sits above the high watermark until it drains to the low
	// one (§4.A's pause/resume contract).
	drainWhilePaused := func() bool {
		for bp.Paused() {
			frame, resume, ok := bp.Pop()
			if !ok {
				return true
			}
			if !deliver(frame) {
				return false
			}
			if resume {
				return true
			}
		}
		return true
	}

	for {
		if !drainWhilePaused() {
			return
		}
		n, err := r.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n])
			for {
				frame, ok, derr := decoder.Next()
				if derr != nil {
					select {
					case c.cmds <- cmdInboundFailure{generation: gen, err: derr}:
					case <-c.done:
					}
					return
				}
				if !ok {
					break
				}
				pause, perr := bp.Push(frame)
				if perr != nil {
					select {
					case c.cmds <- cmdInboundFailure{generation: gen, err: perr}:
					case <-c.done:
					}
					return
				}
				if pause {
					// Leave it buffered; the reader stalls on the
					// next iteration's drainWhilePaused instead of
					// pulling more bytes off the socket.
					continue
				}
				f, _, ok := bp.Pop()
				if !ok {
					continue
				}
				if !deliver(f) {
					return
				}
			}
		}
		if err != nil {
			select {
			case c.cmds <- cmdSocketClosed{generation: gen}:
			case <-c.done:
			}
			return
		}
	}
}

func (c *Connection) writePacket(w *bufio.Writer, p wire.Packet) {
	if w == nil {
		return
	}
	encoded, err := wire.Encode(p)
	if err != nil {
		log.Printf("eventlogclient: connection: encode packet: %v", err)
		return
	}
	if err := wire.WriteFrame(w, encoded); err != nil {
		log.Printf("eventlogclient: connection: write frame: %v", err)
		return
	}
	if err := w.Flush(); err != nil {
		log.Printf("eventlogclient: connection: flush: %v", err)
	}
}

func (c *Connection) sendHeartbeatRequest(w *bufio.Writer) uuid.UUID {
	corrID := newHeartbeatCorrelationID()
	payload, _ := wire.ProtoCodec{}.Marshal(&wire.HeartbeatRequest{})
	c.writePacket(w, wire.Packet{MessageType: wire.MsgHeartbeatRequest, CorrelationID: corrID, Payload: payload})
	return corrID
}

func (c *Connection) handleInbound(p wire.Packet, w *bufio.Writer, gen int, heartbeatTimeout **time.Timer, heartbeatCorrID *uuid.UUID) {
	switch p.MessageType {
	case wire.MsgHeartbeatRequest:
		c.writePacket(w, wire.Packet{MessageType: wire.MsgHeartbeatResponse, CorrelationID: p.CorrelationID})
	case wire.MsgPing:
		c.writePacket(w, wire.Packet{MessageType: wire.MsgPong, CorrelationID: p.CorrelationID})
	case wire.MsgHeartbeatResponse, wire.MsgPong:
		// A response that does not match the currently outstanding
		// heartbeat's correlation id (e.g. a stale one arriving after
		// its own timeout already fired) is ignored (§4.C).
		if *heartbeatTimeout != nil && p.CorrelationID == *heartbeatCorrID {
			(*heartbeatTimeout).Stop()
			*heartbeatTimeout = nil
		}
	default:
		if c.onInbound != nil {
			c.onInbound(p)
		}
	}
	_ = gen
}

func (c *Connection) reconnectDelay(attempt int) time.Duration {
	if !c.cfg.ExponentialDelay {
		return c.cfg.ReconnectDelayMin
	}
	d := float64(c.cfg.ReconnectDelayMin) * math.Pow(2, float64(attempt))
	if d > float64(c.cfg.ReconnectDelayMax) {
		return c.cfg.ReconnectDelayMax
	}
	return time.Duration(d)
}
