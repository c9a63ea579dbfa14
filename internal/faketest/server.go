// Package faketest implements a minimal in-process server speaking
// the same frame/packet wire protocol as the real client stack, so
// integration tests can drive the connection manager, dispatcher, and
// subscription engine against a real socket without a real database.
// Adapted from the teacher's internal/ingest/socket server, which
// paired a length-prefixed frame codec with a worker-pool request
// loop over an in-memory engine; this server keeps the same
// accept/read/write-loop shape but speaks internal/wire's packet
// envelope and an in-memory event log instead of the teacher's own
// request/response schema.
package faketest

import (
	"bufio"
	"net"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/fkabongo/eventlogclient/internal/wire"
)

// storedEvent is one appended event, kept both under its stream and
// in the global commit-ordered log.
type storedEvent struct {
	stream      string
	eventNumber int64
	rec         wire.EventRecord
	commitPos   int64
	preparePos  int64
}

type subscription struct {
	stream string // "" means $all
	conn   *serverConn
}

// Server is an in-memory stand-in for the remote database. It is safe
// for concurrent use by multiple client connections.
type Server struct {
	ln net.Listener

	mu      sync.Mutex
	byStream map[string][]*storedEvent
	allLog   []*storedEvent
	subs     map[uuid.UUID]*subscription

	closed atomic.Bool
	wg     sync.WaitGroup

	codec wire.Codec

	// RequireAuth, when set, rejects any request whose packet has no
	// matching login/password with MsgNotAuthenticated.
	RequireAuth bool
	Login       string
	Password    string
}

// NewServer constructs a Server. It does not start listening; call
// Start or Listen+Serve.
func NewServer() *Server {
	return &Server{
		byStream: make(map[string][]*storedEvent),
		subs:     make(map[uuid.UUID]*subscription),
		codec:    wire.ProtoCodec{},
	}
}

// Start listens on a loopback port (address "" picks one) and begins
// serving. It returns the bound address.
func (s *Server) Start(address string) (string, error) {
	if address == "" {
		address = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return "", err
	}
	s.ln = ln
	go s.acceptLoop()
	return ln.Addr().String(), nil
}

// Close stops accepting connections and waits for in-flight
// connection handlers to finish.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handleConn(c)
	}
}

type serverConn struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (sc *serverConn) send(p wire.Packet) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	buf, err := wire.Encode(p)
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(sc.w, buf); err != nil {
		return err
	}
	return sc.w.Flush()
}

func (s *Server) handleConn(c net.Conn) {
	defer s.wg.Done()
	defer c.Close()
	sc := &serverConn{w: bufio.NewWriter(c)}
	r := bufio.NewReader(c)

	defer s.dropConnSubscriptions(sc)

	for {
		payload, err := wire.ReadFrame(r)
		if err != nil {
			return
		}
		pkt, err := wire.Decode(payload)
		if err != nil {
			return
		}
		if s.RequireAuth && !s.authOK(pkt) {
			s.replyNotAuthenticated(sc, pkt)
			continue
		}
		s.dispatch(sc, pkt)
	}
}

func (s *Server) authOK(p wire.Packet) bool {
	if !p.HasAuth() {
		return false
	}
	return p.Login == s.Login && p.Password == s.Password
}

func (s *Server) replyNotAuthenticated(sc *serverConn, p wire.Packet) {
	payload, _ := s.codec.Marshal(&wire.NotAuthenticated{Reason: "invalid credentials"})
	_ = sc.send(wire.Packet{MessageType: wire.MsgNotAuthenticated, CorrelationID: p.CorrelationID, Payload: payload})
}

func (s *Server) dropConnSubscriptions(sc *serverConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		if sub.conn == sc {
			delete(s.subs, id)
		}
	}
}

func (s *Server) dispatch(sc *serverConn, p wire.Packet) {
	switch p.MessageType {
	case wire.MsgHeartbeatRequest:
		_ = sc.send(wire.Packet{MessageType: wire.MsgHeartbeatResponse, CorrelationID: p.CorrelationID})
	case wire.MsgHeartbeatResponse:
		// server-initiated heartbeats are not used by this fake; ignore.
	case wire.MsgPing:
		_ = sc.send(wire.Packet{MessageType: wire.MsgPong, CorrelationID: p.CorrelationID})
	case wire.MsgWriteEvents:
		s.handleWriteEvents(sc, p)
	case wire.MsgReadEvent:
		s.handleReadEvent(sc, p)
	case wire.MsgReadStreamEventsForward:
		s.handleReadStream(sc, p, true)
	case wire.MsgReadStreamEventsBackward:
		s.handleReadStream(sc, p, false)
	case wire.MsgReadAllEventsForward:
		s.handleReadAll(sc, p, true)
	case wire.MsgReadAllEventsBackward:
		s.handleReadAll(sc, p, false)
	case wire.MsgSubscribeToStream:
		s.handleSubscribe(sc, p)
	case wire.MsgUnsubscribeFromStream:
		s.handleUnsubscribe(sc, p)
	}
}

func (s *Server) handleWriteEvents(sc *serverConn, p wire.Packet) {
	msg, err := s.codec.Unmarshal(wire.MsgWriteEvents, p.Payload)
	if err != nil {
		return
	}
	req := msg.(*wire.WriteEvents)

	s.mu.Lock()
	existing := s.byStream[req.EventStreamId]
	if (req.ExpectedVersion >= 0 && int64(len(existing))-1 != req.ExpectedVersion) ||
		(req.ExpectedVersion == -1 && len(existing) > 0) {
		s.mu.Unlock()
		s.replyWriteResult(sc, p.CorrelationID, wire.ResultWrongExpectedVersion, "wrong expected version")
		return
	}
	first := int64(len(existing))
	var appended []*storedEvent
	for i, ne := range req.Events {
		se := &storedEvent{
			stream:      req.EventStreamId,
			eventNumber: first + int64(i),
			rec: wire.EventRecord{
				EventStreamId:   req.EventStreamId,
				EventNumber:     first + int64(i),
				EventId:         ne.EventId,
				EventType:       ne.EventType,
				DataContentType: ne.DataContentType,
				MetaContentType: ne.MetaContentType,
				Data:            ne.Data,
				Metadata:        ne.Metadata,
			},
		}
		appended = append(appended, se)
	}
	for _, se := range appended {
		se.commitPos = int64(len(s.allLog)) * 2
		se.preparePos = se.commitPos + 1
		s.allLog = append(s.allLog, se)
	}
	s.byStream[req.EventStreamId] = append(existing, appended...)
	last := first + int64(len(appended)) - 1
	var commitPos, preparePos int64
	if len(appended) > 0 {
		commitPos, preparePos = appended[len(appended)-1].commitPos, appended[len(appended)-1].preparePos
	}
	s.mu.Unlock()

	for _, se := range appended {
		s.notifySubscribers(se)
	}

	payload, _ := s.codec.Marshal(&wire.WriteEventsCompleted{
		Result:           int32(wire.ResultSuccess),
		FirstEventNumber: first,
		LastEventNumber:  last,
		CurrentVersion:   last,
		CommitPosition:   commitPos,
		PreparePosition:  preparePos,
	})
	_ = sc.send(wire.Packet{MessageType: wire.MsgWriteEventsCompleted, CorrelationID: p.CorrelationID, Payload: payload})
}

func (s *Server) replyWriteResult(sc *serverConn, corrID uuid.UUID, result wire.OperationResult, message string) {
	payload, _ := s.codec.Marshal(&wire.WriteEventsCompleted{Result: int32(result), Message: message})
	_ = sc.send(wire.Packet{MessageType: wire.MsgWriteEventsCompleted, CorrelationID: corrID, Payload: payload})
}

func (s *Server) handleReadEvent(sc *serverConn, p wire.Packet) {
	msg, err := s.codec.Unmarshal(wire.MsgReadEvent, p.Payload)
	if err != nil {
		return
	}
	req := msg.(*wire.ReadEvent)

	s.mu.Lock()
	events := s.byStream[req.EventStreamId]
	var found *storedEvent
	if req.EventNumber >= 0 && req.EventNumber < int64(len(events)) {
		found = events[req.EventNumber]
	}
	s.mu.Unlock()

	if found == nil {
		payload, _ := s.codec.Marshal(&wire.ReadEventCompleted{Result: int32(wire.ResultEventNotFound)})
		_ = sc.send(wire.Packet{MessageType: wire.MsgReadEventCompleted, CorrelationID: p.CorrelationID, Payload: payload})
		return
	}
	payload, _ := s.codec.Marshal(&wire.ReadEventCompleted{
		Result: int32(wire.ResultSuccess),
		Event:  toWireResolved(found),
	})
	_ = sc.send(wire.Packet{MessageType: wire.MsgReadEventCompleted, CorrelationID: p.CorrelationID, Payload: payload})
}

func (s *Server) handleReadStream(sc *serverConn, p wire.Packet, forward bool) {
	msg, err := s.codec.Unmarshal(wire.MsgReadStreamEventsForward, p.Payload)
	if err != nil {
		return
	}
	req := msg.(*wire.ReadStreamEventsForward)

	s.mu.Lock()
	all := s.byStream[req.EventStreamId]
	lastEventNumber := int64(len(all)) - 1
	var slice []*storedEvent
	var next int64
	var isEnd bool
	if forward {
		from := req.FromEventNumber
		if from < 0 {
			from = 0
		}
		end := from + int64(req.MaxCount)
		if end > int64(len(all)) {
			end = int64(len(all))
		}
		if from < int64(len(all)) {
			slice = append(slice, all[from:end]...)
		}
		next = end
		isEnd = end >= int64(len(all))
	} else {
		from := req.FromEventNumber
		if from < 0 || from >= int64(len(all)) {
			from = int64(len(all)) - 1
		}
		count := int64(req.MaxCount)
		end := from - count
		if end < -1 {
			end = -1
		}
		for i := from; i > end && i >= 0; i-- {
			slice = append(slice, all[i])
		}
		next = end
		isEnd = end < 0
	}
	var lastCommit int64
	if len(all) > 0 {
		lastCommit = all[len(all)-1].commitPos
	}
	s.mu.Unlock()

	resolved := make([]*wire.ResolvedEvent, 0, len(slice))
	for _, se := range slice {
		resolved = append(resolved, toWireResolved(se))
	}
	payload, _ := s.codec.Marshal(&wire.ReadStreamEventsCompleted{
		Result:             int32(wire.ResultSuccess),
		Events:             resolved,
		NextEventNumber:    next,
		LastEventNumber:    lastEventNumber,
		IsEndOfStream:      isEnd,
		LastCommitPosition: lastCommit,
	})
	msgType := wire.MsgReadStreamEventsForwardCompleted
	if !forward {
		msgType = wire.MsgReadStreamEventsBackwardCompleted
	}
	_ = sc.send(wire.Packet{MessageType: msgType, CorrelationID: p.CorrelationID, Payload: payload})
}

func (s *Server) handleReadAll(sc *serverConn, p wire.Packet, forward bool) {
	msg, err := s.codec.Unmarshal(wire.MsgReadAllEventsForward, p.Payload)
	if err != nil {
		return
	}
	req := msg.(*wire.ReadAllEventsForward)

	s.mu.Lock()
	log := s.allLog
	idx := sort.Search(len(log), func(i int) bool { return log[i].commitPos >= req.CommitPosition })
	var slice []*storedEvent
	var nextCommit, nextPrepare int64
	var isEnd bool
	if forward {
		end := idx + int(req.MaxCount)
		if end > len(log) {
			end = len(log)
		}
		if idx < len(log) {
			slice = append(slice, log[idx:end]...)
		}
		isEnd = end >= len(log)
		if isEnd {
			nextCommit, nextPrepare = int64(len(log))*2, int64(len(log))*2+1
		} else {
			nextCommit, nextPrepare = log[end].commitPos, log[end].preparePos
		}
	} else {
		start := idx - 1
		if start >= len(log) {
			start = len(log) - 1
		}
		count := int(req.MaxCount)
		for i := start; i >= 0 && len(slice) < count; i-- {
			slice = append(slice, log[i])
		}
		isEnd = start-count < 0
		if len(slice) > 0 {
			last := slice[len(slice)-1]
			nextCommit, nextPrepare = last.commitPos-1, last.preparePos-1
		}
	}
	s.mu.Unlock()

	resolved := make([]*wire.ResolvedEvent, 0, len(slice))
	for _, se := range slice {
		resolved = append(resolved, toWireResolved(se))
	}
	payload, _ := s.codec.Marshal(&wire.ReadAllEventsCompleted{
		Result:              int32(wire.ResultSuccess),
		Events:              resolved,
		NextCommitPosition:  nextCommit,
		NextPreparePosition: nextPrepare,
		IsEndOfStream:       isEnd,
	})
	msgType := wire.MsgReadAllEventsForwardCompleted
	if !forward {
		msgType = wire.MsgReadAllEventsBackwardCompleted
	}
	_ = sc.send(wire.Packet{MessageType: msgType, CorrelationID: p.CorrelationID, Payload: payload})
}

func (s *Server) handleSubscribe(sc *serverConn, p wire.Packet) {
	msg, err := s.codec.Unmarshal(wire.MsgSubscribeToStream, p.Payload)
	if err != nil {
		return
	}
	req := msg.(*wire.SubscribeToStream)

	s.mu.Lock()
	all := s.byStream[req.EventStreamId]
	var lastCommit, lastEventNumber int64
	hasEventNumber := len(all) > 0
	if hasEventNumber {
		lastEventNumber = all[len(all)-1].eventNumber
	}
	if len(s.allLog) > 0 {
		lastCommit = s.allLog[len(s.allLog)-1].commitPos
	}
	s.subs[p.CorrelationID] = &subscription{stream: req.EventStreamId, conn: sc}
	s.mu.Unlock()

	payload, _ := s.codec.Marshal(&wire.SubscribeToStreamCompleted{
		LastCommitPosition: lastCommit,
		LastEventNumber:    lastEventNumber,
		HasEventNumber:     hasEventNumber,
	})
	_ = sc.send(wire.Packet{MessageType: wire.MsgSubscribeToStreamCompleted, CorrelationID: p.CorrelationID, Payload: payload})
}

func (s *Server) handleUnsubscribe(sc *serverConn, p wire.Packet) {
	s.mu.Lock()
	delete(s.subs, p.CorrelationID)
	s.mu.Unlock()
}

func (s *Server) notifySubscribers(se *storedEvent) {
	s.mu.Lock()
	targets := make(map[uuid.UUID]*subscription, len(s.subs))
	for id, sub := range s.subs {
		if sub.stream == "" || sub.stream == se.stream {
			targets[id] = sub
		}
	}
	s.mu.Unlock()

	resolved := toWireResolved(se)
	for corrID, sub := range targets {
		payload, _ := s.codec.Marshal(&wire.StreamEventAppeared{Event: resolved})
		_ = sub.conn.send(wire.Packet{MessageType: wire.MsgStreamEventAppeared, CorrelationID: corrID, Payload: payload})
	}
}

// DropSubscription forces the server to push a MsgSubscriptionDropped
// for the subscription identified by corrID, simulating a
// server-initiated drop (e.g. stream deleted, access revoked).
func (s *Server) DropSubscription(corrID uuid.UUID, reason wire.SubscriptionDropReason) {
	s.mu.Lock()
	sub, ok := s.subs[corrID]
	if ok {
		delete(s.subs, corrID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	payload, _ := s.codec.Marshal(&wire.SubscriptionDropped{Reason: int32(reason)})
	_ = sub.conn.send(wire.Packet{MessageType: wire.MsgSubscriptionDropped, CorrelationID: corrID, Payload: payload})
}

func toWireResolved(se *storedEvent) *wire.ResolvedEvent {
	rec := se.rec
	return &wire.ResolvedEvent{
		Event:      &rec,
		CommitPos:  se.commitPos,
		PreparePos: se.preparePos,
	}
}
