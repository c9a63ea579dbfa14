package client

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fkabongo/eventlogclient/internal/config"
	"github.com/fkabongo/eventlogclient/internal/dispatch"
	"github.com/fkabongo/eventlogclient/internal/metrics"
	"github.com/fkabongo/eventlogclient/internal/resolver"
	"github.com/fkabongo/eventlogclient/internal/subscribe"
	"github.com/fkabongo/eventlogclient/internal/transport"
	"github.com/fkabongo/eventlogclient/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
)

// Observer receives a subscription's callbacks (§4.E/§4.F).
type Observer = subscribe.Observer

// Client is the public facade (§4.F): the only point where
// operation-level timeouts, default credentials, and the default
// resolve-link-tos flag are applied.
type Client struct {
	cfg        config.Config
	conn       *transport.Connection
	dispatcher *dispatch.Dispatcher
	codec      wire.Codec
	resolver   resolver.Resolver
}

// Subscription is a handle returned by a subscription factory method;
// Close unsubscribes and stops further observer callbacks.
type Subscription interface {
	Close()
}

// New wires the frame codec, connection manager, operation
// dispatcher, and endpoint resolver together from cfg and starts
// connecting immediately.
func New(cfg config.Config, reg prometheus.Registerer) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var res resolver.Resolver
	if cfg.Cluster.Enabled {
		res = resolver.NewGossip(cfg.Cluster.GossipSeeds, cfg.Cluster.PollInterval)
	} else {
		host, port, err := splitHostPort(cfg.Address)
		if err != nil {
			return nil, err
		}
		res = resolver.NewStatic(host, port)
	}

	connMetrics := metrics.NewConnection(reg)
	dispMetrics := metrics.NewDispatcher(reg)

	c := &Client{cfg: cfg, codec: wire.ProtoCodec{}, resolver: res}

	var disp *dispatch.Dispatcher
	conn := transport.New(
		transport.Config{
			ConnectTimeout:    cfg.ConnectionTimeout,
			HeartbeatInterval: cfg.Heartbeat.Interval,
			HeartbeatTimeout:  cfg.Heartbeat.Timeout,
			MaxReconnects:     cfg.Reconnection.MaxAttempts,
			ReconnectDelayMin: cfg.Reconnection.DelayMin,
			ReconnectDelayMax: cfg.Reconnection.DelayMax,
			ExponentialDelay:  cfg.Reconnection.Exponential,
			StashCapacity:     4096,
			Backpressure:      wire.Watermarks{Low: cfg.Backpressure.Low, High: cfg.Backpressure.High, Max: cfg.Backpressure.Max},
		},
		res,
		func(p wire.Packet) { disp.Inbound(p) },
		func(old, next transport.State) {
			if disp == nil {
				return
			}
			switch next {
			case transport.StateConnected:
				disp.Reconnected()
			case transport.StateConnecting:
				if old == transport.StateConnected {
					disp.ConnectionLost()
				}
			case transport.StateTerminated:
				disp.Terminated()
			}
		},
		func(p wire.Packet) {
			if disp != nil {
				disp.Fail(p.CorrelationID, dispatch.ErrConnectionLost)
			}
		},
		connMetrics,
	)

	disp = dispatch.New(conn, cfg.DefaultCredentials, dispMetrics, conn.ForceReconnect)
	conn.Start()

	c.conn = conn
	c.dispatcher = disp
	return c, nil
}

// Close terminates the connection manager and fails every outstanding
// operation and subscription.
func (c *Client) Close() {
	c.conn.Stop()
	<-c.conn.Done()
}

// AppendToStream writes events to a stream under an optimistic
// concurrency precondition.
func (c *Client) AppendToStream(ctx context.Context, stream StreamID, expectedVersion ExpectedVersion, events []EventData) (WriteResult, error) {
	newEvents := make([]*wire.NewEvent, len(events))
	for i, e := range events {
		newEvents[i] = &wire.NewEvent{
			EventId:         e.EventID[:],
			EventType:       e.EventType,
			DataContentType: int32(e.DataContent),
			MetaContentType: int32(e.MetadataContent),
			Data:            e.Data,
			Metadata:        e.Metadata,
		}
	}
	payload, err := c.codec.Marshal(&wire.WriteEvents{
		EventStreamId:   string(stream),
		ExpectedVersion: expectedVersionWire(expectedVersion),
		Events:          newEvents,
		RequireMaster:   c.cfg.RequireMaster,
	})
	if err != nil {
		return WriteResult{}, err
	}
	result, err := c.dispatcher.Submit(ctx, dispatch.Request{
		MessageType: wire.MsgWriteEvents,
		Payload:     payload,
		Timeout:     c.cfg.Operation.Timeout,
		MaxRetries:  c.cfg.Operation.MaxRetries,
		Handler:     c.writeHandler(expectedVersion),
	})
	if err != nil {
		return WriteResult{}, err
	}
	return result.(WriteResult), nil
}

// notHandledOutcome decodes a MsgNotHandled push and reports whether
// the dispatcher should retry, per §4.D: PrepareTimeout, CommitTimeout,
// ForwardTimeout, and NotHandled(NotMaster) are all retryable.
func notHandledOutcome(codec wire.Codec, payload []byte) dispatch.Outcome {
	msg, err := codec.Unmarshal(wire.MsgNotHandled, payload)
	if err != nil {
		return dispatch.Outcome{Terminal: true, Err: err}
	}
	notHandled, _ := msg.(*wire.NotHandled)
	if notHandled != nil && wire.NotHandledReason(notHandled.Reason) == wire.NotHandledNotMaster {
		return dispatch.Outcome{Retry: true, ReResolve: true, Err: ErrRetriesExhausted}
	}
	return dispatch.Outcome{Retry: true, Err: ErrRetriesExhausted}
}

func (c *Client) writeHandler(expectedVersion ExpectedVersion) dispatch.Handler {
	return func(messageType wire.MessageType, payload []byte) dispatch.Outcome {
		if messageType == wire.MsgNotHandled {
			return notHandledOutcome(c.codec, payload)
		}
		if messageType == wire.MsgNotAuthenticated {
			return dispatch.Outcome{Terminal: true, Err: ErrAccessDenied}
		}
		if messageType == wire.MsgBadRequest {
			return dispatch.Outcome{Terminal: true, Err: ErrBadRequest}
		}
		msg, err := c.codec.Unmarshal(messageType, payload)
		if err != nil {
			return dispatch.Outcome{Terminal: true, Err: err}
		}
		completed, ok := msg.(*wire.WriteEventsCompleted)
		if !ok {
			return dispatch.Outcome{Terminal: true, Err: &UnexpectedResponseError{MessageType: messageType}}
		}
		switch wire.OperationResult(completed.Result) {
		case wire.ResultSuccess:
			return dispatch.Outcome{Terminal: true, Result: WriteResult{
				NextExpectedVersion: completed.LastEventNumber,
				CommitPosition:      Position{Commit: uint64(completed.CommitPosition), Prepare: uint64(completed.PreparePosition)},
			}}
		case wire.ResultPrepareTimeout, wire.ResultCommitTimeout, wire.ResultForwardTimeout:
			return dispatch.Outcome{Retry: true, Err: ErrRetriesExhausted}
		case wire.ResultWrongExpectedVersion:
			var actual *int64
			if completed.CurrentVersion >= 0 {
				v := completed.CurrentVersion
				actual = &v
			}
			return dispatch.Outcome{Terminal: true, Err: &WrongExpectedVersionError{Given: expectedVersion, Actual: actual}}
		case wire.ResultStreamDeleted:
			return dispatch.Outcome{Terminal: true, Err: ErrStreamDeleted}
		case wire.ResultAccessDenied:
			return dispatch.Outcome{Terminal: true, Err: ErrAccessDenied}
		default:
			return dispatch.Outcome{Terminal: true, Err: ErrBadRequest}
		}
	}
}

// ReadEvent reads a single event by stream and event number.
func (c *Client) ReadEvent(ctx context.Context, stream StreamID, eventNumber int64, resolveLinkTos *bool) (ResolvedEvent, error) {
	resolve := c.cfg.ResolveLinkTos
	if resolveLinkTos != nil {
		resolve = *resolveLinkTos
	}
	payload, err := c.codec.Marshal(&wire.ReadEvent{
		EventStreamId:  string(stream),
		EventNumber:    eventNumber,
		ResolveLinkTos: resolve,
		RequireMaster:  c.cfg.RequireMaster,
	})
	if err != nil {
		return ResolvedEvent{}, err
	}
	result, err := c.dispatcher.Submit(ctx, dispatch.Request{
		MessageType: wire.MsgReadEvent,
		Payload:     payload,
		Timeout:     c.cfg.Operation.Timeout,
		MaxRetries:  c.cfg.Operation.MaxRetries,
		Handler:     c.readEventHandler,
	})
	if err != nil {
		return ResolvedEvent{}, err
	}
	return result.(ResolvedEvent), nil
}

func (c *Client) readEventHandler(messageType wire.MessageType, payload []byte) dispatch.Outcome {
	if messageType == wire.MsgNotHandled {
		return notHandledOutcome(c.codec, payload)
	}
	if messageType == wire.MsgNotAuthenticated {
		return dispatch.Outcome{Terminal: true, Err: ErrAccessDenied}
	}
	msg, err := c.codec.Unmarshal(messageType, payload)
	if err != nil {
		return dispatch.Outcome{Terminal: true, Err: err}
	}
	completed, ok := msg.(*wire.ReadEventCompleted)
	if !ok {
		return dispatch.Outcome{Terminal: true, Err: &UnexpectedResponseError{MessageType: messageType}}
	}
	switch wire.OperationResult(completed.Result) {
	case wire.ResultSuccess:
		return dispatch.Outcome{Terminal: true, Result: resolvedEventFromWire(completed.Event)}
	case wire.ResultStreamNotFound:
		return dispatch.Outcome{Terminal: true, Err: ErrStreamNotFound}
	case wire.ResultEventNotFound:
		return dispatch.Outcome{Terminal: true, Err: ErrEventNotFound}
	case wire.ResultStreamDeleted:
		return dispatch.Outcome{Terminal: true, Err: ErrStreamDeleted}
	case wire.ResultAccessDenied:
		return dispatch.Outcome{Terminal: true, Err: ErrAccessDenied}
	default:
		return dispatch.Outcome{Terminal: true, Err: ErrBadRequest}
	}
}

// ReadStreamEventsForward reads up to maxCount events (cfg.ReadBatchSize
// when maxCount <= 0) from a stream starting at fromEventNumber, in
// forward order.
func (c *Client) ReadStreamEventsForward(ctx context.Context, stream StreamID, fromEventNumber int64, maxCount int, resolveLinkTos *bool) (StreamSlice, error) {
	return c.readStreamSlice(ctx, wire.MsgReadStreamEventsForward, stream, fromEventNumber, maxCount, resolveLinkTos)
}

// ReadStreamEventsBackward reads up to maxCount events from a stream
// starting at fromEventNumber, in reverse order.
func (c *Client) ReadStreamEventsBackward(ctx context.Context, stream StreamID, fromEventNumber int64, maxCount int, resolveLinkTos *bool) (StreamSlice, error) {
	return c.readStreamSlice(ctx, wire.MsgReadStreamEventsBackward, stream, fromEventNumber, maxCount, resolveLinkTos)
}

func (c *Client) readStreamSlice(ctx context.Context, msgType wire.MessageType, stream StreamID, fromEventNumber int64, maxCount int, resolveLinkTos *bool) (StreamSlice, error) {
	resolve := c.cfg.ResolveLinkTos
	if resolveLinkTos != nil {
		resolve = *resolveLinkTos
	}
	if maxCount <= 0 {
		maxCount = c.cfg.ReadBatchSize
	}
	payload, err := c.codec.Marshal(&wire.ReadStreamEventsForward{
		EventStreamId:   string(stream),
		FromEventNumber: fromEventNumber,
		MaxCount:        int32(maxCount),
		ResolveLinkTos:  resolve,
		RequireMaster:   c.cfg.RequireMaster,
	})
	if err != nil {
		return StreamSlice{}, err
	}
	result, err := c.dispatcher.Submit(ctx, dispatch.Request{
		MessageType: msgType,
		Payload:     payload,
		Timeout:     c.cfg.Operation.Timeout,
		MaxRetries:  c.cfg.Operation.MaxRetries,
		Handler:     c.readStreamHandler,
	})
	if err != nil {
		return StreamSlice{}, err
	}
	return result.(StreamSlice), nil
}

func (c *Client) readStreamHandler(messageType wire.MessageType, payload []byte) dispatch.Outcome {
	if messageType == wire.MsgNotHandled {
		return notHandledOutcome(c.codec, payload)
	}
	if messageType == wire.MsgNotAuthenticated {
		return dispatch.Outcome{Terminal: true, Err: ErrAccessDenied}
	}
	msg, err := c.codec.Unmarshal(messageType, payload)
	if err != nil {
		return dispatch.Outcome{Terminal: true, Err: err}
	}
	completed, ok := msg.(*wire.ReadStreamEventsCompleted)
	if !ok {
		return dispatch.Outcome{Terminal: true, Err: &UnexpectedResponseError{MessageType: messageType}}
	}
	switch wire.OperationResult(completed.Result) {
	case wire.ResultSuccess:
		events := make([]ResolvedEvent, len(completed.Events))
		for i, re := range completed.Events {
			events[i] = resolvedEventFromWire(re)
		}
		return dispatch.Outcome{Terminal: true, Result: StreamSlice{
			Events:          events,
			NextEventNumber: completed.NextEventNumber,
			IsEndOfStream:   completed.IsEndOfStream,
		}}
	case wire.ResultStreamNotFound:
		return dispatch.Outcome{Terminal: true, Err: ErrStreamNotFound}
	case wire.ResultStreamDeleted:
		return dispatch.Outcome{Terminal: true, Err: ErrStreamDeleted}
	case wire.ResultAccessDenied:
		return dispatch.Outcome{Terminal: true, Err: ErrAccessDenied}
	default:
		return dispatch.Outcome{Terminal: true, Err: ErrBadRequest}
	}
}

// ReadAllEventsForward reads up to maxCount events from $all starting
// at fromPosition, in forward order.
func (c *Client) ReadAllEventsForward(ctx context.Context, fromPosition Position, maxCount int, resolveLinkTos *bool) (AllSlice, error) {
	return c.readAllSlice(ctx, wire.MsgReadAllEventsForward, fromPosition, maxCount, resolveLinkTos)
}

// ReadAllEventsBackward reads up to maxCount events from $all starting
// at fromPosition, in reverse order.
func (c *Client) ReadAllEventsBackward(ctx context.Context, fromPosition Position, maxCount int, resolveLinkTos *bool) (AllSlice, error) {
	return c.readAllSlice(ctx, wire.MsgReadAllEventsBackward, fromPosition, maxCount, resolveLinkTos)
}

func (c *Client) readAllSlice(ctx context.Context, msgType wire.MessageType, fromPosition Position, maxCount int, resolveLinkTos *bool) (AllSlice, error) {
	resolve := c.cfg.ResolveLinkTos
	if resolveLinkTos != nil {
		resolve = *resolveLinkTos
	}
	if maxCount <= 0 {
		maxCount = c.cfg.ReadBatchSize
	}
	payload, err := c.codec.Marshal(&wire.ReadAllEventsForward{
		CommitPosition:  int64(fromPosition.Commit),
		PreparePosition: int64(fromPosition.Prepare),
		MaxCount:        int32(maxCount),
		ResolveLinkTos:  resolve,
		RequireMaster:   c.cfg.RequireMaster,
	})
	if err != nil {
		return AllSlice{}, err
	}
	result, err := c.dispatcher.Submit(ctx, dispatch.Request{
		MessageType: msgType,
		Payload:     payload,
		Timeout:     c.cfg.Operation.Timeout,
		MaxRetries:  c.cfg.Operation.MaxRetries,
		Handler:     c.readAllHandler,
	})
	if err != nil {
		return AllSlice{}, err
	}
	return result.(AllSlice), nil
}

func (c *Client) readAllHandler(messageType wire.MessageType, payload []byte) dispatch.Outcome {
	if messageType == wire.MsgNotHandled {
		return notHandledOutcome(c.codec, payload)
	}
	if messageType == wire.MsgNotAuthenticated {
		return dispatch.Outcome{Terminal: true, Err: ErrAccessDenied}
	}
	msg, err := c.codec.Unmarshal(messageType, payload)
	if err != nil {
		return dispatch.Outcome{Terminal: true, Err: err}
	}
	completed, ok := msg.(*wire.ReadAllEventsCompleted)
	if !ok {
		return dispatch.Outcome{Terminal: true, Err: &UnexpectedResponseError{MessageType: messageType}}
	}
	switch wire.OperationResult(completed.Result) {
	case wire.ResultSuccess:
		events := make([]ResolvedEvent, len(completed.Events))
		for i, re := range completed.Events {
			events[i] = resolvedEventFromWire(re)
		}
		return dispatch.Outcome{Terminal: true, Result: AllSlice{
			Events:        events,
			NextPosition:  Position{Commit: uint64(completed.NextCommitPosition), Prepare: uint64(completed.NextPreparePosition)},
			IsEndOfStream: completed.IsEndOfStream,
		}}
	case wire.ResultAccessDenied:
		return dispatch.Outcome{Terminal: true, Err: ErrAccessDenied}
	default:
		return dispatch.Outcome{Terminal: true, Err: ErrBadRequest}
	}
}

// SubscribeVolatile opens a live-only subscription (§4.E).
func (c *Client) SubscribeVolatile(stream StreamID, resolveLinkTos *bool, observer Observer) Subscription {
	resolve := c.cfg.ResolveLinkTos
	if resolveLinkTos != nil {
		resolve = *resolveLinkTos
	}
	login, password := c.defaultLoginPassword()
	return subscribe.StartVolatile(c.dispatcher, c.conn, c.codec, stream, resolve, login, password, observer)
}

// SubscribeCatchUpStream opens a catch-up subscription against a
// single stream, replaying from fromEventNumberExclusive.
func (c *Client) SubscribeCatchUpStream(stream StreamID, fromEventNumberExclusive int64, resolveLinkTos *bool, observer Observer) Subscription {
	resolve := c.cfg.ResolveLinkTos
	if resolveLinkTos != nil {
		resolve = *resolveLinkTos
	}
	login, password := c.defaultLoginPassword()
	return subscribe.StartCatchUpStream(c.dispatcher, c.conn, c.codec, stream, fromEventNumberExclusive, resolve, int32(c.cfg.ReadBatchSize), login, password, observer)
}

// SubscribeCatchUpAll opens a catch-up subscription against $all,
// replaying from fromPositionExclusive.
func (c *Client) SubscribeCatchUpAll(fromPositionExclusive Position, resolveLinkTos *bool, observer Observer) Subscription {
	resolve := c.cfg.ResolveLinkTos
	if resolveLinkTos != nil {
		resolve = *resolveLinkTos
	}
	login, password := c.defaultLoginPassword()
	return subscribe.StartCatchUpAll(c.dispatcher, c.conn, c.codec, fromPositionExclusive, resolve, int32(c.cfg.ReadBatchSize), login, password, observer)
}

func (c *Client) defaultLoginPassword() (string, string) {
	if c.cfg.DefaultCredentials == nil {
		return "", ""
	}
	return c.cfg.DefaultCredentials.Login, c.cfg.DefaultCredentials.Password
}

// WriteResult is the success value of AppendToStream.
type WriteResult struct {
	NextExpectedVersion int64
	CommitPosition      Position
}

// StreamSlice is the success value of a per-stream read.
type StreamSlice struct {
	Events          []ResolvedEvent
	NextEventNumber int64
	IsEndOfStream   bool
}

// AllSlice is the success value of an $all read.
type AllSlice struct {
	Events        []ResolvedEvent
	NextPosition  Position
	IsEndOfStream bool
}

func expectedVersionWire(v ExpectedVersion) int64 {
	switch v.Kind {
	case ExpectedAny:
		return -2
	case ExpectedNoStream:
		return -1
	case ExpectedEmptyStream:
		return -1
	case ExpectedExact:
		return v.Version
	default:
		return -2
	}
}

func resolvedEventFromWire(re *wire.ResolvedEvent) ResolvedEvent {
	if re == nil {
		return ResolvedEvent{}
	}
	out := ResolvedEvent{Inner: eventRecordFromWire(re.Event)}
	out.Inner.CommitPos = Position{Commit: uint64(re.CommitPos), Prepare: uint64(re.PreparePos)}
	if re.Link != nil {
		link := eventRecordFromWire(re.Link)
		out.Link = &link
	}
	return out
}

func eventRecordFromWire(e *wire.EventRecord) EventRecord {
	if e == nil {
		return EventRecord{}
	}
	var id uuid.UUID
	copy(id[:], e.EventId)
	return EventRecord{
		StreamID:    e.EventStreamId,
		EventNumber: e.EventNumber,
		EventID:     id,
		EventType:   e.EventType,
		Data:        e.Data,
		Metadata:    e.Metadata,
		DataContent: ContentType(e.DataContentType),
		MetaContent: ContentType(e.MetaContentType),
		CreatedAt:   time.UnixMilli(e.CreatedEpochMs).UTC(),
	}
}

func splitHostPort(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, fmt.Errorf("client: invalid address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("client: invalid port in address %q: %w", address, err)
	}
	return host, port, nil
}
