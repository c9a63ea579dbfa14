package wire

import (
	"fmt"

	"github.com/golang/protobuf/proto"
)

// MessageType identifies one of the known logical operations carried
// in a Packet's payload (§4.B). The codes themselves are this
// library's own numbering; they are not required to match any other
// implementation's wire constants, only to be stable within a
// connection's lifetime.
type MessageType = byte

const (
	MsgHeartbeatRequest  MessageType = 0x01
	MsgHeartbeatResponse MessageType = 0x02
	MsgPing              MessageType = 0x03
	MsgPong              MessageType = 0x04

	MsgWriteEvents          MessageType = 0x10
	MsgWriteEventsCompleted MessageType = 0x11

	MsgReadEvent                        MessageType = 0x20
	MsgReadEventCompleted                MessageType = 0x21
	MsgReadStreamEventsForward           MessageType = 0x22
	MsgReadStreamEventsForwardCompleted  MessageType = 0x23
	MsgReadStreamEventsBackward          MessageType = 0x24
	MsgReadStreamEventsBackwardCompleted MessageType = 0x25
	MsgReadAllEventsForward              MessageType = 0x26
	MsgReadAllEventsForwardCompleted     MessageType = 0x27
	MsgReadAllEventsBackward             MessageType = 0x28
	MsgReadAllEventsBackwardCompleted    MessageType = 0x29

	MsgSubscribeToStream          MessageType = 0x30
	MsgSubscribeToStreamCompleted MessageType = 0x31
	MsgStreamEventAppeared        MessageType = 0x32
	MsgUnsubscribeFromStream      MessageType = 0x33
	MsgSubscriptionDropped        MessageType = 0x34

	MsgNotAuthenticated MessageType = 0xF0
	MsgBadRequest       MessageType = 0xF1
	MsgNotHandled       MessageType = 0xF2
)

// OperationResult mirrors the server-observed outcome of a write or
// read, including the retryable transient outcomes §4.D names.
type OperationResult int32

const (
	ResultSuccess OperationResult = iota
	ResultPrepareTimeout
	ResultCommitTimeout
	ResultForwardTimeout
	ResultWrongExpectedVersion
	ResultStreamDeleted
	ResultInvalidTransaction
	ResultAccessDenied
	ResultStreamNotFound
	ResultEventNotFound
)

// NotHandledReason qualifies a MsgNotHandled response.
type NotHandledReason int32

const (
	NotHandledNotReady NotHandledReason = iota
	NotHandledTooBusy
	NotHandledNotMaster
)

// SubscriptionDropReason qualifies a MsgSubscriptionDropped push.
type SubscriptionDropReason int32

const (
	DropUnsubscribed SubscriptionDropReason = iota
	DropAccessDenied
	DropNotFound
)

// EventRecord is the wire shape of one stored event, used both in
// write acknowledgements (id only, really) and in read/subscribe
// payloads (full body).
type EventRecord struct {
	EventStreamId   string `protobuf:"bytes,1,opt,name=event_stream_id,json=eventStreamId,proto3"`
	EventNumber     int64  `protobuf:"varint,2,opt,name=event_number,json=eventNumber,proto3"`
	EventId         []byte `protobuf:"bytes,3,opt,name=event_id,json=eventId,proto3"`
	EventType       string `protobuf:"bytes,4,opt,name=event_type,json=eventType,proto3"`
	DataContentType int32  `protobuf:"varint,5,opt,name=data_content_type,json=dataContentType,proto3"`
	MetaContentType int32  `protobuf:"varint,6,opt,name=meta_content_type,json=metaContentType,proto3"`
	Data            []byte `protobuf:"bytes,7,opt,name=data,proto3"`
	Metadata        []byte `protobuf:"bytes,8,opt,name=metadata,proto3"`
	CreatedEpochMs  int64  `protobuf:"varint,9,opt,name=created_epoch_ms,json=createdEpochMs,proto3"`
}

func (*EventRecord) Reset()         {}
func (*EventRecord) String() string { return "EventRecord" }
func (*EventRecord) ProtoMessage()  {}

// ResolvedEvent is the wire shape of §3's resolved-event pair.
type ResolvedEvent struct {
	Event         *EventRecord `protobuf:"bytes,1,opt,name=event,proto3"`
	Link          *EventRecord `protobuf:"bytes,2,opt,name=link,proto3"`
	CommitPos     int64        `protobuf:"varint,3,opt,name=commit_pos,json=commitPos,proto3"`
	PreparePos    int64        `protobuf:"varint,4,opt,name=prepare_pos,json=preparePos,proto3"`
}

func (*ResolvedEvent) Reset()         {}
func (*ResolvedEvent) String() string { return "ResolvedEvent" }
func (*ResolvedEvent) ProtoMessage()  {}

// NewEvent is the wire shape of one event submitted for write.
type NewEvent struct {
	EventId         []byte `protobuf:"bytes,1,opt,name=event_id,json=eventId,proto3"`
	EventType       string `protobuf:"bytes,2,opt,name=event_type,json=eventType,proto3"`
	DataContentType int32  `protobuf:"varint,3,opt,name=data_content_type,json=dataContentType,proto3"`
	MetaContentType int32  `protobuf:"varint,4,opt,name=meta_content_type,json=metaContentType,proto3"`
	Data            []byte `protobuf:"bytes,5,opt,name=data,proto3"`
	Metadata        []byte `protobuf:"bytes,6,opt,name=metadata,proto3"`
}

func (*NewEvent) Reset()         {}
func (*NewEvent) String() string { return "NewEvent" }
func (*NewEvent) ProtoMessage()  {}

type WriteEvents struct {
	EventStreamId   string      `protobuf:"bytes,1,opt,name=event_stream_id,json=eventStreamId,proto3"`
	ExpectedVersion int64       `protobuf:"varint,2,opt,name=expected_version,json=expectedVersion,proto3"`
	Events          []*NewEvent `protobuf:"bytes,3,rep,name=events,proto3"`
	RequireMaster   bool        `protobuf:"varint,4,opt,name=require_master,json=requireMaster,proto3"`
}

func (*WriteEvents) Reset()         {}
func (*WriteEvents) String() string { return "WriteEvents" }
func (*WriteEvents) ProtoMessage()  {}

type WriteEventsCompleted struct {
	Result             int32  `protobuf:"varint,1,opt,name=result,proto3"`
	Message            string `protobuf:"bytes,2,opt,name=message,proto3"`
	FirstEventNumber   int64  `protobuf:"varint,3,opt,name=first_event_number,json=firstEventNumber,proto3"`
	LastEventNumber    int64  `protobuf:"varint,4,opt,name=last_event_number,json=lastEventNumber,proto3"`
	CurrentVersion     int64  `protobuf:"varint,5,opt,name=current_version,json=currentVersion,proto3"`
	CommitPosition     int64  `protobuf:"varint,6,opt,name=commit_position,json=commitPosition,proto3"`
	PreparePosition    int64  `protobuf:"varint,7,opt,name=prepare_position,json=preparePosition,proto3"`
}

func (*WriteEventsCompleted) Reset()         {}
func (*WriteEventsCompleted) String() string { return "WriteEventsCompleted" }
func (*WriteEventsCompleted) ProtoMessage()  {}

// ReadEvent requests a single event by stream and event number.
type ReadEvent struct {
	EventStreamId  string `protobuf:"bytes,1,opt,name=event_stream_id,json=eventStreamId,proto3"`
	EventNumber    int64  `protobuf:"varint,2,opt,name=event_number,json=eventNumber,proto3"`
	ResolveLinkTos bool   `protobuf:"varint,3,opt,name=resolve_link_tos,json=resolveLinkTos,proto3"`
	RequireMaster  bool   `protobuf:"varint,4,opt,name=require_master,json=requireMaster,proto3"`
}

func (*ReadEvent) Reset()         {}
func (*ReadEvent) String() string { return "ReadEvent" }
func (*ReadEvent) ProtoMessage()  {}

// ReadEventCompleted answers ReadEvent.
type ReadEventCompleted struct {
	Result int32          `protobuf:"varint,1,opt,name=result,proto3"`
	Event  *ResolvedEvent `protobuf:"bytes,2,opt,name=event,proto3"`
}

func (*ReadEventCompleted) Reset()         {}
func (*ReadEventCompleted) String() string { return "ReadEventCompleted" }
func (*ReadEventCompleted) ProtoMessage()  {}

type ReadStreamEventsForward struct {
	EventStreamId  string `protobuf:"bytes,1,opt,name=event_stream_id,json=eventStreamId,proto3"`
	FromEventNumber int64 `protobuf:"varint,2,opt,name=from_event_number,json=fromEventNumber,proto3"`
	MaxCount       int32  `protobuf:"varint,3,opt,name=max_count,json=maxCount,proto3"`
	ResolveLinkTos bool   `protobuf:"varint,4,opt,name=resolve_link_tos,json=resolveLinkTos,proto3"`
	RequireMaster  bool   `protobuf:"varint,5,opt,name=require_master,json=requireMaster,proto3"`
}

func (*ReadStreamEventsForward) Reset()         {}
func (*ReadStreamEventsForward) String() string { return "ReadStreamEventsForward" }
func (*ReadStreamEventsForward) ProtoMessage()  {}

type ReadStreamEventsCompleted struct {
	Result         int32            `protobuf:"varint,1,opt,name=result,proto3"`
	Events         []*ResolvedEvent `protobuf:"bytes,2,rep,name=events,proto3"`
	NextEventNumber int64           `protobuf:"varint,3,opt,name=next_event_number,json=nextEventNumber,proto3"`
	LastEventNumber int64           `protobuf:"varint,4,opt,name=last_event_number,json=lastEventNumber,proto3"`
	IsEndOfStream  bool             `protobuf:"varint,5,opt,name=is_end_of_stream,json=isEndOfStream,proto3"`
	LastCommitPosition int64        `protobuf:"varint,6,opt,name=last_commit_position,json=lastCommitPosition,proto3"`
}

func (*ReadStreamEventsCompleted) Reset()         {}
func (*ReadStreamEventsCompleted) String() string { return "ReadStreamEventsCompleted" }
func (*ReadStreamEventsCompleted) ProtoMessage()  {}

type ReadAllEventsForward struct {
	CommitPosition  int64 `protobuf:"varint,1,opt,name=commit_position,json=commitPosition,proto3"`
	PreparePosition int64 `protobuf:"varint,2,opt,name=prepare_position,json=preparePosition,proto3"`
	MaxCount        int32 `protobuf:"varint,3,opt,name=max_count,json=maxCount,proto3"`
	ResolveLinkTos  bool  `protobuf:"varint,4,opt,name=resolve_link_tos,json=resolveLinkTos,proto3"`
	RequireMaster   bool  `protobuf:"varint,5,opt,name=require_master,json=requireMaster,proto3"`
}

func (*ReadAllEventsForward) Reset()         {}
func (*ReadAllEventsForward) String() string { return "ReadAllEventsForward" }
func (*ReadAllEventsForward) ProtoMessage()  {}

type ReadAllEventsCompleted struct {
	Result              int32            `protobuf:"varint,1,opt,name=result,proto3"`
	Events              []*ResolvedEvent `protobuf:"bytes,2,rep,name=events,proto3"`
	NextCommitPosition  int64            `protobuf:"varint,3,opt,name=next_commit_position,json=nextCommitPosition,proto3"`
	NextPreparePosition int64            `protobuf:"varint,4,opt,name=next_prepare_position,json=nextPreparePosition,proto3"`
	IsEndOfStream       bool             `protobuf:"varint,5,opt,name=is_end_of_stream,json=isEndOfStream,proto3"`
}

func (*ReadAllEventsCompleted) Reset()         {}
func (*ReadAllEventsCompleted) String() string { return "ReadAllEventsCompleted" }
func (*ReadAllEventsCompleted) ProtoMessage()  {}

type SubscribeToStream struct {
	EventStreamId  string `protobuf:"bytes,1,opt,name=event_stream_id,json=eventStreamId,proto3"`
	ResolveLinkTos bool   `protobuf:"varint,2,opt,name=resolve_link_tos,json=resolveLinkTos,proto3"`
}

func (*SubscribeToStream) Reset()         {}
func (*SubscribeToStream) String() string { return "SubscribeToStream" }
func (*SubscribeToStream) ProtoMessage()  {}

type SubscribeToStreamCompleted struct {
	LastCommitPosition int64 `protobuf:"varint,1,opt,name=last_commit_position,json=lastCommitPosition,proto3"`
	LastEventNumber    int64 `protobuf:"varint,2,opt,name=last_event_number,json=lastEventNumber,proto3"`
	HasEventNumber     bool  `protobuf:"varint,3,opt,name=has_event_number,json=hasEventNumber,proto3"`
}

func (*SubscribeToStreamCompleted) Reset()         {}
func (*SubscribeToStreamCompleted) String() string { return "SubscribeToStreamCompleted" }
func (*SubscribeToStreamCompleted) ProtoMessage()  {}

type StreamEventAppeared struct {
	Event *ResolvedEvent `protobuf:"bytes,1,opt,name=event,proto3"`
}

func (*StreamEventAppeared) Reset()         {}
func (*StreamEventAppeared) String() string { return "StreamEventAppeared" }
func (*StreamEventAppeared) ProtoMessage()  {}

type UnsubscribeFromStream struct{}

func (*UnsubscribeFromStream) Reset()         {}
func (*UnsubscribeFromStream) String() string { return "UnsubscribeFromStream" }
func (*UnsubscribeFromStream) ProtoMessage()  {}

type SubscriptionDropped struct {
	Reason int32 `protobuf:"varint,1,opt,name=reason,proto3"`
}

func (*SubscriptionDropped) Reset()         {}
func (*SubscriptionDropped) String() string { return "SubscriptionDropped" }
func (*SubscriptionDropped) ProtoMessage()  {}

type HeartbeatRequest struct{}

func (*HeartbeatRequest) Reset()         {}
func (*HeartbeatRequest) String() string { return "HeartbeatRequest" }
func (*HeartbeatRequest) ProtoMessage()  {}

type HeartbeatResponse struct{}

func (*HeartbeatResponse) Reset()         {}
func (*HeartbeatResponse) String() string { return "HeartbeatResponse" }
func (*HeartbeatResponse) ProtoMessage()  {}

type PingMessage struct{}

func (*PingMessage) Reset()         {}
func (*PingMessage) String() string { return "PingMessage" }
func (*PingMessage) ProtoMessage()  {}

type PongMessage struct{}

func (*PongMessage) Reset()         {}
func (*PongMessage) String() string { return "PongMessage" }
func (*PongMessage) ProtoMessage()  {}

type NotAuthenticated struct {
	Reason string `protobuf:"bytes,1,opt,name=reason,proto3"`
}

func (*NotAuthenticated) Reset()         {}
func (*NotAuthenticated) String() string { return "NotAuthenticated" }
func (*NotAuthenticated) ProtoMessage()  {}

type BadRequest struct {
	Reason string `protobuf:"bytes,1,opt,name=reason,proto3"`
}

func (*BadRequest) Reset()         {}
func (*BadRequest) String() string { return "BadRequest" }
func (*BadRequest) ProtoMessage()  {}

type NotHandled struct {
	Reason int32 `protobuf:"varint,1,opt,name=reason,proto3"`
}

func (*NotHandled) Reset()         {}
func (*NotHandled) String() string { return "NotHandled" }
func (*NotHandled) ProtoMessage()  {}

// Codec is the seam §1/§6 describe: a bidirectional mapping between a
// strongly typed message and the opaque bytes carried in a Packet's
// Payload. The core depends only on this interface, never on a
// concrete serialisation format.
type Codec interface {
	Marshal(msg proto.Message) ([]byte, error)
	Unmarshal(messageType MessageType, payload []byte) (proto.Message, error)
}

// ProtoCodec is the reference Codec: protocol-buffer wire semantics
// via github.com/golang/protobuf, matching the teacher's own
// MarshalMessage/UnmarshalRequest pairing.
type ProtoCodec struct{}

func (ProtoCodec) Marshal(msg proto.Message) ([]byte, error) { return proto.Marshal(msg) }

func (ProtoCodec) Unmarshal(messageType MessageType, payload []byte) (proto.Message, error) {
	msg := newMessage(messageType)
	if msg == nil {
		return nil, fmt.Errorf("wire: unknown message type 0x%02x", messageType)
	}
	if err := proto.Unmarshal(payload, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func newMessage(messageType MessageType) proto.Message {
	switch messageType {
	case MsgHeartbeatRequest:
		return &HeartbeatRequest{}
	case MsgHeartbeatResponse:
		return &HeartbeatResponse{}
	case MsgPing:
		return &PingMessage{}
	case MsgPong:
		return &PongMessage{}
	case MsgWriteEvents:
		return &WriteEvents{}
	case MsgWriteEventsCompleted:
		return &WriteEventsCompleted{}
	case MsgReadEvent:
		return &ReadEvent{}
	case MsgReadEventCompleted:
		return &ReadEventCompleted{}
	case MsgReadStreamEventsForward, MsgReadStreamEventsBackward:
		return &ReadStreamEventsForward{}
	case MsgReadStreamEventsForwardCompleted, MsgReadStreamEventsBackwardCompleted:
		return &ReadStreamEventsCompleted{}
	case MsgReadAllEventsForward, MsgReadAllEventsBackward:
		return &ReadAllEventsForward{}
	case MsgReadAllEventsForwardCompleted, MsgReadAllEventsBackwardCompleted:
		return &ReadAllEventsCompleted{}
	case MsgSubscribeToStream:
		return &SubscribeToStream{}
	case MsgSubscribeToStreamCompleted:
		return &SubscribeToStreamCompleted{}
	case MsgStreamEventAppeared:
		return &StreamEventAppeared{}
	case MsgUnsubscribeFromStream:
		return &UnsubscribeFromStream{}
	case MsgSubscriptionDropped:
		return &SubscriptionDropped{}
	case MsgNotAuthenticated:
		return &NotAuthenticated{}
	case MsgBadRequest:
		return &BadRequest{}
	case MsgNotHandled:
		return &NotHandled{}
	default:
		return nil
	}
}
