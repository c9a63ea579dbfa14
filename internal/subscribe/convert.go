package subscribe

import (
	"time"

	"github.com/google/uuid"

	"github.com/fkabongo/eventlogclient/internal/events"
	"github.com/fkabongo/eventlogclient/internal/wire"
)

func toEventRecord(e *wire.EventRecord) events.EventRecord {
	if e == nil {
		return events.EventRecord{}
	}
	var id uuid.UUID
	copy(id[:], e.EventId)
	return events.EventRecord{
		StreamID:    e.EventStreamId,
		EventNumber: e.EventNumber,
		EventID:     id,
		EventType:   e.EventType,
		Data:        e.Data,
		Metadata:    e.Metadata,
		DataContent: events.ContentType(e.DataContentType),
		MetaContent: events.ContentType(e.MetaContentType),
		CreatedAt:   time.UnixMilli(e.CreatedEpochMs).UTC(),
		CommitPos:   events.Position{Commit: uint64(e.CreatedEpochMs)},
	}
}

func toResolvedEvent(re *wire.ResolvedEvent) events.ResolvedEvent {
	if re == nil {
		return events.ResolvedEvent{}
	}
	out := events.ResolvedEvent{Inner: toEventRecord(re.Event)}
	out.Inner.CommitPos = events.Position{Commit: uint64(re.CommitPos), Prepare: uint64(re.PreparePos)}
	if re.Link != nil {
		link := toEventRecord(re.Link)
		out.Link = &link
	}
	return out
}

func mapWireDropReason(r wire.SubscriptionDropReason) events.SubscriptionDropReason {
	switch r {
	case wire.DropAccessDenied:
		return events.DropReasonAccessDenied
	case wire.DropNotFound:
		return events.DropReasonNotFound
	default:
		return events.DropReasonUnsubscribed
	}
}
