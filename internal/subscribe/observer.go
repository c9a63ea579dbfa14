// Package subscribe implements the subscription engine's two kinds
// (§4.E): Volatile, which delivers only events that arrive after the
// subscription is live, and CatchUp, which first replays history then
// switches to live delivery without loss or duplication.
package subscribe

import "github.com/fkabongo/eventlogclient/internal/events"

// Observer receives a subscription's callbacks. Exactly one terminal
// callback (OnDropped) fires per subscription; OnEvent and
// OnLiveProcessingStart may fire any number of times before it, never
// after.
type Observer interface {
	OnEvent(ev events.ResolvedEvent)
	OnLiveProcessingStart()
	OnDropped(err *events.SubscriptionDroppedError)
}
