package pool

import (
	"math/big"
	"strconv"
)

const (
	EventServiceRequested = "pool.service.requested"
	EventFeeCollected     = "pool.service.fee_collected"
	EventServiceProvided  = "pool.service.provided"
	EventPoolCreated      = "pool.created"
	EventPoolTerminated   = "pool.terminated"
	EventHolderJoined     = "pool.holder.joined"
	EventHolderLentMore   = "pool.holder.lent_more"
	EventHolderLeft       = "pool.holder.left"
	EventRewardWithdrawn  = "pool.holder.reward_withdrawn"
	EventLocksReleased    = "pool.locks.released"
)

// Event is a structured state change emitted by the engine for downstream
// subscribers (RPC, indexers).
type Event struct {
	Type       string
	Attributes map[string]string
}

// EventType returns the event's type tag.
func (e Event) EventType() string { return e.Type }

// Emitter broadcasts engine events.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

func newRequestEvent(eventType string, tid uint64, requester string, amount *big.Int) Event {
	return Event{Type: eventType, Attributes: map[string]string{
		"tid":       strconv.FormatUint(tid, 10),
		"requester": requester,
		"amount":    amount.String(),
	}}
}

func newSettlementEvent(eventType string, tid uint64) Event {
	return Event{Type: eventType, Attributes: map[string]string{
		"tid": strconv.FormatUint(tid, 10),
	}}
}

func newPoolEvent(eventType string, id uint64, name string) Event {
	return Event{Type: eventType, Attributes: map[string]string{
		"id":   strconv.FormatUint(id, 10),
		"pool": name,
	}}
}

func newHolderEvent(eventType, poolName, holder string, tokens *big.Int) Event {
	attrs := map[string]string{
		"pool":   poolName,
		"holder": holder,
	}
	if tokens != nil {
		attrs["tokens"] = tokens.String()
	}
	return Event{Type: eventType, Attributes: attrs}
}

func newSweepEvent(pools, holders int) Event {
	return Event{Type: EventLocksReleased, Attributes: map[string]string{
		"pool_locks":   strconv.Itoa(pools),
		"holder_locks": strconv.Itoa(holders),
	}}
}
