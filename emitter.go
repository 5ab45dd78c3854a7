package bridge

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// NopEmitter discards every event. Used where no client transport is wired
// (offline tooling, one-shot scripts).
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, uuid.UUID, Event) error { return nil }

// ChannelEmitter records emitted events onto a buffered channel, for tests
// that assert on the sequence of events a component produces. Emit never
// blocks: once the channel is full, events are dropped and Dropped is
// incremented, matching the "loss of an event must never corrupt persisted
// state" contract.
type ChannelEmitter struct {
	mu      sync.Mutex
	ch      chan emittedEvent
	Dropped int
}

type emittedEvent struct {
	UserID uuid.UUID
	Event  Event
}

// NewChannelEmitter returns a ChannelEmitter buffering up to capacity
// events before it starts dropping.
func NewChannelEmitter(capacity int) *ChannelEmitter {
	return &ChannelEmitter{ch: make(chan emittedEvent, capacity)}
}

func (c *ChannelEmitter) Emit(_ context.Context, userID uuid.UUID, ev Event) error {
	select {
	case c.ch <- emittedEvent{UserID: userID, Event: ev}:
	default:
		c.mu.Lock()
		c.Dropped++
		c.mu.Unlock()
	}
	return nil
}

// Events drains and returns every event recorded so far, in emission order.
func (c *ChannelEmitter) Events() []Event {
	var out []Event
	for {
		select {
		case e := <-c.ch:
			out = append(out, e.Event)
		default:
			return out
		}
	}
}
