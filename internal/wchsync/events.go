// Package wchsync composes the hub client, the local store, the hashes
// store, the throttler, the paginator, and the retry controller into the
// list, pull, push, and delete flows for every artifact type.
package wchsync

import (
	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
)

// EventName identifies a flow event.
type EventName string

// Events emitted to the caller-supplied emitter.
const (
	EventPushed              EventName = "pushed"
	EventPushedError         EventName = "pushed-error"
	EventPulled              EventName = "pulled"
	EventPulledError         EventName = "pulled-error"
	EventDeleted             EventName = "deleted"
	EventDeletedError        EventName = "deleted-error"
	EventResourcePushed      EventName = "resource-pushed"
	EventResourcePushedError EventName = "resource-pushed-error"
	EventResourcePulled      EventName = "resource-pulled"
	EventResourcePulledError EventName = "resource-pulled-error"
	EventLocalOnly           EventName = "local-only"
	EventResourceLocalOnly   EventName = "resource-local-only"
)

// Event is one flow notification. Item carries the artifact where known;
// ID carries the artifact or resource id when the item itself is not
// available (e.g. a failed pull).
type Event struct {
	Name    EventName
	Service string
	Item    artifact.Item
	ID      string
	Path    string
	Err     error
}

// Emitter receives flow events. Listeners run on the worker goroutine and
// must not call back into the engine synchronously.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(e Event) { f(e) }

// ChannelEmitter publishes events to a bounded queue the caller drains.
// When the queue is full the send blocks, applying backpressure to the
// flow rather than dropping events.
type ChannelEmitter struct {
	ch chan Event
}

// NewChannelEmitter creates an emitter with the given queue depth.
func NewChannelEmitter(depth int) *ChannelEmitter {
	if depth < 1 {
		depth = 1
	}

	return &ChannelEmitter{ch: make(chan Event, depth)}
}

// Emit implements Emitter.
func (c *ChannelEmitter) Emit(e Event) { c.ch <- e }

// Events returns the queue for draining.
func (c *ChannelEmitter) Events() <-chan Event { return c.ch }

// Close closes the queue once the flows sharing the emitter are done.
func (c *ChannelEmitter) Close() { close(c.ch) }

// discardEmitter swallows events when the caller supplies none.
type discardEmitter struct{}

func (discardEmitter) Emit(Event) {}
