package events

import "otcswap/core/types"

// Event represents a structured state change emitted by the engine.
type Event interface {
	EventType() string
}

// Structured events flatten into typed attribute maps for journals and
// subscribers.
type Structured interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. journals, streams).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Flatten returns the typed form of evt, or a bare type-only event.
func Flatten(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if structured, ok := evt.(Structured); ok {
		return structured.Event()
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
