package model

import "time"

// EventKind is the severity/category of a pipeline event.
type EventKind string

const (
	EventDebug    EventKind = "DEBUG"
	EventInfo     EventKind = "INFO"
	EventWarn     EventKind = "WARN"
	EventError    EventKind = "ERROR"
	EventProgress EventKind = "PROGRESS"
	EventSuccess  EventKind = "SUCCESS"
)

// Event is one entry of a run's progress trail.
type Event struct {
	Time    time.Time `json:"time"`
	Channel string    `json:"channel,omitempty"`
	Kind    EventKind `json:"kind"`
	Message string    `json:"message"`
}

// EventSink receives events. Emit must not block for long.
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard EventSink = SinkFunc(func(Event) {})

// Emitter stamps events with a channel and time before handing them to a sink.
type Emitter struct {
	Sink    EventSink
	Channel string
	Now     func() time.Time
}

// Emit sends an event of the given kind. A nil sink is treated as Discard.
func (e Emitter) Emit(kind EventKind, msg string) {
	if e.Sink == nil {
		return
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	e.Sink.Emit(Event{Time: now(), Channel: e.Channel, Kind: kind, Message: msg})
}
