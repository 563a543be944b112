package locks

import (
	"time"
)

// EventType names a lock lifecycle transition.
type EventType string

const (
	EventAcquired      EventType = "acquired"
	EventContended     EventType = "contended"
	EventReleased      EventType = "released"
	EventReleaseMissed EventType = "release_missed"
)

// Event is published after each lock state observation.
type Event struct {
	Type  EventType `json:"type"`
	Key   string    `json:"key"`
	Token string    `json:"token"`
	At    time.Time `json:"at"`
}

// EventSink receives lock events. Implementations must not block.
type EventSink interface {
	PublishLockEvent(Event)
}

// Sinks fans an event out to several sinks.
type Sinks []EventSink

func (s Sinks) PublishLockEvent(evt Event) {
	for _, sink := range s {
		if sink != nil {
			sink.PublishLockEvent(evt)
		}
	}
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) PublishLockEvent(evt Event) {
	if f != nil {
		f(evt)
	}
}
