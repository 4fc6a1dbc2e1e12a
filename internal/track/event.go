// Package track defines the events the object matcher emits as it
// reconciles identities, and the sink interface that consumers implement.
package track

import "time"

// EventKind classifies a track event.
type EventKind int

const (
	// Created is emitted when an unmatched local id seeds a new track.
	Created EventKind = iota + 1
	// AliasBound is emitted when a local id is bound to an existing track by
	// feature similarity.
	AliasBound
	// Evicted is emitted when a track ages out of the gallery.
	Evicted
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case AliasBound:
		return "alias_bound"
	case Evicted:
		return "evicted"
	}
	return "unknown"
}

// Event describes one change to the gallery.
type Event struct {
	Kind     EventKind
	TrackID  string
	Camera   string
	Tag      string
	Alias    string  // local id, for AliasBound
	Distance float64 // match distance, for AliasBound
	At       time.Time
}

// Sink receives track events. Implementations are called from a single
// goroutine per matcher and must not block for long.
type Sink interface {
	TrackEvent(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) TrackEvent(e Event) { f(e) }

// Fanout delivers every event to each sink in order.
type Fanout []Sink

func (fo Fanout) TrackEvent(e Event) {
	for _, s := range fo {
		if s != nil {
			s.TrackEvent(e)
		}
	}
}
