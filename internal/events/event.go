// Package events defines detector events and the bus that delivers them to
// sinks on their own goroutines.
package events

import (
	"errors"
	"time"
)

// Errors returned by Bus. Re-exported by the motion package.
var (
	ErrBusClosed          = errors.New("events: bus is closed")
	ErrSubscriberExists   = errors.New("events: subscriber already exists")
	ErrSubscriberNotFound = errors.New("events: subscriber not found")
	ErrNilSink            = errors.New("events: nil sink provided")
)

// Kind identifies what the detector observed.
type Kind int

const (
	// KindTooDark is emitted when a sampled frame's total luma is below the
	// configured minimum. The background is left untouched.
	KindTooDark Kind = iota + 1
	// KindMotionDetected is emitted when a sampled frame differs from the
	// background.
	KindMotionDetected
)

func (k Kind) String() string {
	switch k {
	case KindTooDark:
		return "too_dark"
	case KindMotionDetected:
		return "motion_detected"
	default:
		return "unknown"
	}
}

// Event is one detector notification.
type Event struct {
	Kind      Kind
	SessionID string
	// Seq increases by one per emitted event within a session.
	Seq     uint64
	At      time.Time
	Width   int
	Height  int
	LumaSum int64
	// TraceID is copied from the frame that produced the event, if any.
	TraceID string
}

// Sink receives events. Implementations run on a bus delivery goroutine,
// never on the detector's sampling goroutine.
type Sink interface {
	Notify(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Notify calls f(ev).
func (f SinkFunc) Notify(ev Event) { f(ev) }
