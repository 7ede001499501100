package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DropPolicy decides what a full subscriber queue does with a new event.
type DropPolicy int

const (
	// DropNew discards the incoming event.
	DropNew DropPolicy = iota
	// DropOld evicts the oldest queued event to make room.
	DropOld
)

// DefaultBuffer is the queue length used when Subscribe gets buffer <= 0.
const DefaultBuffer = 16

// SubscriberStats tracks delivery for one subscriber.
type SubscriberStats struct {
	Sent      uint64
	Dropped   uint64
	Delivered uint64
	Panics    uint64
}

// BusStats is a snapshot of the whole bus.
type BusStats struct {
	TotalPublished uint64
	Subscribers    map[string]SubscriberStats
}

type subscriber struct {
	id     string
	sink   Sink
	policy DropPolicy
	ch     chan Event
	done   chan struct{}

	sent      atomic.Uint64
	dropped   atomic.Uint64
	delivered atomic.Uint64
	panics    atomic.Uint64
}

// Bus fans events out to named sinks. Publishing never blocks; each sink
// is fed from a bounded queue by a dedicated goroutine.
type Bus struct {
	mu             sync.RWMutex
	subscribers    map[string]*subscriber
	totalPublished atomic.Uint64
	closed         bool
}

// NewBus returns an empty, open bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers sink under id with a queue of the given length.
func (b *Bus) Subscribe(id string, sink Sink, buffer int, policy DropPolicy) error {
	if sink == nil {
		return ErrNilSink
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return fmt.Errorf("%w: %q", ErrSubscriberExists, id)
	}

	s := &subscriber{
		id:     id,
		sink:   sink,
		policy: policy,
		ch:     make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	b.subscribers[id] = s
	go s.deliver()

	slog.Debug("events: subscriber added", "id", id, "buffer", buffer)
	return nil
}

// Notify publishes ev to every subscriber. It makes Bus usable as a Sink.
func (b *Bus) Notify(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.totalPublished.Add(1)

	for _, s := range b.subscribers {
		s.offer(ev)
	}
}

func (s *subscriber) offer(ev Event) {
	select {
	case s.ch <- ev:
		s.sent.Add(1)
		return
	default:
	}

	if s.policy == DropNew {
		s.dropped.Add(1)
		return
	}

	// DropOld: make room, then retry once. The delivery goroutine may race
	// us for the slot, in which case the retry simply succeeds.
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- ev:
		s.sent.Add(1)
	default:
		s.dropped.Add(1)
	}
}

func (s *subscriber) deliver() {
	defer close(s.done)
	for ev := range s.ch {
		s.call(ev)
	}
}

func (s *subscriber) call(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			slog.Error("events: sink panicked", "subscriber", s.id, "kind", ev.Kind.String(), "panic", r)
		}
	}()
	s.sink.Notify(ev)
	s.delivered.Add(1)
}

// Unsubscribe removes id and waits for its queued events to be delivered.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	s, exists := b.subscribers[id]
	if !exists {
		b.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrSubscriberNotFound, id)
	}
	delete(b.subscribers, id)
	close(s.ch)
	b.mu.Unlock()

	<-s.done
	return nil
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := BusStats{
		TotalPublished: b.totalPublished.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, s := range b.subscribers {
		out.Subscribers[id] = SubscriberStats{
			Sent:      s.sent.Load(),
			Dropped:   s.dropped.Load(),
			Delivered: s.delivered.Load(),
			Panics:    s.panics.Load(),
		}
	}
	return out
}

// Close stops accepting events and waits until every queued event has
// been delivered. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subscribers
	b.subscribers = make(map[string]*subscriber)
	for _, s := range subs {
		close(s.ch)
	}
	b.mu.Unlock()

	for _, s := range subs {
		<-s.done
	}
}
