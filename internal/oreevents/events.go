// Package oreevents is the internal progress bus the store, resolver and
// layout applier publish onto. It exists so an external progress-UI
// collaborator (explicitly out of this module's scope, §1) can observe what
// the core is doing without the core importing any UI package.
//
// The bus never blocks a publisher on a slow subscriber: Sink is a bounded
// queue that drops each new event once full (and counts the drop) rather
// than growing without limit, unlike the unbounded queue the notifications
// package this is grounded on used for registry webhook delivery.
package oreevents

import (
	"sync"
	"time"

	events "github.com/docker/go-events"
	"github.com/sirupsen/logrus"
)

// Kind identifies the shape of an Event's Fields.
type Kind string

const (
	KindStoreWrite   Kind = "store.write"
	KindStoreRead    Kind = "store.read"
	KindResolveNode  Kind = "resolve.node"
	KindExtractStart Kind = "extract.start"
	KindExtractDone  Kind = "extract.done"
	KindScriptStart  Kind = "script.start"
	KindScriptDone   Kind = "script.done"
)

// Event is the typed envelope published onto a Sink.
type Event struct {
	Kind      Kind
	At        time.Time
	Fields    map[string]any
}

// Sink is a bounded, drop-on-overflow fan-out point. The zero value is not
// usable; construct with NewSink.
type Sink struct {
	mu        sync.Mutex
	queue     *events.Queue
	cap       int
	pending   int
	dropped   uint64
}

// NewSink creates a Sink wrapping dst with a bound of capacity pending
// events; beyond that, new events are dropped and counted rather than
// applying backpressure to the publisher.
func NewSink(dst events.Sink, capacity int) *Sink {
	if capacity <= 0 {
		capacity = 256
	}
	return &Sink{
		queue: events.NewQueue(dst),
		cap:   capacity,
	}
}

// Publish enqueues an event, dropping it (and incrementing Dropped) if the
// sink is over capacity.
func (s *Sink) Publish(kind Kind, fields map[string]any) {
	s.mu.Lock()
	if s.pending >= s.cap {
		s.dropped++
		s.mu.Unlock()
		return
	}
	s.pending++
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.pending--
			s.mu.Unlock()
		}()
		if err := s.queue.Write(Event{Kind: kind, At: time.Now(), Fields: fields}); err != nil {
			logrus.WithError(err).WithField("kind", kind).Debug("oreevents: dropped event")
		}
	}()
}

// Dropped returns the number of events dropped so far because the sink was
// over capacity.
func (s *Sink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close shuts the sink down, releasing the underlying queue.
func (s *Sink) Close() error {
	return s.queue.Close()
}

// ChannelSink adapts a Go channel to the events.Sink interface so callers
// (progress UIs, tests) can range over plain Event values.
type ChannelSink struct {
	C      chan Event
	closed chan struct{}
	once   sync.Once
}

// NewChannelSink returns a ChannelSink whose channel has the given buffer
// size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{
		C:      make(chan Event, buffer),
		closed: make(chan struct{}),
	}
}

func (c *ChannelSink) Write(ev events.Event) error {
	e, ok := ev.(Event)
	if !ok {
		return nil
	}
	select {
	case c.C <- e:
	case <-c.closed:
		return events.ErrSinkClosed
	}
	return nil
}

func (c *ChannelSink) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
