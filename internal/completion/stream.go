package completion

import (
	"context"
	"iter"
	"sync"
)

// Stream delivers the events of one running completion. Events arrive in
// generation order; the last one has Done set. Close cancels generation.
type Stream struct {
	events chan Event
	cancel context.CancelFunc

	once   sync.Once
	closed chan struct{}
	done   chan struct{}
	res    Result
}

// Start runs fn on its own goroutine and returns the stream of its events.
// fn receives a context cancelled by Close and a sink feeding the stream.
func Start(parent context.Context, fn func(ctx context.Context, sink Sink) Result) *Stream {
	ctx, cancel := context.WithCancel(parent)
	s := &Stream{
		events: make(chan Event, 16),
		cancel: cancel,
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.events)
		defer cancel()
		s.res = fn(ctx, s.send)
	}()
	return s
}

func (s *Stream) send(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.closed:
		return false
	}
}

// Events returns the receive side of the stream. It is closed after the
// terminal event, or without one when the completion failed before
// streaming anything.
func (s *Stream) Events() <-chan Event { return s.events }

// All ranges over the events. Breaking out of the loop closes the stream.
func (s *Stream) All() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for ev := range s.events {
			if !yield(ev) {
				s.Close()
				return
			}
		}
	}
}

// Close cancels the completion and releases the producer. Safe to call
// more than once and after the stream ended.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.closed)
		s.cancel()
	})
}

// Canceled reports whether Close was called.
func (s *Stream) Canceled() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Result waits for the completion to finish and returns its result. Events
// not yet received are discarded.
func (s *Stream) Result() Result {
	select {
	case <-s.done:
	default:
		// Drain so the producer can reach its end.
		for range s.events {
		}
		<-s.done
	}
	return s.res
}

// Done is closed when the completion has finished.
func (s *Stream) Done() <-chan struct{} { return s.done }
