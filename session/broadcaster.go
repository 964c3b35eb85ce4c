package session

import "sync"

// Sink receives published values for one stream.
type Sink[T any] interface {
	Send(v T)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc[T any] func(v T)

// Send calls f(v).
func (f SinkFunc[T]) Send(v T) { f(v) }

// streamCloser is implemented by sinks that want to know when they stop
// receiving values, either because they were detached or replaced.
type streamCloser interface {
	Close()
}

// stream holds the single subscriber of one stream. Delivery happens with
// mu held, so once detach returns no publish can reach the old sink.
type stream[T any] struct {
	mu   sync.Mutex
	sink Sink[T]
}

func (s *stream[T]) attach(sink Sink[T]) {
	s.mu.Lock()
	old := s.sink
	s.sink = sink
	s.mu.Unlock()
	endStream(old)
}

func (s *stream[T]) detach() {
	s.mu.Lock()
	old := s.sink
	s.sink = nil
	s.mu.Unlock()
	endStream(old)
}

func (s *stream[T]) publish(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == nil {
		return false
	}
	s.sink.Send(v)
	return true
}

func (s *stream[T]) attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink != nil
}

func endStream(sink any) {
	if c, ok := sink.(streamCloser); ok {
		c.Close()
	}
}

// Broadcaster delivers Stage and Status values to at most one subscriber
// per stream. Publishing with no subscriber is a no-op.
type Broadcaster struct {
	stage  stream[Stage]
	status stream[Status]
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// AttachStage sets the Stage subscriber, replacing any previous one.
func (b *Broadcaster) AttachStage(sink Sink[Stage]) { b.stage.attach(sink) }

// DetachStage removes the Stage subscriber. It is safe to call repeatedly.
func (b *Broadcaster) DetachStage() { b.stage.detach() }

// AttachStatus sets the Status subscriber, replacing any previous one.
func (b *Broadcaster) AttachStatus(sink Sink[Status]) { b.status.attach(sink) }

// DetachStatus removes the Status subscriber. It is safe to call repeatedly.
func (b *Broadcaster) DetachStatus() { b.status.detach() }

// PublishStage delivers a stage and reports whether a subscriber received it.
func (b *Broadcaster) PublishStage(s Stage) bool { return b.stage.publish(s) }

// PublishStatus delivers a snapshot and reports whether a subscriber received it.
func (b *Broadcaster) PublishStatus(s Status) bool { return b.status.publish(s) }

// HasStageSubscriber reports whether a Stage subscriber is attached.
func (b *Broadcaster) HasStageSubscriber() bool { return b.stage.attached() }

// HasStatusSubscriber reports whether a Status subscriber is attached.
func (b *Broadcaster) HasStatusSubscriber() bool { return b.status.attached() }

// DetachAll removes both subscribers.
func (b *Broadcaster) DetachAll() {
	b.stage.detach()
	b.status.detach()
}
