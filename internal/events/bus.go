package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultQueueSize = 256
	sinkSendTimeout  = 2 * time.Second
)

// Bus fans events out to subscribers and sinks through one dispatcher
// goroutine, so delivery order matches emit order. The queue is bounded;
// when full, events are dropped and counted rather than blocking the
// emitting lifecycle path.
type Bus struct {
	mu       sync.Mutex
	handlers []Handler
	sinks    []Sink
	queue    chan Event
	closed   bool
	done     chan struct{}
	dropped  atomic.Uint64
	log      *slog.Logger
}

// NewBus creates a bus with the given queue capacity (<= 0 selects the
// default) and launches its dispatcher. Wire handlers and sinks right
// after construction, before events start flowing.
func NewBus(log *slog.Logger, queueSize int) *Bus {
	if log == nil {
		log = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	b := &Bus{
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
		log:   log,
	}
	go b.dispatch()
	return b
}

// Subscribe registers a handler. Subscription happens at construction
// time; there is no unsubscribe.
func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// AddSink registers a sink, closed by Close.
func (b *Bus) AddSink(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for e := range b.queue {
		b.mu.Lock()
		handlers := b.handlers
		sinks := b.sinks
		b.mu.Unlock()
		for _, h := range handlers {
			h(e)
		}
		for _, s := range sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkSendTimeout)
			if err := s.Send(ctx, e); err != nil {
				b.log.Warn("event sink send failed", "type", e.Type, "service", e.Service, "error", err)
			}
			cancel()
		}
	}
}

// Emit queues an event without blocking. A zero ID or At is filled in.
// Emitting on a closed bus is a no-op.
func (b *Bus) Emit(e Event) {
	if e.ID == "" || e.At.IsZero() {
		stamped := New(e.Type, e.Service)
		stamped.ElapsedMS = e.ElapsedMS
		stamped.Detail = e.Detail
		stamped.PID = e.PID
		if e.ID != "" {
			stamped.ID = e.ID
		}
		if !e.At.IsZero() {
			stamped.At = e.At
		}
		e = stamped
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- e:
	default:
		if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
			b.log.Warn("event queue full, dropping", "dropped_total", n)
		}
	}
}

// Dropped reports how many events were discarded due to a full queue.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close drains the queue, stops the dispatcher and closes every sink.
// Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.queue)
	<-b.done

	b.mu.Lock()
	sinks := b.sinks
	b.sinks = nil
	b.mu.Unlock()
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			b.log.Warn("event sink close failed", "error", err)
		}
	}
}
