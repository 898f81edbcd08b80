package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler processes a delivered event.
type Handler func(Event)

// Bus delivers events to subscribers on a background goroutine.
// Publish enqueues into a bounded buffer and drops the event when the
// buffer is full.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]subscription
	queue    chan Event
	done     chan struct{}
	dropped  atomic.Int64
	log      *zap.Logger

	sendMu sync.RWMutex
	closed bool
}

type subscription struct {
	handler Handler
	names   map[Name]bool
}

// NewBus starts a bus with the given buffer size (default 256).
func NewBus(buffer int, log *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{
		handlers: make(map[string]subscription),
		queue:    make(chan Event, buffer),
		done:     make(chan struct{}),
		log:      log,
	}
	go b.loop()
	return b
}

// Subscribe registers a handler for the given names (all names if none)
// and returns the subscription id.
func (b *Bus) Subscribe(h Handler, names ...Name) string {
	set := make(map[Name]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	id := uuid.NewString()

	b.mu.Lock()
	b.handlers[id] = subscription{handler: h, names: set}
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[id]; !ok {
		return false
	}
	delete(b.handlers, id)
	return true
}

// Publish implements Publisher.
func (b *Bus) Publish(name Name, payload Payload) {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	if b.closed {
		return
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	select {
	case b.queue <- Event{Name: name, Payload: payload}:
	default:
		b.dropped.Add(1)
		b.log.Warn("event dropped, buffer full", zap.String("name", string(name)))
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops accepting events, drains the queue and waits for delivery.
func (b *Bus) Close() {
	b.sendMu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.sendMu.Unlock()
	<-b.done
}

func (b *Bus) loop() {
	defer close(b.done)
	for ev := range b.queue {
		b.mu.RLock()
		subs := make([]subscription, 0, len(b.handlers))
		for _, s := range b.handlers {
			subs = append(subs, s)
		}
		b.mu.RUnlock()

		for _, s := range subs {
			if len(s.names) > 0 && !s.names[ev.Name] {
				continue
			}
			b.deliver(s.handler, ev)
		}
	}
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", zap.String("name", string(ev.Name)), zap.Any("panic", r))
		}
	}()
	h(ev)
}

var _ Publisher = (*Bus)(nil)
