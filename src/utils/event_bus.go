package utils

import (
	"sync"

	"cove-observer/src/logger"
)

// -----------------------------------------------------------------------------
// EventBus delivers values of one type to every subscriber, synchronously
// and in subscription order. A panicking handler is logged and skipped.
// -----------------------------------------------------------------------------

type EventBus[T any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers []busHandler[T]
	logger   *logger.Logger
}

type busHandler[T any] struct {
	id uint64
	fn func(T)
}

// -----------------------------------------------------------------------------

func NewEventBus[T any](log *logger.Logger) *EventBus[T] {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &EventBus[T]{logger: log}
}

// -----------------------------------------------------------------------------

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (b *EventBus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, busHandler[T]{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *EventBus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, h := range b.handlers {
		if h.id == id {
			next := make([]busHandler[T], 0, len(b.handlers)-1)
			next = append(next, b.handlers[:i]...)
			b.handlers = append(next, b.handlers[i+1:]...)
			return
		}
	}
}

// -----------------------------------------------------------------------------

// Publish hands ev to a snapshot of the current subscribers
func (b *EventBus[T]) Publish(ev T) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h.fn, ev)
	}
}

func (b *EventBus[T]) deliver(fn func(T), ev T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked: %v", r)
		}
	}()
	fn(ev)
}
