package events

import "sync"

// CallbackEvent fans values out to subscriber callbacks, invoked
// synchronously on the publisher's goroutine.
type CallbackEvent[T any] struct {
	mu         sync.RWMutex
	callbacks  map[uint64]func(T)
	nextToken  uint64
	replayLast bool
	last       T
	haveLast   bool
}

// NewCallbackEvent creates a CallbackEvent. With replayLast set, each new
// subscriber is immediately invoked with the most recently published value.
func NewCallbackEvent[T any](replayLast bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{
		callbacks:  make(map[uint64]func(T)),
		replayLast: replayLast,
	}
}

// Listen registers a callback to be invoked on each publish.
// Returns a deregistration function that can be called to remove the listener
func (e *CallbackEvent[T]) Listen(cb func(T)) func() {
	if cb == nil {
		panic("callback cannot be nil")
	}

	e.mu.Lock()
	token := e.nextToken
	e.nextToken++
	e.callbacks[token] = cb
	replay, haveReplay := e.last, e.replayLast && e.haveLast
	e.mu.Unlock()

	// Replay outside the lock so the callback may re-enter this event
	if haveReplay {
		cb(replay)
	}

	return func() {
		e.mu.Lock()
		delete(e.callbacks, token)
		e.mu.Unlock()
	}
}

// Notify invokes every subscriber with the value. Callbacks run outside the
// lock, so they may register or deregister listeners.
func (e *CallbackEvent[T]) Notify(value T) {
	e.mu.Lock()
	if e.replayLast {
		e.last = value
		e.haveLast = true
	}
	targets := make([]func(T), 0, len(e.callbacks))
	for _, cb := range e.callbacks {
		targets = append(targets, cb)
	}
	e.mu.Unlock()

	for _, cb := range targets {
		cb(value)
	}
}

// ListenerCount returns the number of registered subscribers.
func (e *CallbackEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.callbacks)
}
