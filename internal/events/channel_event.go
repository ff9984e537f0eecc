package events

import "sync"

// ChannelEvent fans values out to subscriber channels. Sends never block:
// a subscriber that cannot keep up misses values rather than stalling the
// publisher.
type ChannelEvent[T any] struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan<- T
	nextToken   uint64
	replayLast  bool
	last        T
	haveLast    bool
}

// NewChannelEvent creates a ChannelEvent. With replayLast set, each new
// subscriber immediately receives the most recently published value, so late
// joiners see current state without waiting for the next publish.
func NewChannelEvent[T any](replayLast bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{
		subscribers: make(map[uint64]chan<- T),
		replayLast:  replayLast,
	}
}

// Listen registers a channel to receive published values.
// Returns a deregistration function that can be called to remove the listener
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}

	e.mu.Lock()
	token := e.nextToken
	e.nextToken++
	e.subscribers[token] = ch
	replay, haveReplay := e.last, e.replayLast && e.haveLast
	e.mu.Unlock()

	// Replay outside the lock; a full channel forfeits the replay
	if haveReplay {
		select {
		case ch <- replay:
		default:
		}
	}

	return func() {
		e.mu.Lock()
		delete(e.subscribers, token)
		e.mu.Unlock()
	}
}

// Notify publishes a value to every subscriber. Full channels are skipped.
func (e *ChannelEvent[T]) Notify(value T) {
	e.mu.Lock()
	if e.replayLast {
		e.last = value
		e.haveLast = true
	}
	targets := make([]chan<- T, 0, len(e.subscribers))
	for _, ch := range e.subscribers {
		targets = append(targets, ch)
	}
	e.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- value:
		default:
		}
	}
}

// ListenerCount returns the number of registered subscribers.
func (e *ChannelEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers)
}
