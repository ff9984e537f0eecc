package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackEventNotifyAndUnregister(t *testing.T) {
	event := NewCallbackEvent[string](false)

	var got []string
	unregister := event.Listen(func(v string) { got = append(got, v) })
	require.Equal(t, 1, event.ListenerCount())

	event.Notify("first")
	event.Notify("second")
	assert.Equal(t, []string{"first", "second"}, got)

	unregister()
	assert.Equal(t, 0, event.ListenerCount())

	event.Notify("third")
	assert.Len(t, got, 2)
}

func TestCallbackEventReplayLast(t *testing.T) {
	event := NewCallbackEvent[int](true)
	event.Notify(42)

	var got []int
	defer event.Listen(func(v int) { got = append(got, v) })()

	assert.Equal(t, []int{42}, got)
}

func TestCallbackEventNoReplayWithoutNotify(t *testing.T) {
	event := NewCallbackEvent[int](true)

	called := false
	defer event.Listen(func(int) { called = true })()

	assert.False(t, called)
}

func TestCallbackEventReplayDisabled(t *testing.T) {
	event := NewCallbackEvent[int](false)
	event.Notify(42)

	called := false
	defer event.Listen(func(int) { called = true })()

	assert.False(t, called)
}

func TestCallbackEventMultipleSubscribers(t *testing.T) {
	event := NewCallbackEvent[int](false)

	a, b := 0, 0
	defer event.Listen(func(v int) { a = v })()
	defer event.Listen(func(v int) { b = v })()

	event.Notify(9)
	assert.Equal(t, 9, a)
	assert.Equal(t, 9, b)
}

func TestCallbackEventNilCallbackPanics(t *testing.T) {
	event := NewCallbackEvent[int](false)
	assert.Panics(t, func() { event.Listen(nil) })
}

func TestCallbackEventDeregisterDuringNotify(t *testing.T) {
	event := NewCallbackEvent[int](false)

	var unregister func()
	calls := 0
	unregister = event.Listen(func(int) {
		calls++
		// Callbacks run outside the lock, so this must not deadlock
		unregister()
	})

	event.Notify(1)
	event.Notify(2)
	assert.Equal(t, 1, calls)
}

func TestCallbackEventConcurrentNotify(t *testing.T) {
	event := NewCallbackEvent[int](true)

	var mu sync.Mutex
	count := 0
	defer event.Listen(func(int) {
		mu.Lock()
		count++
		mu.Unlock()
	})()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 16; j++ {
				event.Notify(j)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 128, count)
}
