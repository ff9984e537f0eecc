package ble

import (
	"fmt"
	"sync"
	"time"
)

// DebugLog is a bounded ring buffer of recent textual events: phase
// transitions, raw advertisements, parse failures. It exists for diagnosis
// only and feeds no application logic.
type DebugLog struct {
	mu       sync.Mutex
	entries  []string
	capacity int
	next     int
	full     bool
}

func NewDebugLog(capacity int) *DebugLog {
	if capacity <= 0 {
		capacity = 256
	}
	return &DebugLog{
		entries:  make([]string, capacity),
		capacity: capacity,
	}
}

func (d *DebugLog) Append(format string, args ...interface{}) {
	line := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))

	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[d.next] = line
	d.next = (d.next + 1) % d.capacity
	if d.next == 0 {
		d.full = true
	}
}

// Tail returns up to n most recent entries, oldest first.
func (d *DebugLog) Tail(n int) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	size := d.next
	if d.full {
		size = d.capacity
	}
	if n <= 0 || size == 0 {
		return []string{}
	}
	if n > size {
		n = size
	}

	result := make([]string, 0, n)
	start := d.next - n
	if start < 0 {
		start += d.capacity
	}
	for i := 0; i < n; i++ {
		result = append(result, d.entries[(start+i)%d.capacity])
	}
	return result
}

// Len returns the number of entries currently held.
func (d *DebugLog) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.full {
		return d.capacity
	}
	return d.next
}
