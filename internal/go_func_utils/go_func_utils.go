package go_func_utils

import (
	"log"
	"runtime/debug"
)

// SafeGo starts fn on its own goroutine. The terminal UI owns stdout, so a
// panicking goroutine would die invisibly; log the panic and stack to the
// file logger first, then crash out as normal.
func SafeGo(logger *log.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("PANIC: %v\n%s", r, debug.Stack())
				panic(r)
			}
		}()
		fn()
	}()
}
