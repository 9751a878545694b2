//go:build !tinygo

package core

import "sync"

// State is a placeholder for interrupt state on regular Go
type State uintptr

// On regular Go, handlers run on other goroutines, so the critical
// section is a mutex. It is not reentrant.
var criticalSection sync.Mutex

// disableInterrupts enters the critical section
func disableInterrupts() State {
	criticalSection.Lock()
	return 0
}

// restoreInterrupts leaves the critical section
func restoreInterrupts(state State) {
	criticalSection.Unlock()
}
