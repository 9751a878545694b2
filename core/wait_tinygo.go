//go:build tinygo

package core

// waiter spins on TinyGo: terminal handlers run in interrupt context,
// where channel operations are not allowed.
type waiter struct{}

func (w *waiter) init()   {}
func (w *waiter) signal() {}
func (w *waiter) wait()   {}
