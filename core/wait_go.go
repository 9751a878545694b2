//go:build !tinygo

package core

import "time"

// waitPollInterval bounds how long GetPulseDuration sleeps before it
// services the timer list again
const waitPollInterval = 100 * time.Microsecond

// waiter parks the reading goroutine until a terminal handler signals
type waiter struct {
	wake chan struct{}
}

func (w *waiter) init() {
	w.wake = make(chan struct{}, 1)
}

func (w *waiter) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *waiter) wait() {
	t := time.NewTimer(waitPollInterval)
	defer t.Stop()
	select {
	case <-w.wake:
	case <-t.C:
	}
}
