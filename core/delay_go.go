//go:build !tinygo

package core

import "time"

// DelayUS blocks for at least us microseconds.
// Tests replace it to advance a simulated clock instead.
var DelayUS = func(us uint32) {
	time.Sleep(time.Duration(us) * time.Microsecond)
}
