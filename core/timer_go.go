//go:build !tinygo

package core

import "sync/atomic"

var systemTicksValue atomic.Uint32

// getSystemTicks returns the current system ticks (regular Go implementation)
func getSystemTicks() uint32 {
	return systemTicksValue.Load()
}

// setSystemTicks sets the system ticks (regular Go implementation)
func setSystemTicks(ticks uint32) {
	systemTicksValue.Store(ticks)
}
