//go:build !tinygo

package core

import "time"

var systemTicks uint32

// getSystemTicks returns the current system ticks (regular Go implementation)
func getSystemTicks() uint32 {
	return systemTicks
}

// setSystemTicks sets the system ticks (regular Go implementation)
func setSystemTicks(ticks uint32) {
	systemTicks = ticks
}

// spinDelay sleeps; host builds have no interrupt context to protect
func spinDelay(d time.Duration) {
	time.Sleep(d)
}
