//go:build tinygo

package core

import (
	"sync/atomic"
	"time"
)

var (
	bootTime   = time.Now()
	tickOffset uint32
)

// getSystemTicks returns milliseconds since boot plus any offset set by SetTime
func getSystemTicks() uint32 {
	return uint32(time.Since(bootTime)/time.Millisecond) + atomic.LoadUint32(&tickOffset)
}

// setSystemTicks shifts the tick counter so that it currently reads ticks
func setSystemTicks(ticks uint32) {
	now := uint32(time.Since(bootTime) / time.Millisecond)
	atomic.StoreUint32(&tickOffset, ticks-now)
}

// spinDelay busy-waits; time.Sleep would hand control to the scheduler,
// which is not allowed inside an interrupt handler
func spinDelay(d time.Duration) {
	end := time.Now().Add(d)
	for time.Now().Before(end) {
	}
}
