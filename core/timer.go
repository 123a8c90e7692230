package core

import "time"

// TimerFreq is the scheduler tick rate: one tick per millisecond, matching
// the low-energy timer the sampling loop runs from.
const TimerFreq = 1000

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// TimerFromMS converts milliseconds to timer ticks
func TimerFromMS(ms uint32) uint32 {
	return ms * TimerFreq / 1000
}

// TimerToMS converts timer ticks to milliseconds
func TimerToMS(ticks uint32) uint32 {
	return ticks * 1000 / TimerFreq
}

// TimerFromDuration converts a duration to timer ticks, rounding down
func TimerFromDuration(d time.Duration) uint32 {
	return TimerFromMS(uint32(d / time.Millisecond))
}

// Delay waits for d without relying on the goroutine scheduler, so it may be
// used from interrupt handlers.
func Delay(d time.Duration) {
	if d <= 0 {
		return
	}
	spinDelay(d)
}
