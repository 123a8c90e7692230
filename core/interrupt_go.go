//go:build !tinygo

package core

// irqState stands in for the saved PRIMASK on regular Go
type irqState uintptr

// disableInterrupts is a no-op on regular Go (host tests and simulation are single threaded)
func disableInterrupts() irqState {
	return 0
}

// restoreInterrupts is a no-op on regular Go
func restoreInterrupts(state irqState) {
	_ = state
}
