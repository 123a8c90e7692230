package core

// EnergyMode is a sleep depth; higher numbers sleep deeper.
type EnergyMode uint8

const (
	EM0 EnergyMode = iota // run
	EM1                   // sleep
	EM2                   // deep sleep, high frequency clocks off
	EM3                   // stop
	EM4                   // shutoff

	numEnergyModes = 5
)

// PowerManager keeps the system out of sleep depths a peripheral cannot survive.
// Block and Unblock nest per mode and must be paired.
type PowerManager interface {
	Block(mode EnergyMode)
	Unblock(mode EnergyMode)
}

// SleepBlocker is a counting PowerManager. Each mode carries a nesting count;
// Lowest reports the deepest mode the system may currently enter.
type SleepBlocker struct {
	counts [numEnergyModes]uint32
}

// Block forbids entering mode or anything deeper until the matching Unblock.
func (s *SleepBlocker) Block(mode EnergyMode) {
	if mode >= numEnergyModes {
		return
	}
	state := disableInterrupts()
	s.counts[mode]++
	restoreInterrupts(state)
}

// Unblock releases one Block on mode. An unmatched Unblock is a driver bug.
func (s *SleepBlocker) Unblock(mode EnergyMode) {
	if mode >= numEnergyModes {
		return
	}
	state := disableInterrupts()
	defer restoreInterrupts(state)
	if s.counts[mode] == 0 {
		panic("sleep: unblock of mode " + utoa(uint32(mode)) + " without block")
	}
	s.counts[mode]--
}

// Count returns the current nesting count for mode.
func (s *SleepBlocker) Count(mode EnergyMode) uint32 {
	if mode >= numEnergyModes {
		return 0
	}
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return s.counts[mode]
}

// Lowest returns the deepest energy mode allowed by the outstanding blocks.
func (s *SleepBlocker) Lowest() EnergyMode {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	for m := EM0; m < numEnergyModes; m++ {
		if s.counts[m] > 0 {
			if m == EM0 {
				return EM0
			}
			return m - 1
		}
	}
	return EM4 - 1 // EM4 is never entered implicitly
}
