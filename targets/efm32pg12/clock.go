//go:build efm32pg12

package main

import "geckosense/core"

// CMU registers and enable bits
const (
	cmuHFBUSCLKEN0 = cmuBase + 0x0B0
	cmuHFPERCLKEN0 = cmuBase + 0x0C0

	busClockGPIO = 1 << 3

	perClockUSART0 = 1 << 4
	perClockI2C0   = 1 << 10
	perClockI2C1   = 1 << 11
)

var i2cClockBits = [core.NumBuses]uint32{perClockI2C0, perClockI2C1}

// cmu implements core.ClockGate.
type cmu struct{}

func (cmu) EnableClock(bus core.BusID) {
	if bus.Valid() {
		mmio(cmuHFPERCLKEN0).SetBits(i2cClockBits[bus])
	}
}

func enableGPIOClock() {
	mmio(cmuHFBUSCLKEN0).SetBits(busClockGPIO)
}
