//go:build efm32pg12

package main

import (
	"device/arm"
	"runtime/interrupt"

	"geckosense/core"
)

// NVIC lines of the I2C peripherals
const (
	irqI2C0 = 16
	irqI2C1 = 42
)

var irqLines = [core.NumBuses]uint32{irqI2C0, irqI2C1}

// registry is set before the first bus is opened; the handlers read it.
var registry *core.Registry

// nvic implements core.InterruptController.
type nvic struct{}

func (nvic) EnableIRQ(bus core.BusID) {
	if bus.Valid() {
		arm.EnableIRQ(irqLines[bus])
	}
}

func (nvic) DisableIRQ(bus core.BusID) {
	if bus.Valid() {
		arm.DisableIRQ(irqLines[bus])
	}
}

// installHandlers registers the I2C interrupt vectors. The lines stay masked
// until Open enables them.
func installHandlers(reg *core.Registry) {
	registry = reg
	interrupt.New(irqI2C0, func(interrupt.Interrupt) {
		_ = registry.HandleIRQ(core.Bus0)
	})
	interrupt.New(irqI2C1, func(interrupt.Interrupt) {
		_ = registry.HandleIRQ(core.Bus1)
	})
}
