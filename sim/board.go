package sim

import (
	"errors"

	"geckosense/core"

	"tinygo.org/x/drivers"
)

// ErrRunaway is returned by Pump when a bus keeps raising interrupts past the
// iteration bound.
var ErrRunaway = errors.New("sim: interrupt storm")

// maxPumpRounds bounds one Pump call. A complete transaction needs one round
// per event, so anything near this limit is a stuck handler.
const maxPumpRounds = 256

// Board is a simulated chip with both I2C peripherals plus the interrupt
// controller and clock gates the registry expects.
type Board struct {
	Bus [core.NumBuses]*Peripheral

	irqEnabled [core.NumBuses]bool
	clocked    [core.NumBuses]bool
}

// NewBoard wires a peripheral to each slave bus. A nil bus leaves that
// peripheral absent.
func NewBoard(bus0, bus1 drivers.I2C) *Board {
	b := &Board{}
	if bus0 != nil {
		b.Bus[core.Bus0] = NewPeripheral(bus0)
	}
	if bus1 != nil {
		b.Bus[core.Bus1] = NewPeripheral(bus1)
	}
	return b
}

// Registers returns the register blocks in the form NewRegistry takes.
func (b *Board) Registers() (core.Registers, core.Registers) {
	var r [core.NumBuses]core.Registers
	for i, p := range b.Bus {
		if p != nil {
			r[i] = p
		}
	}
	return r[core.Bus0], r[core.Bus1]
}

// EnableIRQ implements core.InterruptController.
func (b *Board) EnableIRQ(bus core.BusID) {
	if bus.Valid() {
		b.irqEnabled[bus] = true
	}
}

// DisableIRQ implements core.InterruptController.
func (b *Board) DisableIRQ(bus core.BusID) {
	if bus.Valid() {
		b.irqEnabled[bus] = false
	}
}

// IRQEnabled reports whether the interrupt line of bus is unmasked.
func (b *Board) IRQEnabled(bus core.BusID) bool {
	return bus.Valid() && b.irqEnabled[bus]
}

// EnableClock implements core.ClockGate.
func (b *Board) EnableClock(bus core.BusID) {
	if bus.Valid() {
		b.clocked[bus] = true
	}
}

// Clocked reports whether the peripheral clock of bus was enabled.
func (b *Board) Clocked(bus core.BusID) bool {
	return bus.Valid() && b.clocked[bus]
}

// Pump plays the role of the NVIC: while any bus has an enabled flag pending
// and its line unmasked, it runs the registry's interrupt handler for that
// bus. It returns the first handler error.
func (b *Board) Pump(reg *core.Registry) error {
	var first error
	for round := 0; round < maxPumpRounds; round++ {
		fired := false
		for i, p := range b.Bus {
			bus := core.BusID(i)
			if p == nil || !b.irqEnabled[bus] || p.Pending() == 0 {
				continue
			}
			fired = true
			if err := reg.HandleIRQ(bus); err != nil && first == nil {
				first = err
			}
		}
		if !fired {
			return first
		}
	}
	if first == nil {
		first = ErrRunaway
	}
	return first
}
