//go:build efm32pg12

package main

import (
	"runtime/volatile"
	"unsafe"

	"geckosense/core"
)

// Peripheral base addresses
const (
	i2c0Base   = 0x4000C000
	i2c1Base   = 0x4000C400
	cmuBase    = 0x400E4000
	gpioBase   = 0x4000A000
	usart0Base = 0x40010000
)

// mmioRegisters is an I2C register block in memory-mapped I/O.
type mmioRegisters struct {
	base uintptr
}

func (m mmioRegisters) reg(off uintptr) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(m.base + off))
}

// Read implements core.Registers.
func (m mmioRegisters) Read(reg core.Register) uint32 {
	return m.reg(uintptr(reg)).Get()
}

// Write implements core.Registers.
func (m mmioRegisters) Write(reg core.Register, value uint32) {
	m.reg(uintptr(reg)).Set(value)
}

func mmio(addr uintptr) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(addr))
}
