// Package sim models the EFM32 I2C master peripheral in memory so the
// interrupt-driven core can run on a host against drivers.I2C slaves.
package sim

import (
	"geckosense/core"

	"tinygo.org/x/drivers"
)

// Phase selects where an injected NACK lands.
type Phase uint8

const (
	PhaseWriteHeader Phase = iota // address header with the write bit
	PhaseData                     // data byte written by the master
	PhaseReadHeader               // address header with the read bit

	numPhases
)

// DefaultReadAhead is the number of bytes fetched from the slave when a read
// header is acknowledged.
const DefaultReadAhead = 2

// Peripheral is one simulated I2C register block. Commands and TXDATA writes
// act on the attached slave bus immediately and raise the same IF flags the
// hardware would; nothing happens on its own between register accesses.
//
// A Peripheral is not safe for concurrent use; the simulated interrupt and
// the code that launches transactions must run on the same goroutine.
type Peripheral struct {
	slave     drivers.I2C
	readAhead int

	regs    [core.RegROUTELOC0/4 + 1]uint32
	ifl     uint32
	started bool   // START issued, next TXDATA is an address header
	active  bool   // bus owned between START and STOP/ABORT
	addr    uint16 // 7-bit slave address of the current frame
	written []byte // data bytes the slave accepted since the last start
	rx      []byte // bytes fetched by the read header
	rxPos   int
	rxData  uint32

	nacks  [numPhases]int
	frames int
}

// NewPeripheral returns a peripheral whose slaves live on bus.
func NewPeripheral(bus drivers.I2C) *Peripheral {
	return &Peripheral{slave: bus, readAhead: DefaultReadAhead}
}

// SetReadAhead sets how many bytes each read header fetches from the slave.
func (p *Peripheral) SetReadAhead(n int) {
	if n < 1 {
		n = 1
	}
	p.readAhead = n
}

// InjectNack makes the next n bytes sent in phase go unacknowledged.
func (p *Peripheral) InjectNack(phase Phase, n int) {
	if phase < numPhases {
		p.nacks[phase] += n
	}
}

// Frames returns the number of completed slave transfers.
func (p *Peripheral) Frames() int {
	return p.frames
}

// Pending returns the flags that are set and enabled.
func (p *Peripheral) Pending() uint32 {
	return p.ifl & p.regs[core.RegIEN/4]
}

// Read implements core.Registers.
func (p *Peripheral) Read(reg core.Register) uint32 {
	switch reg {
	case core.RegIF:
		return p.ifl
	case core.RegSTATE:
		if p.active {
			return core.BusStateStart | core.BusStateBusy
		}
		return core.BusStateIdle
	case core.RegRXDATA:
		v := p.rxData
		p.ifl &^= core.IFRXDataV
		return v
	}
	if int(reg/4) < len(p.regs) {
		return p.regs[reg/4]
	}
	return 0
}

// Write implements core.Registers.
func (p *Peripheral) Write(reg core.Register, v uint32) {
	switch reg {
	case core.RegIFS:
		p.ifl |= v & core.IFMask
	case core.RegIFC:
		p.ifl &^= v
	case core.RegCMD:
		p.command(v)
	case core.RegTXDATA:
		p.transmit(byte(v))
	default:
		if int(reg/4) < len(p.regs) {
			p.regs[reg/4] = v
		}
	}
}

func (p *Peripheral) enabled() bool {
	return p.regs[core.RegCTRL/4]&core.CtrlEnable != 0
}

func (p *Peripheral) command(v uint32) {
	if v&core.CmdAbort != 0 {
		p.release()
		return
	}
	if v&core.CmdClearTX != 0 {
		p.started = false
	}
	if v&(core.CmdStart|core.CmdStop) == core.CmdStart|core.CmdStop {
		// Full empty frame: start immediately followed by stop
		p.ifl |= core.IFStart | core.IFMStop
		p.release()
		return
	}
	if v&core.CmdStart != 0 && p.enabled() {
		if p.active {
			p.ifl |= core.IFRStart
		} else {
			p.ifl |= core.IFStart
		}
		p.started = true
		p.active = true
	}
	if v&core.CmdAck != 0 {
		p.nextByte()
	}
	if v&core.CmdStop != 0 && p.active {
		p.flush()
		p.ifl |= core.IFMStop
		p.release()
	}
}

func (p *Peripheral) transmit(b byte) {
	if !p.active {
		return
	}
	if p.started {
		p.started = false
		p.header(b)
		return
	}
	if p.take(PhaseData) {
		p.ifl |= core.IFNack
		return
	}
	p.written = append(p.written, b)
	p.ifl |= core.IFAck | core.IFTXC
}

func (p *Peripheral) header(b byte) {
	addr := uint16(b >> 1)
	if b&1 == 0 {
		if p.take(PhaseWriteHeader) {
			p.ifl |= core.IFNack
			return
		}
		p.flush()
		p.addr = addr
		p.ifl |= core.IFAck | core.IFAddr
		return
	}

	if p.take(PhaseReadHeader) {
		p.ifl |= core.IFNack
		return
	}
	buf := make([]byte, p.readAhead)
	if err := p.slave.Tx(addr, p.written, buf); err != nil {
		p.ifl |= core.IFNack
		return
	}
	p.frames++
	p.addr = addr
	p.written = p.written[:0]
	p.rx = buf
	p.rxPos = 0
	p.ifl |= core.IFAck | core.IFAddr
	p.nextByte()
}

// nextByte moves the next fetched byte into RXDATA. Past the end of the
// fetched data the line floats high.
func (p *Peripheral) nextByte() {
	if p.rxPos < len(p.rx) {
		p.rxData = uint32(p.rx[p.rxPos])
		p.rxPos++
	} else {
		p.rxData = 0xFF
	}
	p.ifl |= core.IFRXDataV
}

// flush delivers bytes written without a following read as a plain write.
func (p *Peripheral) flush() {
	if len(p.written) == 0 {
		return
	}
	if err := p.slave.Tx(p.addr, p.written, nil); err == nil {
		p.frames++
	}
	p.written = p.written[:0]
}

func (p *Peripheral) release() {
	p.started = false
	p.active = false
	p.written = p.written[:0]
	p.rx = nil
	p.rxPos = 0
}

func (p *Peripheral) take(phase Phase) bool {
	if p.nacks[phase] > 0 {
		p.nacks[phase]--
		return true
	}
	return false
}
