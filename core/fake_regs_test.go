package core

import "time"

type regWrite struct {
	reg Register
	val uint32
}

// fakeRegs is an in-memory register block with the IF/IFS/IFC and RXDATA
// semantics the driver relies on. It does not model the bus itself; tests
// raise flags explicitly.
type fakeRegs struct {
	r       map[Register]uint32
	writes  []regWrite
	rx      []byte
	noStop  bool   // START|STOP never produces MSTOP
	stuckIF uint32 // flags IFC cannot clear
}

func newFakeRegs() *fakeRegs {
	return &fakeRegs{r: make(map[Register]uint32)}
}

func (f *fakeRegs) Read(reg Register) uint32 {
	if reg == RegRXDATA {
		if len(f.rx) == 0 {
			return 0
		}
		b := f.rx[0]
		f.rx = f.rx[1:]
		return uint32(b)
	}
	return f.r[reg]
}

func (f *fakeRegs) Write(reg Register, v uint32) {
	f.writes = append(f.writes, regWrite{reg, v})
	switch reg {
	case RegIFS:
		f.r[RegIF] |= v
	case RegIFC:
		f.r[RegIF] &^= v
		f.r[RegIF] |= f.stuckIF
	case RegCMD:
		if v&(CmdStart|CmdStop) == CmdStart|CmdStop && !f.noStop {
			f.r[RegIF] |= IFStart | IFMStop
		}
		f.r[RegCMD] = v
	default:
		f.r[reg] = v
	}
}

func (f *fakeRegs) raise(flags uint32) {
	f.r[RegIF] |= flags
}

func (f *fakeRegs) receive(b byte) {
	f.rx = append(f.rx, b)
	f.raise(IFRXDataV)
}

func (f *fakeRegs) written(reg Register) []uint32 {
	var out []uint32
	for _, w := range f.writes {
		if w.reg == reg {
			out = append(out, w.val)
		}
	}
	return out
}

func (f *fakeRegs) count(reg Register, val uint32) int {
	n := 0
	for _, v := range f.written(reg) {
		if v == val {
			n++
		}
	}
	return n
}

type fakeSubmitter struct {
	tokens []Token
}

func (s *fakeSubmitter) Submit(tok Token) {
	s.tokens = append(s.tokens, tok)
}

type fakeIRQ struct {
	enabled  [NumBuses]bool
	disables [NumBuses]int
}

func (f *fakeIRQ) EnableIRQ(bus BusID)  { f.enabled[bus] = true }
func (f *fakeIRQ) DisableIRQ(bus BusID) { f.enabled[bus] = false; f.disables[bus]++ }

type fakeClock struct {
	enabled [NumBuses]bool
}

func (f *fakeClock) EnableClock(bus BusID) { f.enabled[bus] = true }

type harness struct {
	reg    *Registry
	regs   [NumBuses]*fakeRegs
	power  *SleepBlocker
	sub    *fakeSubmitter
	irq    *fakeIRQ
	clock  *fakeClock
	delays []time.Duration
	faults []error
}

func newHarness(tweak func(*Options)) *harness {
	h := &harness{
		regs:  [NumBuses]*fakeRegs{newFakeRegs(), newFakeRegs()},
		power: &SleepBlocker{},
		sub:   &fakeSubmitter{},
		irq:   &fakeIRQ{},
		clock: &fakeClock{},
	}
	opts := DefaultOptions()
	opts.Power = h.power
	opts.Scheduler = h.sub
	opts.IRQ = h.irq
	opts.Clock = h.clock
	opts.Delay = func(d time.Duration) { h.delays = append(h.delays, d) }
	opts.Fault = func(bus BusID, err error) { h.faults = append(h.faults, err) }
	if tweak != nil {
		tweak(&opts)
	}
	h.reg = NewRegistry(opts, h.regs[Bus0], h.regs[Bus1])
	return h
}

var testOpenConfig = OpenConfig{
	Enable: true,
	Master: true,
	Freq:   100000,
	CLHR:   ClockRatioStandard,
	SDALoc: 15,
	SCLLoc: 15,
}

// irq raises flags on bus and runs the interrupt handler once.
func (h *harness) irq1(bus BusID, flags uint32) error {
	h.regs[bus].raise(flags)
	return h.reg.HandleIRQ(bus)
}

// complete drives an armed transaction through a clean ACK/ACK/ACK, data, MSTOP sequence.
func (h *harness) complete(bus BusID, data ...byte) error {
	for i := 0; i < 3; i++ {
		if err := h.irq1(bus, IFAck); err != nil {
			return err
		}
	}
	for _, b := range data {
		h.regs[bus].receive(b)
		if err := h.reg.HandleIRQ(bus); err != nil {
			return err
		}
	}
	return h.irq1(bus, IFMStop)
}
