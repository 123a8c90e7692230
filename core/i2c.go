// Interrupt-driven I2C master transactions
// A transaction writes a command to a slave, issues a repeated start and reads
// back a fixed number of bytes; every step after Launch runs from HandleIRQ.
package core

import (
	"errors"
	"runtime"
	"sync/atomic"
	"time"
)

// OpenConfig holds the one-time configuration of a bus.
type OpenConfig struct {
	Enable  bool       // Enable the peripheral once configured
	Master  bool       // Must be true; slave mode is not supported
	Freq    uint32     // SCL frequency in Hz
	RefFreq uint32     // Peripheral reference clock in Hz; zero uses Options.RefClockHz
	CLHR    ClockRatio // SCL low:high ratio
	SDALoc  uint8      // SDA route location
	SCLLoc  uint8      // SCL route location
}

// Options wires a Registry to its collaborators. Nil collaborators are
// replaced by no-ops; nil funcs get the defaults noted below.
type Options struct {
	Power     PowerManager
	Scheduler Submitter
	IRQ       InterruptController
	Clock     ClockGate

	// Delay implements the settle delay. Defaults to core.Delay.
	Delay func(time.Duration)
	// Yield runs between polls while Launch waits for a busy bus.
	// Defaults to runtime.Gosched.
	Yield func()
	// Fault receives errors raised in interrupt context that no caller can
	// observe (protocol violations, bus reset timeouts). Defaults to panic.
	Fault func(bus BusID, err error)

	SettleDelay   time.Duration // between consecutive command register writes
	ResetTimeout  time.Duration // bound on the bus reset STOP wait; zero waits forever
	LaunchTimeout time.Duration // bound on the Launch busy wait; zero waits forever
	MaxRetries    uint32        // consecutive NACK retries per phase; zero retries forever
	BlockMode     EnergyMode    // energy mode blocked while a transaction is in flight
	RefClockHz    uint32        // peripheral clock used when OpenConfig.RefFreq is zero
}

// DefaultOptions returns the timings the firmware runs with.
func DefaultOptions() Options {
	return Options{
		SettleDelay:  80 * time.Millisecond,
		ResetTimeout: 10 * time.Millisecond,
		BlockMode:    EM2,
		RefClockHz:   19000000,
	}
}

// Request describes one transaction handed to Launch.
type Request struct {
	Bus     BusID
	Address uint8     // 7-bit slave address
	Dest    []byte    // receives Count bytes, most significant first
	Dir     Direction // R/W bit of the header sent by SendStart
	Token   Token     // submitted to the scheduler on completion
	Count   uint8     // bytes to read, at least 1
	Command uint8     // command byte written after the slave acknowledges
}

// Context is the per-bus record of the in-flight transaction. It lives in the
// Registry for the life of the program and is re-armed by every Launch.
type Context struct {
	bus       BusID
	address   uint8
	dir       Direction
	command   uint8
	state     State
	count     uint8
	remaining uint8
	dest      []byte
	token     Token
	retries   uint32 // consecutive NACKs at the current phase
	nacks     uint32 // NACKs over the whole transaction
	err       error
	busy      atomic.Bool
}

// Registry owns both buses: their register blocks, open state and
// transaction contexts.
type Registry struct {
	opts     Options
	regs     [NumBuses]Registers
	open     [NumBuses]bool
	contexts [NumBuses]Context
}

type noopPower struct{}

func (noopPower) Block(EnergyMode)   {}
func (noopPower) Unblock(EnergyMode) {}

type noopSubmitter struct{}

func (noopSubmitter) Submit(Token) {}

type noopIRQ struct{}

func (noopIRQ) EnableIRQ(BusID)  {}
func (noopIRQ) DisableIRQ(BusID) {}

type noopClock struct{}

func (noopClock) EnableClock(BusID) {}

// NewRegistry creates a registry for the two peripherals. Either block may be
// nil when the board does not use that bus.
func NewRegistry(opts Options, bus0, bus1 Registers) *Registry {
	if opts.Power == nil {
		opts.Power = noopPower{}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = noopSubmitter{}
	}
	if opts.IRQ == nil {
		opts.IRQ = noopIRQ{}
	}
	if opts.Clock == nil {
		opts.Clock = noopClock{}
	}
	if opts.Delay == nil {
		opts.Delay = Delay
	}
	if opts.Yield == nil {
		opts.Yield = runtime.Gosched
	}
	if opts.Fault == nil {
		opts.Fault = func(bus BusID, err error) {
			DumpTraceRing()
			panic(err.Error())
		}
	}

	r := &Registry{opts: opts}
	r.regs[Bus0] = bus0
	r.regs[Bus1] = bus1
	for i := range r.contexts {
		r.contexts[i].bus = BusID(i)
		r.contexts[i].state = StateIdle
	}
	return r
}

func (r *Registry) registers(bus BusID) (Registers, error) {
	if !bus.Valid() || r.regs[bus] == nil {
		return nil, ErrInvalidBus
	}
	if !r.open[bus] {
		return nil, ErrNotOpen
	}
	return r.regs[bus], nil
}

// Open configures a bus. It must be called exactly once per bus before any
// transaction and leaves the peripheral idle via BusReset.
func (r *Registry) Open(bus BusID, cfg OpenConfig) error {
	if !bus.Valid() || r.regs[bus] == nil {
		return ErrInvalidBus
	}
	if r.open[bus] {
		return ErrAlreadyOpen
	}
	if !cfg.Master {
		return ErrUnsupported
	}
	ref := cfg.RefFreq
	if ref == 0 {
		ref = r.opts.RefClockHz
	}
	div, err := clockDivider(ref, cfg.Freq, cfg.CLHR)
	if err != nil {
		return err
	}

	regs := r.regs[bus]
	r.opts.Clock.EnableClock(bus)

	// Toggle START to prove the flag registers respond
	if regs.Read(RegIF)&IFStart == 0 {
		regs.Write(RegIFS, IFStart)
		if regs.Read(RegIF)&IFStart == 0 {
			return ErrFlagSelfTest
		}
	} else {
		regs.Write(RegIFC, IFStart)
		if regs.Read(RegIF)&IFStart != 0 {
			return ErrFlagSelfTest
		}
	}

	// Disable while reconfiguring, master mode, clock ratio and divider
	ctrl := regs.Read(RegCTRL) &^ (CtrlEnable | CtrlSlave | CtrlCLHRMask)
	ctrl |= uint32(cfg.CLHR) << CtrlCLHRShift & CtrlCLHRMask
	regs.Write(RegCTRL, ctrl)
	regs.Write(RegCLKDIV, div)
	if cfg.Enable {
		regs.Write(RegCTRL, ctrl|CtrlEnable)
	}

	loc := uint32(cfg.SDALoc&RouteLocFieldMask)<<RouteSDALocShift |
		uint32(cfg.SCLLoc&RouteLocFieldMask)<<RouteSCLLocShift
	regs.Write(RegROUTELOC0, regs.Read(RegROUTELOC0)|loc)
	regs.Write(RegROUTEPEN, regs.Read(RegROUTEPEN)|RouteSDAPen|RouteSCLPen)

	if err := r.reset(bus, regs); err != nil {
		return err
	}

	r.open[bus] = true
	DebugPrintln("[I2C] bus " + utoa(uint32(bus)) + " open, clkdiv=" + utoa(div))
	return nil
}

// CheckOpenConfig reports whether Open would accept cfg, without touching
// hardware. RefFreq must be set.
func CheckOpenConfig(cfg OpenConfig) error {
	if !cfg.Master {
		return ErrUnsupported
	}
	_, err := clockDivider(cfg.RefFreq, cfg.Freq, cfg.CLHR)
	return err
}

// clkSyncOverhead is the fixed number of reference cycles the peripheral adds
// to every SCL period for synchronization.
const clkSyncOverhead = 8

// clockDivider computes CLKDIV so that SCL runs at or below freq:
// freq = ref / ((Nlow+Nhigh)*(DIV+1) + 8).
func clockDivider(ref, freq uint32, clhr ClockRatio) (uint32, error) {
	if ref == 0 || freq == 0 || clhr > ClockRatioFast {
		return 0, ErrInvalidConfig
	}
	low, high := clhr.lowHigh()
	n := low + high
	if ref <= clkSyncOverhead*freq+n*freq {
		return 0, ErrInvalidConfig
	}
	div := (ref-clkSyncOverhead*freq)/(n*freq) - 1
	if ref/(n*(div+1)+clkSyncOverhead) > freq {
		div++
	}
	if div > ClkDivMask {
		return 0, ErrInvalidConfig
	}
	return div, nil
}

// reset runs BusReset on a bus and records it in the trace ring.
func (r *Registry) reset(bus BusID, regs Registers) error {
	err := BusReset(regs, r.opts.ResetTimeout)
	var v uint32
	if err != nil {
		v = 1
	}
	RecordTrace(TraceReset, uint8(bus), uint8(r.contexts[bus].state), v)
	return err
}

// Launch arms a bus for a new transaction and returns once the context is
// primed; the transaction itself proceeds from HandleIRQ. If a previous
// transaction on the same bus is still in flight Launch waits for it, bounded
// by Options.LaunchTimeout.
//
// Every successful Launch holds an energy-mode block that is released when the
// transaction completes.
func (r *Registry) Launch(req Request) error {
	regs, err := r.registers(req.Bus)
	if err != nil {
		return err
	}
	if req.Count == 0 {
		return ErrInvalidCount
	}
	if len(req.Dest) < int(req.Count) {
		return ErrShortBuffer
	}
	if req.Address > 0x7F {
		return ErrInvalidAddress
	}

	r.opts.Power.Block(r.opts.BlockMode)

	var deadline time.Time
	if r.opts.LaunchTimeout > 0 {
		deadline = time.Now().Add(r.opts.LaunchTimeout)
	}
	for {
		armed, err := r.arm(regs, req)
		if err != nil {
			r.opts.Power.Unblock(r.opts.BlockMode)
			return err
		}
		if armed {
			break
		}
		if r.opts.LaunchTimeout > 0 && time.Now().After(deadline) {
			r.opts.Power.Unblock(r.opts.BlockMode)
			RecordTrace(TraceFault, uint8(req.Bus), uint8(r.contexts[req.Bus].state), 0)
			return ErrLaunchTimeout
		}
		r.opts.Yield()
	}

	RecordTrace(TraceLaunch, uint8(req.Bus), uint8(StateRequestResource), uint32(req.Address))
	r.opts.Delay(r.opts.SettleDelay)
	return nil
}

// arm claims the bus context and primes it inside a critical section.
// It reports false without side effects when the bus is still busy.
func (r *Registry) arm(regs Registers, req Request) (bool, error) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	ctx := &r.contexts[req.Bus]
	if !ctx.busy.CompareAndSwap(false, true) {
		return false, nil
	}

	regs.Write(RegIEN, IENTransaction)

	if regs.Read(RegSTATE)&BusStateMask != BusStateIdle {
		// The previous transaction did not leave the peripheral idle
		ctx.busy.Store(false)
		return false, ErrBusNotIdle
	}

	ctx.address = req.Address
	ctx.dir = req.Dir
	ctx.command = req.Command
	ctx.count = req.Count
	ctx.remaining = req.Count
	ctx.dest = req.Dest[:req.Count]
	ctx.token = req.Token
	ctx.retries = 0
	ctx.nacks = 0
	ctx.err = nil
	ctx.state = StateRequestResource
	for i := range ctx.dest {
		ctx.dest[i] = 0
	}

	r.opts.IRQ.EnableIRQ(req.Bus)
	return true, nil
}

// SendStart issues a START and transmits the address header of the armed transaction.
func (r *Registry) SendStart(bus BusID) error {
	regs, err := r.registers(bus)
	if err != nil {
		return err
	}
	ctx := &r.contexts[bus]
	regs.Write(RegCMD, CmdStart)
	regs.Write(RegTXDATA, Header(ctx.address, ctx.dir))
	return nil
}

// SendStop issues a STOP condition.
func (r *Registry) SendStop(bus BusID) error {
	regs, err := r.registers(bus)
	if err != nil {
		return err
	}
	regs.Write(RegCMD, CmdStop)
	return nil
}

// SendCommand transmits a raw byte.
func (r *Registry) SendCommand(bus BusID, b uint8) error {
	regs, err := r.registers(bus)
	if err != nil {
		return err
	}
	regs.Write(RegTXDATA, uint32(b))
	return nil
}

// HandleIRQ is the interrupt service routine body for a bus. It acknowledges
// the flags that are both pending and enabled, then runs the ACK, NACK,
// RXDATAV and MSTOP handlers, in that order, for each flag present.
// The first handler error is returned after the remaining handlers have run.
func (r *Registry) HandleIRQ(bus BusID) error {
	regs, err := r.registers(bus)
	if err != nil {
		return err
	}

	flags := regs.Read(RegIF) & regs.Read(RegIEN)
	regs.Write(RegIFC, flags)

	var first error
	note := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if flags&IFAck != 0 {
		note(r.handle(bus, regs, EventAck))
	}
	if flags&IFNack != 0 {
		note(r.handle(bus, regs, EventNack))
	}
	if flags&IFRXDataV != 0 {
		note(r.handle(bus, regs, EventRxData))
	}
	if flags&IFMStop != 0 {
		note(r.handle(bus, regs, EventStop))
	}
	return first
}

var traceKinds = [...]uint8{
	EventAck:    TraceAck,
	EventNack:   TraceNack,
	EventRxData: TraceRx,
	EventStop:   TraceStop,
}

// handle applies one event to the bus context with the bus interrupt line masked.
func (r *Registry) handle(bus BusID, regs Registers, ev Event) error {
	r.opts.IRQ.DisableIRQ(bus)
	defer r.opts.IRQ.EnableIRQ(bus)
	defer r.opts.Delay(r.opts.SettleDelay)

	ctx := &r.contexts[bus]
	st, err := Transition(ctx.state, ev, ctx.remaining)
	if err != nil {
		var v *ViolationError
		if errors.As(err, &v) {
			v.Bus = bus
		}
		RecordTrace(TraceFault, uint8(bus), uint8(ctx.state), uint32(ev))
		ctx.err = err
		r.opts.Fault(bus, err)
		return err
	}

	if st.Retry {
		ctx.retries++
		ctx.nacks++
		if r.opts.MaxRetries > 0 && ctx.retries > r.opts.MaxRetries {
			r.abort(bus, regs, ctx, ErrRetryLimit)
			return ErrRetryLimit
		}
	} else {
		ctx.retries = 0
	}

	ctx.state = st.Next
	for _, a := range st.Actions() {
		r.apply(bus, regs, ctx, a)
	}
	if ev != EventStop {
		RecordTrace(traceKinds[ev], uint8(bus), uint8(ctx.state), uint32(ctx.remaining))
	}
	return nil
}

// apply performs a single transition action.
func (r *Registry) apply(bus BusID, regs Registers, ctx *Context, a Action) {
	switch a {
	case ActStart:
		regs.Write(RegCMD, CmdStart)
	case ActCont:
		regs.Write(RegCMD, CmdCont)
	case ActAck:
		regs.Write(RegCMD, CmdAck)
	case ActNack:
		regs.Write(RegCMD, CmdNack)
	case ActStop:
		regs.Write(RegCMD, CmdStop)
	case ActSendCommand:
		regs.Write(RegTXDATA, uint32(ctx.command))
	case ActSendReadHeader:
		regs.Write(RegTXDATA, Header(ctx.address, Read))
	case ActSendWriteHeader:
		regs.Write(RegTXDATA, Header(ctx.address, Write))
	case ActStoreByte:
		b := byte(regs.Read(RegRXDATA))
		ctx.remaining--
		ctx.dest[int(ctx.count)-1-int(ctx.remaining)] |= b
	case ActFinish:
		r.finish(bus, regs, ctx)
	}
}

// finish closes a completed transaction: release the bus, the energy-mode
// block and hand the token to the scheduler, then reset the peripheral.
func (r *Registry) finish(bus BusID, regs Registers, ctx *Context) {
	ctx.busy.Store(false)
	r.opts.Power.Unblock(r.opts.BlockMode)
	r.opts.Scheduler.Submit(ctx.token)
	RecordTrace(TraceStop, uint8(bus), uint8(ctx.state), uint32(ctx.token))
	if err := r.reset(bus, regs); err != nil {
		ctx.err = err
		r.opts.Fault(bus, err)
	}
}

// abort ends a transaction that cannot make progress. The token is still
// submitted so the deferred callback can observe the failure through Err.
func (r *Registry) abort(bus BusID, regs Registers, ctx *Context, cause error) {
	RecordTrace(TraceFault, uint8(bus), uint8(ctx.state), ctx.nacks)
	ctx.err = cause
	ctx.state = StateIdle
	if err := r.reset(bus, regs); err != nil {
		r.opts.Fault(bus, err)
	}
	ctx.busy.Store(false)
	r.opts.Power.Unblock(r.opts.BlockMode)
	r.opts.Scheduler.Submit(ctx.token)
}

// Busy reports whether a transaction is in flight on bus.
func (r *Registry) Busy(bus BusID) bool {
	if !bus.Valid() {
		return false
	}
	return r.contexts[bus].busy.Load()
}

// State returns the transaction phase of bus.
func (r *Registry) State(bus BusID) State {
	if !bus.Valid() {
		return StateIdle
	}
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return r.contexts[bus].state
}

// Remaining returns the number of bytes the current transaction still expects.
func (r *Registry) Remaining(bus BusID) uint8 {
	if !bus.Valid() {
		return 0
	}
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return r.contexts[bus].remaining
}

// NackCount returns how many NACKs the current or last transaction retried.
func (r *Registry) NackCount(bus BusID) uint32 {
	if !bus.Valid() {
		return 0
	}
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return r.contexts[bus].nacks
}

// Err returns the fault recorded by the last transaction on bus, if any.
func (r *Registry) Err(bus BusID) error {
	if !bus.Valid() {
		return ErrInvalidBus
	}
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return r.contexts[bus].err
}

// IsOpen reports whether Open has completed for bus.
func (r *Registry) IsOpen(bus BusID) bool {
	return bus.Valid() && r.open[bus]
}
