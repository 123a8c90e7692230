package core

import (
	"errors"
	"testing"
	"time"
)

func openBus(t *testing.T, h *harness, bus BusID) {
	t.Helper()
	if err := h.reg.Open(bus, testOpenConfig); err != nil {
		t.Fatalf("Open(%d) failed: %v", bus, err)
	}
}

func TestOpenConfiguresPeripheral(t *testing.T) {
	h := newHarness(nil)
	openBus(t, h, Bus0)

	f := h.regs[Bus0]
	if !h.clock.enabled[Bus0] {
		t.Error("bus clock not enabled")
	}
	if h.clock.enabled[Bus1] {
		t.Error("bus 1 clock enabled by bus 0 open")
	}
	if f.count(RegIFS, IFStart) != 1 {
		t.Errorf("expected START flag set once by self test, writes=%v", f.written(RegIFS))
	}
	if f.r[RegCTRL]&CtrlEnable == 0 || f.r[RegCTRL]&CtrlSlave != 0 {
		t.Errorf("unexpected CTRL 0x%x", f.r[RegCTRL])
	}
	if f.r[RegCLKDIV] != 22 {
		t.Errorf("expected CLKDIV 22 for 100kHz from 19MHz, got %d", f.r[RegCLKDIV])
	}
	if f.r[RegROUTEPEN] != RouteSDAPen|RouteSCLPen {
		t.Errorf("unexpected ROUTEPEN 0x%x", f.r[RegROUTEPEN])
	}
	if f.r[RegROUTELOC0] != 15|15<<RouteSCLLocShift {
		t.Errorf("unexpected ROUTELOC0 0x%x", f.r[RegROUTELOC0])
	}
	cmds := f.written(RegCMD)
	if len(cmds) == 0 || cmds[len(cmds)-1] != CmdAbort {
		t.Errorf("expected open to finish with a bus reset, CMD writes=%v", cmds)
	}
	if f.r[RegIF] != 0 {
		t.Errorf("flags left pending after open: 0x%x", f.r[RegIF])
	}
	if !h.reg.IsOpen(Bus0) || h.reg.IsOpen(Bus1) {
		t.Error("open state not tracked per bus")
	}
}

func TestOpenClearsStartFlagWhenSet(t *testing.T) {
	h := newHarness(nil)
	h.regs[Bus1].raise(IFStart)
	openBus(t, h, Bus1)

	if h.regs[Bus1].count(RegIFC, IFStart) != 1 {
		t.Errorf("expected START flag cleared once, IFC writes=%v", h.regs[Bus1].written(RegIFC))
	}
	if len(h.regs[Bus1].written(RegIFS)) != 0 {
		t.Error("START flag set although it was already set")
	}
}

func TestOpenErrors(t *testing.T) {
	h := newHarness(nil)

	if err := h.reg.Open(BusID(2), testOpenConfig); !errors.Is(err, ErrInvalidBus) {
		t.Errorf("invalid bus: got %v", err)
	}

	slave := testOpenConfig
	slave.Master = false
	if err := h.reg.Open(Bus0, slave); !errors.Is(err, ErrUnsupported) {
		t.Errorf("slave mode: got %v", err)
	}

	tooFast := testOpenConfig
	tooFast.Freq = 5000000
	if err := h.reg.Open(Bus0, tooFast); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("impossible frequency: got %v", err)
	}

	openBus(t, h, Bus0)
	if err := h.reg.Open(Bus0, testOpenConfig); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("second open: got %v", err)
	}

	h2 := newHarness(nil)
	h2.regs[Bus0].raise(IFStart)
	h2.regs[Bus0].stuckIF = IFStart
	if err := h2.reg.Open(Bus0, testOpenConfig); !errors.Is(err, ErrFlagSelfTest) {
		t.Errorf("stuck START flag: got %v", err)
	}

	h3 := NewRegistry(Options{RefClockHz: 19000000}, nil, newFakeRegs())
	if err := h3.Open(Bus0, testOpenConfig); !errors.Is(err, ErrInvalidBus) {
		t.Errorf("unwired bus: got %v", err)
	}
}

func TestClockDivider(t *testing.T) {
	testCases := []struct {
		ref, freq uint32
		clhr      ClockRatio
		div       uint32
	}{
		{19000000, 100000, ClockRatioStandard, 22},
		{19000000, 400000, ClockRatioFast, 2},
		{38000000, 100000, ClockRatioAsymmetric, 41},
	}

	for _, tc := range testCases {
		div, err := clockDivider(tc.ref, tc.freq, tc.clhr)
		if err != nil {
			t.Errorf("clockDivider(%d, %d, %d): %v", tc.ref, tc.freq, tc.clhr, err)
			continue
		}
		if div != tc.div {
			t.Errorf("clockDivider(%d, %d, %d) = %d, expected %d", tc.ref, tc.freq, tc.clhr, div, tc.div)
		}
		low, high := tc.clhr.lowHigh()
		if scl := tc.ref / ((low+high)*(div+1) + clkSyncOverhead); scl > tc.freq {
			t.Errorf("divider %d runs SCL at %d Hz, above %d", div, scl, tc.freq)
		}
	}

	if _, err := clockDivider(19000000, 0, ClockRatioStandard); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("zero frequency: got %v", err)
	}
	if _, err := clockDivider(19000000, 100, ClockRatioStandard); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("divider overflow: got %v", err)
	}
}

func TestFullTransaction(t *testing.T) {
	h := newHarness(nil)
	openBus(t, h, Bus0)

	dest := make([]byte, 2)
	err := h.reg.Launch(Request{
		Bus:     Bus0,
		Address: 0x40,
		Dest:    dest,
		Dir:     Read,
		Token:   1 << 3,
		Count:   2,
		Command: Si7021MeasureRHNoHold,
	})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if !h.reg.Busy(Bus0) {
		t.Fatal("bus not busy after launch")
	}
	if h.power.Count(EM2) != 1 {
		t.Errorf("expected one EM2 block, got %d", h.power.Count(EM2))
	}
	if !h.irq.enabled[Bus0] {
		t.Error("IRQ line not enabled by launch")
	}
	if h.regs[Bus0].r[RegIEN] != IENTransaction {
		t.Errorf("unexpected IEN 0x%x", h.regs[Bus0].r[RegIEN])
	}

	if err := h.reg.SendStart(Bus0); err != nil {
		t.Fatalf("SendStart failed: %v", err)
	}
	tx := h.regs[Bus0].written(RegTXDATA)
	if len(tx) != 1 || tx[0] != 0x81 {
		t.Fatalf("expected read header 0x81, TXDATA writes=%v", tx)
	}

	if err := h.complete(Bus0, 0x12, 0x34); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	if dest[0] != 0x12 || dest[1] != 0x34 {
		t.Errorf("expected result 0x1234, got 0x%02x%02x", dest[0], dest[1])
	}
	if h.reg.Busy(Bus0) {
		t.Error("bus still busy after MSTOP")
	}
	if h.reg.Remaining(Bus0) != 0 {
		t.Errorf("expected 0 bytes remaining, got %d", h.reg.Remaining(Bus0))
	}
	if h.reg.State(Bus0) != StateIdle {
		t.Errorf("expected idle, got %v", h.reg.State(Bus0))
	}
	if len(h.sub.tokens) != 1 || h.sub.tokens[0] != 1<<3 {
		t.Errorf("expected exactly one submission of token 8, got %v", h.sub.tokens)
	}
	if h.power.Count(EM2) != 0 {
		t.Errorf("EM2 block not released, count %d", h.power.Count(EM2))
	}
	if err := h.reg.Err(Bus0); err != nil {
		t.Errorf("unexpected recorded error %v", err)
	}
	if len(h.faults) != 0 {
		t.Errorf("unexpected faults %v", h.faults)
	}

	// command, repeated start + read header, final NACK then STOP
	tx = h.regs[Bus0].written(RegTXDATA)
	expectTX := []uint32{0x81, Si7021MeasureRHNoHold, 0x81}
	if len(tx) != len(expectTX) {
		t.Fatalf("TXDATA writes %v, expected %v", tx, expectTX)
	}
	for i := range tx {
		if tx[i] != expectTX[i] {
			t.Errorf("TXDATA write %d = 0x%x, expected 0x%x", i, tx[i], expectTX[i])
		}
	}
	f := h.regs[Bus0]
	if f.count(RegCMD, CmdAck) != 1 || f.count(RegCMD, CmdNack) != 1 || f.count(RegCMD, CmdStop) != 1 {
		t.Errorf("unexpected CMD writes %v", f.written(RegCMD))
	}

	// one settle delay for launch plus one per handled event
	if len(h.delays) != 1+3+2+1 {
		t.Errorf("expected 7 settle delays, got %d", len(h.delays))
	}
	for _, d := range h.delays {
		if d != 80*time.Millisecond {
			t.Errorf("unexpected settle delay %v", d)
		}
	}
}

func TestResultAssembledMostSignificantFirst(t *testing.T) {
	for count := 1; count <= 8; count++ {
		h := newHarness(nil)
		openBus(t, h, Bus1)

		data := make([]byte, count)
		for i := range data {
			data[i] = byte(0xA0 + i)
		}
		dest := make([]byte, count)
		for i := range dest {
			dest[i] = 0xFF // stale contents must not leak into the result
		}
		err := h.reg.Launch(Request{Bus: Bus1, Address: 0x40, Dest: dest, Token: 1, Count: uint8(count)})
		if err != nil {
			t.Fatalf("count %d: Launch failed: %v", count, err)
		}
		if err := h.complete(Bus1, data...); err != nil {
			t.Fatalf("count %d: transaction failed: %v", count, err)
		}
		for i := range data {
			if dest[i] != data[i] {
				t.Errorf("count %d: byte %d = 0x%02x, expected 0x%02x", count, i, dest[i], data[i])
			}
		}
		if acks := h.regs[Bus1].count(RegCMD, CmdAck); acks != count-1 {
			t.Errorf("count %d: expected %d ACKs, got %d", count, count-1, acks)
		}
	}
}

func TestNackInCommandTransmitRetransmitsCommand(t *testing.T) {
	h := newHarness(nil)
	openBus(t, h, Bus0)

	dest := make([]byte, 2)
	if err := h.reg.Launch(Request{Bus: Bus0, Address: 0x40, Dest: dest, Token: 1, Count: 2, Command: 0xF5}); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	steps := []uint32{IFAck, IFNack, IFAck, IFAck}
	for _, flags := range steps {
		if err := h.irq1(Bus0, flags); err != nil {
			t.Fatalf("flags 0x%x: %v", flags, err)
		}
	}
	h.regs[Bus0].receive(0x12)
	if err := h.reg.HandleIRQ(Bus0); err != nil {
		t.Fatal(err)
	}
	h.regs[Bus0].receive(0x34)
	if err := h.reg.HandleIRQ(Bus0); err != nil {
		t.Fatal(err)
	}
	if err := h.irq1(Bus0, IFMStop); err != nil {
		t.Fatal(err)
	}

	if dest[0] != 0x12 || dest[1] != 0x34 {
		t.Errorf("expected 0x1234, got 0x%02x%02x", dest[0], dest[1])
	}
	if n := h.regs[Bus0].count(RegTXDATA, 0xF5); n != 2 {
		t.Errorf("expected the command transmitted twice (one retry), got %d", n)
	}
	if n := h.regs[Bus0].count(RegCMD, CmdCont); n != 1 {
		t.Errorf("expected one CONT, got %d", n)
	}
	if h.reg.NackCount(Bus0) != 1 {
		t.Errorf("expected one NACK counted, got %d", h.reg.NackCount(Bus0))
	}
	if len(h.sub.tokens) != 1 || h.reg.Busy(Bus0) {
		t.Errorf("transaction did not complete cleanly: tokens=%v busy=%v", h.sub.tokens, h.reg.Busy(Bus0))
	}
}

func TestNackRetriesAddressingPhases(t *testing.T) {
	h := newHarness(nil)
	openBus(t, h, Bus0)
	dest := make([]byte, 1)
	if err := h.reg.Launch(Request{Bus: Bus0, Address: 0x40, Dest: dest, Token: 1, Count: 1, Command: 0xE0}); err != nil {
		t.Fatal(err)
	}
	f := h.regs[Bus0]

	// request resource: repeated start + write header
	if err := h.irq1(Bus0, IFNack); err != nil {
		t.Fatal(err)
	}
	tx := f.written(RegTXDATA)
	if tx[len(tx)-1] != 0x80 || f.count(RegCMD, CmdStart) != 1 {
		t.Errorf("expected START + write header retry, TXDATA=%v CMD=%v", tx, f.written(RegCMD))
	}

	// data request: repeated start + read header
	_ = h.irq1(Bus0, IFAck)
	_ = h.irq1(Bus0, IFAck)
	if err := h.irq1(Bus0, IFNack); err != nil {
		t.Fatal(err)
	}
	tx = f.written(RegTXDATA)
	if tx[len(tx)-1] != 0x81 || tx[len(tx)-2] != 0x81 {
		t.Errorf("expected read header re-sent, TXDATA=%v", tx)
	}
	if h.reg.State(Bus0) != StateDataRequest {
		t.Errorf("expected data request, got %v", h.reg.State(Bus0))
	}
}

func TestRetryLimitAbortsTransaction(t *testing.T) {
	h := newHarness(func(o *Options) { o.MaxRetries = 2 })
	openBus(t, h, Bus0)
	dest := make([]byte, 2)
	if err := h.reg.Launch(Request{Bus: Bus0, Address: 0x40, Dest: dest, Token: 4, Count: 2}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := h.irq1(Bus0, IFNack); err != nil {
			t.Fatalf("retry %d: %v", i, err)
		}
	}
	if err := h.irq1(Bus0, IFNack); !errors.Is(err, ErrRetryLimit) {
		t.Fatalf("expected ErrRetryLimit, got %v", err)
	}
	if h.reg.Busy(Bus0) {
		t.Error("aborted transaction still busy")
	}
	if h.power.Count(EM2) != 0 {
		t.Error("aborted transaction kept its EM2 block")
	}
	if len(h.sub.tokens) != 1 || h.sub.tokens[0] != 4 {
		t.Errorf("expected token 4 submitted on abort, got %v", h.sub.tokens)
	}
	if !errors.Is(h.reg.Err(Bus0), ErrRetryLimit) {
		t.Errorf("expected ErrRetryLimit recorded, got %v", h.reg.Err(Bus0))
	}

	// The bus is usable again
	if err := h.reg.Launch(Request{Bus: Bus0, Address: 0x40, Dest: dest, Token: 4, Count: 2}); err != nil {
		t.Fatalf("relaunch after abort failed: %v", err)
	}
	if h.reg.Err(Bus0) != nil {
		t.Error("relaunch did not clear the previous error")
	}
}

func TestRetryCounterResetsOnProgress(t *testing.T) {
	h := newHarness(func(o *Options) { o.MaxRetries = 1 })
	openBus(t, h, Bus0)
	dest := make([]byte, 1)
	if err := h.reg.Launch(Request{Bus: Bus0, Address: 0x40, Dest: dest, Token: 1, Count: 1}); err != nil {
		t.Fatal(err)
	}
	for _, flags := range []uint32{IFNack, IFAck, IFNack, IFAck, IFNack, IFAck} {
		if err := h.irq1(Bus0, flags); err != nil {
			t.Fatalf("flags 0x%x: %v", flags, err)
		}
	}
	if h.reg.State(Bus0) != StateDataReceive {
		t.Errorf("expected data receive, got %v", h.reg.State(Bus0))
	}
	if h.reg.NackCount(Bus0) != 3 {
		t.Errorf("expected 3 NACKs counted, got %d", h.reg.NackCount(Bus0))
	}
}

func TestProtocolViolationReported(t *testing.T) {
	h := newHarness(nil)
	openBus(t, h, Bus1)
	dest := make([]byte, 2)
	if err := h.reg.Launch(Request{Bus: Bus1, Address: 0x40, Dest: dest, Token: 1, Count: 2}); err != nil {
		t.Fatal(err)
	}

	h.regs[Bus1].receive(0x55)
	err := h.reg.HandleIRQ(Bus1)
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("expected violation, got %v", err)
	}
	var v *ViolationError
	if !errors.As(err, &v) {
		t.Fatalf("expected *ViolationError, got %T", err)
	}
	if v.Bus != Bus1 || v.State != StateRequestResource || v.Event != EventRxData {
		t.Errorf("unexpected violation context %+v", v)
	}
	if len(h.faults) != 1 {
		t.Errorf("expected fault hook called once, got %d", len(h.faults))
	}
	if h.reg.State(Bus1) != StateRequestResource {
		t.Errorf("violation changed state to %v", h.reg.State(Bus1))
	}
}

func TestDefaultFaultHandlerHalts(t *testing.T) {
	r := NewRegistry(DefaultOptions(), newFakeRegs(), nil)
	r.opts.Delay = func(time.Duration) {}
	if err := r.Open(Bus0, testOpenConfig); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Error("expected panic from the default fault handler")
		}
	}()
	regs := r.regs[Bus0].(*fakeRegs)
	regs.r[RegIEN] = IENTransaction
	regs.raise(IFMStop)
	_ = r.HandleIRQ(Bus0) // MSTOP while idle
}

func TestDispatchRunsAllPendingHandlersInOrder(t *testing.T) {
	h := newHarness(nil)
	openBus(t, h, Bus0)
	dest := make([]byte, 1)
	if err := h.reg.Launch(Request{Bus: Bus0, Address: 0x40, Dest: dest, Token: 2, Count: 1}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		_ = h.irq1(Bus0, IFAck)
	}

	// last byte and MSTOP delivered together: RXDATAV must run before MSTOP
	h.regs[Bus0].rx = append(h.regs[Bus0].rx, 0x99)
	if err := h.irq1(Bus0, IFRXDataV|IFMStop); err != nil {
		t.Fatalf("combined dispatch failed: %v", err)
	}
	if dest[0] != 0x99 || h.reg.Busy(Bus0) || len(h.sub.tokens) != 1 {
		t.Errorf("combined dispatch incomplete: dest=0x%02x busy=%v tokens=%v", dest[0], h.reg.Busy(Bus0), h.sub.tokens)
	}
}

func TestDispatchIgnoresDisabledFlags(t *testing.T) {
	h := newHarness(nil)
	openBus(t, h, Bus0)
	dest := make([]byte, 1)
	if err := h.reg.Launch(Request{Bus: Bus0, Address: 0x40, Dest: dest, Token: 2, Count: 1}); err != nil {
		t.Fatal(err)
	}
	if err := h.irq1(Bus0, IFTXBL|IFAck); err != nil {
		t.Fatal(err)
	}
	if h.reg.State(Bus0) != StateCommandTransmit {
		t.Errorf("expected command transmit, got %v", h.reg.State(Bus0))
	}
	if h.regs[Bus0].r[RegIF]&IFTXBL == 0 {
		t.Error("disabled flag was cleared by dispatch")
	}
	if h.irq.disables[Bus0] != 1 || !h.irq.enabled[Bus0] {
		t.Errorf("handler did not mask and unmask its line: disables=%d enabled=%v",
			h.irq.disables[Bus0], h.irq.enabled[Bus0])
	}
}

func TestLaunchValidation(t *testing.T) {
	h := newHarness(nil)
	dest := make([]byte, 2)

	if err := h.reg.Launch(Request{Bus: Bus0, Dest: dest, Count: 1}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("unopened bus: got %v", err)
	}
	openBus(t, h, Bus0)

	testCases := []struct {
		name string
		req  Request
		err  error
	}{
		{"zero count", Request{Bus: Bus0, Address: 0x40, Dest: dest, Count: 0}, ErrInvalidCount},
		{"short buffer", Request{Bus: Bus0, Address: 0x40, Dest: dest, Count: 3}, ErrShortBuffer},
		{"wide address", Request{Bus: Bus0, Address: 0x80, Dest: dest, Count: 2}, ErrInvalidAddress},
		{"bad bus", Request{Bus: BusID(7), Address: 0x40, Dest: dest, Count: 2}, ErrInvalidBus},
	}
	for _, tc := range testCases {
		if err := h.reg.Launch(tc.req); !errors.Is(err, tc.err) {
			t.Errorf("%s: got %v, expected %v", tc.name, err, tc.err)
		}
	}
	if h.power.Count(EM2) != 0 || h.reg.Busy(Bus0) {
		t.Error("rejected launch left state behind")
	}
}

func TestLaunchRejectsBusyPeripheral(t *testing.T) {
	h := newHarness(nil)
	openBus(t, h, Bus0)
	h.regs[Bus0].r[RegSTATE] = BusStateStart | BusStateBusy

	err := h.reg.Launch(Request{Bus: Bus0, Address: 0x40, Dest: make([]byte, 2), Count: 2})
	if !errors.Is(err, ErrBusNotIdle) {
		t.Fatalf("expected ErrBusNotIdle, got %v", err)
	}
	if h.reg.Busy(Bus0) {
		t.Error("busy left set after failed launch")
	}
	if h.power.Count(EM2) != 0 {
		t.Error("EM2 block leaked by failed launch")
	}
}

func TestLaunchWaitsForPreviousTransaction(t *testing.T) {
	var h *harness
	yields := 0
	h = newHarness(func(o *Options) {
		o.Yield = func() {
			yields++
			// the interrupt side finishes the first transaction while we wait
			if err := h.complete(Bus0, 0x01, 0x02); err != nil {
				t.Fatalf("completing first transaction: %v", err)
			}
		}
	})
	openBus(t, h, Bus0)

	first := make([]byte, 2)
	if err := h.reg.Launch(Request{Bus: Bus0, Address: 0x40, Dest: first, Token: 1, Count: 2}); err != nil {
		t.Fatal(err)
	}
	second := make([]byte, 2)
	if err := h.reg.Launch(Request{Bus: Bus0, Address: 0x41, Dest: second, Token: 2, Count: 2}); err != nil {
		t.Fatal(err)
	}

	if yields != 1 {
		t.Errorf("expected one wait iteration, got %d", yields)
	}
	if first[0] != 0x01 || first[1] != 0x02 {
		t.Errorf("first transaction result corrupted: %v", first)
	}
	if !h.reg.Busy(Bus0) || h.reg.State(Bus0) != StateRequestResource {
		t.Error("second transaction not armed")
	}
	if h.power.Count(EM2) != 1 {
		t.Errorf("expected exactly the second transaction's block, got %d", h.power.Count(EM2))
	}
}

func TestLaunchTimeout(t *testing.T) {
	h := newHarness(func(o *Options) {
		o.LaunchTimeout = time.Millisecond
		o.Yield = func() { time.Sleep(100 * time.Microsecond) }
	})
	openBus(t, h, Bus0)

	dest := make([]byte, 2)
	if err := h.reg.Launch(Request{Bus: Bus0, Address: 0x40, Dest: dest, Token: 1, Count: 2}); err != nil {
		t.Fatal(err)
	}
	err := h.reg.Launch(Request{Bus: Bus0, Address: 0x40, Dest: dest, Token: 2, Count: 2})
	if !errors.Is(err, ErrLaunchTimeout) {
		t.Fatalf("expected ErrLaunchTimeout, got %v", err)
	}
	if h.power.Count(EM2) != 1 {
		t.Errorf("timed out launch leaked its block: count %d", h.power.Count(EM2))
	}
}

func TestBusesAreIndependent(t *testing.T) {
	h := newHarness(nil)
	openBus(t, h, Bus0)
	openBus(t, h, Bus1)

	a := make([]byte, 2)
	b := make([]byte, 2)
	if err := h.reg.Launch(Request{Bus: Bus0, Address: 0x40, Dest: a, Token: 1, Count: 2}); err != nil {
		t.Fatal(err)
	}
	if err := h.reg.Launch(Request{Bus: Bus1, Address: 0x40, Dest: b, Token: 2, Count: 2}); err != nil {
		t.Fatal(err)
	}

	// interleave the two buses event by event
	for i := 0; i < 3; i++ {
		if err := h.irq1(Bus0, IFAck); err != nil {
			t.Fatal(err)
		}
		if err := h.irq1(Bus1, IFAck); err != nil {
			t.Fatal(err)
		}
	}
	for i, pair := range [][2]byte{{0xAA, 0x11}, {0xBB, 0x22}} {
		h.regs[Bus0].receive(pair[0])
		h.regs[Bus1].receive(pair[1])
		if err := h.reg.HandleIRQ(Bus1); err != nil {
			t.Fatalf("byte %d bus1: %v", i, err)
		}
		if err := h.reg.HandleIRQ(Bus0); err != nil {
			t.Fatalf("byte %d bus0: %v", i, err)
		}
	}
	if err := h.irq1(Bus1, IFMStop); err != nil {
		t.Fatal(err)
	}
	if !h.reg.Busy(Bus0) || h.reg.Busy(Bus1) {
		t.Error("completing bus 1 affected bus 0")
	}
	if err := h.irq1(Bus0, IFMStop); err != nil {
		t.Fatal(err)
	}

	if a[0] != 0xAA || a[1] != 0xBB || b[0] != 0x11 || b[1] != 0x22 {
		t.Errorf("results mixed between buses: a=%x b=%x", a, b)
	}
	if len(h.sub.tokens) != 2 || h.sub.tokens[0] != 2 || h.sub.tokens[1] != 1 {
		t.Errorf("unexpected token order %v", h.sub.tokens)
	}
	if h.power.Count(EM2) != 0 {
		t.Errorf("blocks not balanced: %d", h.power.Count(EM2))
	}
}

func TestSendHelpers(t *testing.T) {
	h := newHarness(nil)
	if err := h.reg.SendStop(Bus0); !errors.Is(err, ErrNotOpen) {
		t.Errorf("SendStop before open: got %v", err)
	}
	openBus(t, h, Bus0)
	if err := h.reg.Launch(Request{Bus: Bus0, Address: 0x27, Dest: make([]byte, 1), Dir: Write, Count: 1}); err != nil {
		t.Fatal(err)
	}
	f := h.regs[Bus0]
	n := len(f.writes)

	_ = h.reg.SendStart(Bus0)
	_ = h.reg.SendCommand(Bus0, 0xE0)
	_ = h.reg.SendStop(Bus0)

	expect := []regWrite{
		{RegCMD, CmdStart},
		{RegTXDATA, 0x4E},
		{RegTXDATA, 0xE0},
		{RegCMD, CmdStop},
	}
	got := f.writes[n:]
	if len(got) != len(expect) {
		t.Fatalf("writes %v, expected %v", got, expect)
	}
	for i := range expect {
		if got[i] != expect[i] {
			t.Errorf("write %d = %+v, expected %+v", i, got[i], expect[i])
		}
	}
}

func TestHeader(t *testing.T) {
	if Header(0x40, Write) != 0x80 || Header(0x40, Read) != 0x81 || Header(0x7F, Read) != 0xFF {
		t.Error("header does not place address in the upper seven bits")
	}
}
