// Package station runs the sampling loop shared by the firmware and the host
// simulator: it opens the configured buses, samples each sensor from the
// scheduler and streams every result as a report frame.
package station

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"geckosense/config"
	"geckosense/core"
	"geckosense/protocol"
)

// ErrNoRegisters is returned when a configured bus has no register block.
var ErrNoRegisters = errors.New("station: bus has no registers")

// Platform is what the board provides to the station.
type Platform struct {
	Registers [core.NumBuses]core.Registers
	IRQ       core.InterruptController
	Clock     core.ClockGate

	// Delay overrides the settle delay implementation; nil spins.
	Delay func(time.Duration)
}

// Station owns the registry, scheduler and monitors of one board.
type Station struct {
	Reg   *core.Registry
	Sched *core.Scheduler
	Power *core.SleepBlocker

	cfg      *config.BoardConfig
	monitors []*core.HumidityMonitor
	alert    [core.NumBuses]bool

	sink io.Writer
	out  *protocol.ScratchOutput
	enc  *protocol.Encoder
	err  error // first sink error, reported from Poll

	faults    uint32       // atomic; raised from interrupt context
	lastFault atomic.Value // faultRecord

	// OnReading sees every reading before it is framed.
	OnReading func(core.Reading)
}

// New wires a station for cfg. Frames are written to sink.
func New(cfg *config.BoardConfig, plat Platform, sink io.Writer) (*Station, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Station{
		Sched:     &core.Scheduler{},
		Power:     &core.SleepBlocker{},
		cfg:       cfg,
		sink:      sink,
		out:       protocol.NewScratchOutput(),
		OnReading: func(core.Reading) {},
	}
	s.enc = protocol.NewEncoder(s.out)

	opts := cfg.Options()
	opts.Power = s.Power
	opts.Scheduler = s.Sched
	opts.IRQ = plat.IRQ
	opts.Clock = plat.Clock
	opts.Fault = s.fault
	if plat.Delay != nil {
		opts.Delay = plat.Delay
	}
	s.Reg = core.NewRegistry(opts, plat.Registers[core.Bus0], plat.Registers[core.Bus1])

	for _, bus := range cfg.Buses {
		if plat.Registers[bus.Bus] == nil {
			return nil, fmt.Errorf("bus %d: %w", bus.Bus, ErrNoRegisters)
		}
		m := core.NewHumidityMonitor(s.Reg, s.Sched, bus.HumidityConfig())
		m.Report = s.report
		s.monitors = append(s.monitors, m)
	}

	core.SetDebugEnabled(cfg.Debug)
	return s, nil
}

// faultRecord gives atomic.Value one concrete type whatever the error is.
type faultRecord struct {
	bus core.BusID
	err error
}

// fault runs in interrupt context, so it only records.
func (s *Station) fault(bus core.BusID, err error) {
	s.lastFault.Store(faultRecord{bus, err})
	atomic.AddUint32(&s.faults, 1)
}

// Start opens every bus, announces the firmware and schedules the first
// measurement on each bus at tick now.
func (s *Station) Start(now uint32) error {
	for _, bus := range s.cfg.Buses {
		oc, err := bus.OpenConfig(s.cfg.RefClockHz)
		if err != nil {
			return fmt.Errorf("bus %d: %w", bus.Bus, err)
		}
		if err := s.Reg.Open(core.BusID(bus.Bus), oc); err != nil {
			return fmt.Errorf("bus %d: %w", bus.Bus, err)
		}
	}

	s.emit(protocol.Identify{Version: protocol.Version})
	for _, m := range s.monitors {
		m.Start(now)
	}
	return s.flush()
}

// Stop cancels further measurements.
func (s *Station) Stop() {
	for _, m := range s.monitors {
		m.Stop()
	}
}

// Poll runs due timers and reports finished measurements. It returns the
// number of readings reported.
func (s *Station) Poll(now uint32) (int, error) {
	core.SetTime(now)
	s.Sched.Dispatch(now)

	n := 0
	for _, m := range s.monitors {
		if m.Service() {
			n++
		}
	}

	if atomic.SwapUint32(&s.faults, 0) > 0 {
		if f, ok := s.lastFault.Load().(faultRecord); ok {
			core.DebugPrintln("[STATION] bus " + strconv.Itoa(int(f.bus)) + " fault: " + f.err.Error())
		}
		s.dumpTrace()
	}
	return n, s.flush()
}

func (s *Station) report(rd core.Reading) {
	s.OnReading(rd)
	s.alert[rd.Bus] = rd.Err == nil && rd.Alert
	s.emit(protocol.ReadingReport(rd, core.GetTime(), s.Reg.NackCount(rd.Bus)))
	if rd.Err != nil {
		s.dumpTrace()
	}
}

// dumpTrace sends the trace ring and clears it.
func (s *Station) dumpTrace() {
	core.DumpTraceRing()
	for _, rep := range protocol.TraceReports(core.TraceEvents()) {
		s.emit(rep)
	}
	core.ClearTraceRing()
}

// emit frames one report into the scratch buffer; Poll writes it out.
func (s *Station) emit(rep protocol.Report) {
	if s.out.Free() < protocol.MessageLengthMax {
		if err := s.flush(); err != nil {
			s.err = err
			return
		}
	}
	if err := s.enc.EncodeFrame(rep.Encode); err != nil && s.err == nil {
		s.err = err
	}
}

func (s *Station) flush() error {
	if data := s.out.Result(); len(data) > 0 {
		if _, err := s.sink.Write(data); err != nil && s.err == nil {
			s.err = err
		}
		s.out.Reset()
	}
	err := s.err
	s.err = nil
	return err
}

// Alert reports whether the latest reading on any bus reached its alert level.
func (s *Station) Alert() bool {
	for _, a := range s.alert {
		if a {
			return true
		}
	}
	return false
}

// Stats sums launched, completed and failed measurements over all buses.
func (s *Station) Stats() (launched, completed, failed uint32) {
	for _, m := range s.monitors {
		l, c, f := m.Stats()
		launched += l
		completed += c
		failed += f
	}
	return
}
