// Si7021 relative humidity sampling on top of the interrupt-driven bus
package core

import "time"

// Si7021 bus constants
const (
	Si7021Address          = 0x40
	Si7021MeasureRHNoHold  = 0xF5 // measure RH, no hold master mode
	Si7021MeasureTmpNoHold = 0xF3 // measure temperature, no hold master mode
	Si7021ReadTempFromRH   = 0xE0 // temperature captured during the last RH measurement
	Si7021ResultBytes      = 2    // MSB, LSB (checksum not requested)
)

// Si7021DeciRH converts a raw humidity code to tenths of %RH, clamped to 0..100%.
// RH = 125 * code / 65536 - 6
func Si7021DeciRH(code uint16) int32 {
	rh := int32((1250*uint32(code))>>16) - 60
	if rh < 0 {
		return 0
	}
	if rh > 1000 {
		return 1000
	}
	return rh
}

// Si7021DeciCelsius converts a raw temperature code to tenths of a degree.
// T = 175.72 * code / 65536 - 46.85
func Si7021DeciCelsius(code uint16) int32 {
	return (int32((17572*uint64(code))>>16) - 4685) / 10
}

// HumidityConfig configures periodic sampling of one sensor.
type HumidityConfig struct {
	Bus     BusID
	Address uint8         // defaults to Si7021Address
	Command uint8         // defaults to Si7021MeasureRHNoHold
	Token   Token         // completion token; must be a single bit
	Period  time.Duration // time between measurements

	// AlertDeciRH flags readings at or above this humidity; zero disables.
	AlertDeciRH int32
}

// Reading is one completed humidity measurement.
type Reading struct {
	Bus    BusID
	Code   uint16 // raw sensor code
	DeciRH int32  // tenths of %RH
	Alert  bool   // DeciRH reached the configured alert level
	Err    error  // transaction fault, if any
}

// HumidityMonitor launches a measurement every period from the scheduler's
// timer list and reports each result from the main loop once its completion
// token comes back.
type HumidityMonitor struct {
	reg    *Registry
	sched  *Scheduler
	cfg    HumidityConfig
	period uint32
	timer  Timer
	buf    [Si7021ResultBytes]byte

	// Report is called from Service with every finished measurement.
	Report func(Reading)

	launched  uint32
	completed uint32
	failed    uint32
}

// NewHumidityMonitor binds a monitor to a registry and scheduler.
func NewHumidityMonitor(reg *Registry, sched *Scheduler, cfg HumidityConfig) *HumidityMonitor {
	if cfg.Address == 0 {
		cfg.Address = Si7021Address
	}
	if cfg.Command == 0 {
		cfg.Command = Si7021MeasureRHNoHold
	}
	period := TimerFromDuration(cfg.Period)
	if period == 0 {
		period = 1
	}
	m := &HumidityMonitor{
		reg:    reg,
		sched:  sched,
		cfg:    cfg,
		period: period,
		Report: func(Reading) {},
	}
	m.timer.Handler = m.sampleEvent
	return m
}

// Start schedules the first measurement at tick now.
func (m *HumidityMonitor) Start(now uint32) {
	m.sched.CancelTimer(&m.timer)
	m.timer.WakeTime = now
	m.sched.ScheduleTimer(&m.timer)
}

// Stop cancels further measurements. One already in flight still completes.
func (m *HumidityMonitor) Stop() {
	m.sched.CancelTimer(&m.timer)
}

// sampleEvent is the timer callback that starts a measurement
func (m *HumidityMonitor) sampleEvent(t *Timer) uint8 {
	if err := m.Measure(); err != nil {
		m.failed++
		DebugPrintln("[RH] launch failed: " + err.Error())
		m.Report(Reading{Bus: m.cfg.Bus, Err: err})
	}
	t.WakeTime += m.period
	return SF_RESCHEDULE
}

// Measure launches one humidity measurement and sends the write header.
func (m *HumidityMonitor) Measure() error {
	err := m.reg.Launch(Request{
		Bus:     m.cfg.Bus,
		Address: m.cfg.Address,
		Dest:    m.buf[:],
		Dir:     Write,
		Token:   m.cfg.Token,
		Count:   Si7021ResultBytes,
		Command: m.cfg.Command,
	})
	if err != nil {
		return err
	}
	m.launched++
	return m.reg.SendStart(m.cfg.Bus)
}

// Service reports a finished measurement if its token is pending.
// Call it from the main loop; it returns true when a reading was reported.
func (m *HumidityMonitor) Service() bool {
	if !m.sched.Take(m.cfg.Token) {
		return false
	}

	rd := Reading{Bus: m.cfg.Bus}
	if err := m.reg.Err(m.cfg.Bus); err != nil {
		m.failed++
		rd.Err = err
		DebugPrintln("[RH] bus " + utoa(uint32(m.cfg.Bus)) + " failed: " + err.Error())
	} else {
		m.completed++
		rd.Code = uint16(m.buf[0])<<8 | uint16(m.buf[1])
		rd.DeciRH = Si7021DeciRH(rd.Code)
		rd.Alert = m.cfg.AlertDeciRH > 0 && rd.DeciRH >= m.cfg.AlertDeciRH
		DebugPrintln("[RH] bus " + utoa(uint32(m.cfg.Bus)) + " rh=" + deci(rd.DeciRH) + "%")
	}
	m.Report(rd)
	return true
}

// Stats returns launched, completed and failed measurement counts.
func (m *HumidityMonitor) Stats() (launched, completed, failed uint32) {
	return m.launched, m.completed, m.failed
}
