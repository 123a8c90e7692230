//go:build efm32pg12

// Firmware for the EFM32 Pearl Gecko starter kit: samples the on-board Si7021
// over I2C from interrupt context and streams readings to the VCOM port.
package main

import (
	"device/arm"

	"geckosense/config"
	"geckosense/core"
	"geckosense/station"
)

func main() {
	cfg := config.DefaultConfig()

	enableGPIOClock()
	initLEDs()
	vcom := initVCOM(cfg.RefClockHz)

	// debug text shares the report UART; the host decoder skips it
	core.SetDebugWriter(func(s string) {
		vcom.Write([]byte(s + "\r\n"))
	})

	st, err := station.New(cfg, station.Platform{
		Registers: [core.NumBuses]core.Registers{
			mmioRegisters{base: i2c0Base},
			mmioRegisters{base: i2c1Base},
		},
		IRQ:   nvic{},
		Clock: cmu{},
	}, vcom)
	if err != nil {
		halt()
	}
	installHandlers(st.Reg)

	if err := st.Start(core.GetTime()); err != nil {
		core.DumpTraceRing()
		halt()
	}

	for {
		_, err := st.Poll(core.GetTime())
		_, _, failed := st.Stats()
		driveLEDs(st.Alert(), failed > 0 || err != nil)

		// deeper modes stop the SysTick the scheduler runs on
		if st.Power.Lowest() >= core.EM1 {
			arm.Asm("wfi")
		}
	}
}

// halt leaves both LEDs on.
func halt() {
	driveLEDs(true, true)
	for {
		arm.Asm("wfi")
	}
}
