//go:build efm32pg12

package main

// GPIO port layout
const (
	gpioPortStride = 0x30
	gpioModeL      = 0x04
	gpioDout       = 0x0C

	gpioModePushPull = 4

	portA = 0
	portF = 5
)

// Starter kit LEDs and the VCOM enable line
const (
	led0Pin    = 4 // PF4
	led1Pin    = 5 // PF5
	vcomEnable = 5 // PA5
)

func pinOutput(port, pin uintptr) {
	mode := mmio(gpioBase + port*gpioPortStride + gpioModeL)
	shift := pin * 4
	mode.Set(mode.Get()&^(0xF<<shift) | gpioModePushPull<<shift)
}

func pinSet(port, pin uintptr, high bool) {
	dout := mmio(gpioBase + port*gpioPortStride + gpioDout)
	if high {
		dout.SetBits(1 << pin)
	} else {
		dout.ClearBits(1 << pin)
	}
}

func initLEDs() {
	pinOutput(portF, led0Pin)
	pinOutput(portF, led1Pin)
	driveLEDs(false, false)
}

// driveLEDs shows the humidity alert on LED0 and a bus fault on LED1.
func driveLEDs(alert, fault bool) {
	pinSet(portF, led0Pin, alert)
	pinSet(portF, led1Pin, fault)
}
