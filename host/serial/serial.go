// Package serial opens the board's virtual COM port on the host.
package serial

import (
	"io"
)

// Port is a serial connection to the board. The monitor only reads, but the
// port stays writable for tools that talk back.
type Port interface {
	io.ReadWriteCloser

	// Flush discards bytes received but not yet read.
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate of the board's report UART
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultBaud matches the firmware's report UART.
const DefaultBaud = 115200

// DefaultConfig returns the configuration for the starter kit's VCOM port.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100,
	}
}
