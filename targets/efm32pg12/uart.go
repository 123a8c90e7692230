//go:build efm32pg12

package main

// USART0 registers
const (
	usartCtrl     = usart0Base + 0x000
	usartFrame    = usart0Base + 0x004
	usartCmd      = usart0Base + 0x00C
	usartStatus   = usart0Base + 0x010
	usartClkdiv   = usart0Base + 0x014
	usartTxdata   = usart0Base + 0x034
	usartRoutepen = usart0Base + 0x074
	usartRouteloc = usart0Base + 0x078

	usartCmdTxEn     = 1 << 2
	usartStatusTxBL  = 1 << 6
	usartFrame8N1    = 0x1005
	usartRouteTxPen  = 1 << 1
	usartOversample4 = 3 << 5

	vcomTxPin = 0 // PA0
	vcomBaud  = 115200
)

// vcomPort writes report frames to the board controller's virtual COM port.
type vcomPort struct{}

func initVCOM(refHz uint32) vcomPort {
	pinOutput(portA, vcomTxPin)
	pinSet(portA, vcomTxPin, true)
	pinOutput(portA, vcomEnable)
	pinSet(portA, vcomEnable, true)

	mmio(cmuHFPERCLKEN0).SetBits(perClockUSART0)
	mmio(usartCtrl).Set(usartOversample4)
	mmio(usartFrame).Set(usartFrame8N1)
	// CLKDIV = 256 * (ref / (oversample * baud) - 1), oversample 4
	mmio(usartClkdiv).Set(uint32(256*uint64(refHz)/(4*vcomBaud)-256) &^ 0x7)
	mmio(usartRouteloc).Set(0)
	mmio(usartRoutepen).Set(usartRouteTxPen)
	mmio(usartCmd).Set(usartCmdTxEn)
	return vcomPort{}
}

// Write implements io.Writer, spinning on the transmit buffer level.
func (vcomPort) Write(p []byte) (int, error) {
	for _, b := range p {
		for !mmio(usartStatus).HasBits(usartStatusTxBL) {
		}
		mmio(usartTxdata).Set(uint32(b))
	}
	return len(p), nil
}
