package core

// BusID identifies one of the two I2C master peripherals (I2C0, I2C1).
type BusID uint8

const (
	Bus0 BusID = iota
	Bus1

	NumBuses = 2
)

// Valid reports whether the bus ID names a physical peripheral.
func (b BusID) Valid() bool {
	return b < NumBuses
}

// Register is the byte offset of an I2C peripheral register (EFM32 series 1 layout).
type Register uint16

const (
	RegCTRL      Register = 0x000
	RegCMD       Register = 0x004
	RegSTATE     Register = 0x008
	RegSTATUS    Register = 0x00C
	RegCLKDIV    Register = 0x010
	RegRXDATA    Register = 0x01C
	RegTXDATA    Register = 0x02C
	RegIF        Register = 0x034
	RegIFS       Register = 0x038
	RegIFC       Register = 0x03C
	RegIEN       Register = 0x040
	RegROUTEPEN  Register = 0x044
	RegROUTELOC0 Register = 0x048
)

// Registers is the abstract register block of a single I2C peripheral.
// Platform code maps it onto memory-mapped I/O; tests and the host simulator
// provide in-memory implementations.
//
// Writes to IFS/IFC set/clear bits in IF. Reading RXDATA pops the receive buffer.
type Registers interface {
	Read(reg Register) uint32
	Write(reg Register, value uint32)
}

// CMD register bits
const (
	CmdStart   = 1 << 0
	CmdStop    = 1 << 1
	CmdAck     = 1 << 2
	CmdNack    = 1 << 3
	CmdCont    = 1 << 4
	CmdAbort   = 1 << 5
	CmdClearTX = 1 << 6
	CmdClearPC = 1 << 7
)

// IF/IFS/IFC/IEN bits
const (
	IFStart   = 1 << 0
	IFRStart  = 1 << 1
	IFAddr    = 1 << 2
	IFTXC     = 1 << 3
	IFTXBL    = 1 << 4
	IFRXDataV = 1 << 5
	IFAck     = 1 << 6
	IFNack    = 1 << 7
	IFMStop   = 1 << 8
	IFArbLost = 1 << 9
	IFBusErr  = 1 << 10
	IFBusHold = 1 << 11
	IFTXOF    = 1 << 12
	IFRXUF    = 1 << 13
	IFBITO    = 1 << 14
	IFCLTO    = 1 << 15
	IFSStop   = 1 << 16
	IFRXFull  = 1 << 17
	IFCLErr   = 1 << 18

	// IFMask covers every implemented flag.
	IFMask = 0x7FFFF

	// IENTransaction is the set of interrupts the transaction state machine consumes.
	IENTransaction = IFAck | IFNack | IFRXDataV | IFMStop
)

// CTRL register fields
const (
	CtrlEnable    = 1 << 0
	CtrlSlave     = 1 << 1
	CtrlAutoAck   = 1 << 2
	CtrlCLHRShift = 8
	CtrlCLHRMask  = 0x3 << CtrlCLHRShift
	ClkDivMask    = 0x1FF
)

// STATE register fields
const (
	BusStateBusy  = 1 << 0
	BusStateMask  = 0x7 << 5
	BusStateIdle  = 0 << 5
	BusStateStart = 1 << 5
)

// ROUTEPEN / ROUTELOC0 fields
const (
	RouteSDAPen       = 1 << 0
	RouteSCLPen       = 1 << 1
	RouteSDALocShift  = 0
	RouteSCLLocShift  = 8
	RouteLocFieldMask = 0x1F
)

// ClockRatio selects the SCL low:high ratio (CTRL.CLHR).
type ClockRatio uint8

const (
	ClockRatioStandard   ClockRatio = iota // 4:4
	ClockRatioAsymmetric                   // 6:3
	ClockRatioFast                         // 11:6
)

// lowHigh returns the number of reference clock periods spent low and high per SCL cycle.
func (r ClockRatio) lowHigh() (uint32, uint32) {
	switch r {
	case ClockRatioAsymmetric:
		return 6, 3
	case ClockRatioFast:
		return 11, 6
	default:
		return 4, 4
	}
}

// Direction is the R/W bit placed in the low bit of an address header.
type Direction uint8

const (
	Write Direction = 0
	Read  Direction = 1
)

// Header builds the 8-bit address header for a 7-bit address.
func Header(addr uint8, dir Direction) uint32 {
	return uint32(addr)<<1 | uint32(dir&1)
}

// InterruptController enables and disables a bus's interrupt line at the NVIC.
type InterruptController interface {
	EnableIRQ(bus BusID)
	DisableIRQ(bus BusID)
}

// ClockGate turns on the peripheral clock feeding a bus.
type ClockGate interface {
	EnableClock(bus BusID)
}
