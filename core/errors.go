package core

import "errors"

var (
	// Interrupt-context faults
	ErrProtocolViolation = errors.New("i2c: protocol violation")
	ErrRetryLimit        = errors.New("i2c: nack retry limit reached")

	// Bounded waits
	ErrBusResetTimeout = errors.New("i2c: bus reset timeout")
	ErrLaunchTimeout   = errors.New("i2c: bus busy timeout")

	// Hardware checks
	ErrBusNotIdle   = errors.New("i2c: peripheral not idle")
	ErrFlagsStuck   = errors.New("i2c: interrupt flags did not clear")
	ErrFlagSelfTest = errors.New("i2c: start flag self test failed")

	// Usage
	ErrInvalidBus     = errors.New("i2c: invalid bus")
	ErrNotOpen        = errors.New("i2c: bus not open")
	ErrAlreadyOpen    = errors.New("i2c: bus already open")
	ErrInvalidCount   = errors.New("i2c: byte count must be at least 1")
	ErrShortBuffer    = errors.New("i2c: destination shorter than byte count")
	ErrInvalidAddress = errors.New("i2c: address exceeds 7 bits")
	ErrInvalidConfig  = errors.New("i2c: invalid bus configuration")
	ErrUnsupported    = errors.New("i2c: unsupported")
)

// ViolationError reports a hardware event delivered in a state that does not expect it.
type ViolationError struct {
	Bus   BusID
	State State
	Event Event
}

func (e *ViolationError) Error() string {
	return "i2c: protocol violation: bus " + utoa(uint32(e.Bus)) +
		" got " + e.Event.String() + " in " + e.State.String()
}

func (e *ViolationError) Unwrap() error { return ErrProtocolViolation }
