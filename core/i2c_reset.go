package core

import "time"

// BusReset forces a peripheral back to an idle, interrupt-quiescent state
// regardless of what it was doing. The order of register accesses follows the
// peripheral reference manual's bus reset sequence.
//
// The wait for the synthetic STOP is bounded by timeout; zero waits forever.
// On timeout the closing abort and IEN restore still happen before
// ErrBusResetTimeout is returned.
func BusReset(regs Registers, timeout time.Duration) error {
	// Abort whatever is in progress so the bus goes idle
	regs.Write(RegCMD, CmdAbort)

	ien := regs.Read(RegIEN)
	regs.Write(RegIEN, 0)

	regs.Write(RegIFC, IFMask)
	if regs.Read(RegIF)&IFMask != 0 {
		// Leave the mask as we found it; the caller decides whether to halt.
		regs.Write(RegIEN, ien)
		return ErrFlagsStuck
	}

	regs.Write(RegCMD, CmdClearTX)
	regs.Write(RegIFC, IFMStop)

	// START+STOP together clocks the bus through a full frame
	regs.Write(RegCMD, CmdStart|CmdStop)

	var err error
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for regs.Read(RegIF)&IFMStop == 0 {
		if timeout > 0 && time.Now().After(deadline) {
			err = ErrBusResetTimeout
			break
		}
	}

	// Flags raised by the synthetic START/STOP must not leak into the next transaction
	regs.Write(RegIFC, IFMask)

	regs.Write(RegCMD, CmdAbort)
	regs.Write(RegIEN, ien)

	return err
}
