package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TraceEvent captures one bus event for post-mortem analysis
type TraceEvent struct {
	Kind  uint8  // Trace* code
	Bus   uint8  // Bus the event belongs to
	State uint8  // Transaction state when the event was recorded
	Clock uint32 // System ticks at event
	Value uint32 // Context-dependent value (received byte, token, error flag)
}

// Trace kind codes
const (
	TraceLaunch = 1 // transaction armed
	TraceAck    = 2 // ACK handled
	TraceNack   = 3 // NACK handled (retry)
	TraceRx     = 4 // data byte stored
	TraceStop   = 5 // MSTOP handled, transaction finished
	TraceReset  = 6 // bus reset performed
	TraceFault  = 7 // violation, timeout or retry limit
	TraceSubmit = 8 // completion token submitted
)

const (
	TraceRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	traceRing     [TraceRingSize]TraceEvent
	traceRingHead uint8
	traceEnabled  bool = true
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, SWO, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// SetTraceEnabled turns trace capture on or off
func SetTraceEnabled(enabled bool) {
	traceEnabled = enabled
}

// RecordTrace captures a bus event in the ring buffer. Non-blocking and
// allocation free, so it is safe from interrupt handlers.
func RecordTrace(kind, bus, state uint8, value uint32) {
	if !traceEnabled {
		return
	}
	s := disableInterrupts()
	idx := traceRingHead
	traceRing[idx] = TraceEvent{
		Kind:  kind,
		Bus:   bus,
		State: state,
		Clock: GetTime(),
		Value: value,
	}
	traceRingHead = (idx + 1) % TraceRingSize
	restoreInterrupts(s)
}

// TraceEvents returns the recorded events from oldest to newest
func TraceEvents() []TraceEvent {
	s := disableInterrupts()
	defer restoreInterrupts(s)

	out := make([]TraceEvent, 0, TraceRingSize)
	start := traceRingHead
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := traceRing[(start+i)%TraceRingSize]
		if evt.Kind == 0 {
			continue
		}
		out = append(out, evt)
	}
	return out
}

func traceName(kind uint8) string {
	switch kind {
	case TraceLaunch:
		return "LAUNCH"
	case TraceAck:
		return "ACK"
	case TraceNack:
		return "NACK"
	case TraceRx:
		return "RX"
	case TraceStop:
		return "STOP"
	case TraceReset:
		return "RESET"
	case TraceFault:
		return "FAULT!"
	case TraceSubmit:
		return "SUBMIT"
	default:
		return "UNKNOWN"
	}
}

// DumpTraceRing outputs the trace ring buffer (call on fault)
func DumpTraceRing() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[I2C] === Trace Ring Dump ===")
	for _, evt := range TraceEvents() {
		debugPrintln("[I2C] " + traceName(evt.Kind) +
			" bus=" + utoa(uint32(evt.Bus)) +
			" state=" + State(evt.State).String() +
			" clock=" + utoa(evt.Clock) +
			" v=" + hex32(evt.Value))
	}
	debugPrintln("[I2C] === End Dump ===")
}

// ClearTraceRing clears the trace buffer
func ClearTraceRing() {
	s := disableInterrupts()
	for i := range traceRing {
		traceRing[i] = TraceEvent{}
	}
	traceRingHead = 0
	restoreInterrupts(s)
}
