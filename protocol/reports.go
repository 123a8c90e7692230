package protocol

import (
	"errors"

	"geckosense/core"
)

// ErrUnknownMessage is returned for a message ID this decoder does not know.
var ErrUnknownMessage = errors.New("protocol: unknown message id")

// FaultCode classifies a transaction failure on the wire.
type FaultCode uint8

const (
	FaultNone FaultCode = iota
	FaultViolation
	FaultRetryLimit
	FaultResetTimeout
	FaultLaunchTimeout
	FaultBusNotIdle
	FaultFlagsStuck
	FaultOther
)

var faultNames = [...]string{
	FaultNone:          "none",
	FaultViolation:     "protocol violation",
	FaultRetryLimit:    "nack retry limit",
	FaultResetTimeout:  "bus reset timeout",
	FaultLaunchTimeout: "launch timeout",
	FaultBusNotIdle:    "bus not idle",
	FaultFlagsStuck:    "flags stuck",
	FaultOther:         "other",
}

func (c FaultCode) String() string {
	if int(c) < len(faultNames) {
		return faultNames[c]
	}
	return "unknown"
}

// FaultCodeOf maps a bus error onto its wire code.
func FaultCodeOf(err error) FaultCode {
	switch {
	case err == nil:
		return FaultNone
	case errors.Is(err, core.ErrProtocolViolation):
		return FaultViolation
	case errors.Is(err, core.ErrRetryLimit):
		return FaultRetryLimit
	case errors.Is(err, core.ErrBusResetTimeout):
		return FaultResetTimeout
	case errors.Is(err, core.ErrLaunchTimeout):
		return FaultLaunchTimeout
	case errors.Is(err, core.ErrBusNotIdle):
		return FaultBusNotIdle
	case errors.Is(err, core.ErrFlagsStuck):
		return FaultFlagsStuck
	default:
		return FaultOther
	}
}

// Report is one decoded message.
type Report interface {
	ID() uint32
	Encode(output OutputBuffer)
}

// Identify announces the firmware after boot.
type Identify struct {
	Version string
}

func (Identify) ID() uint32 { return MsgIdentify }

func (m Identify) Encode(output OutputBuffer) {
	EncodeVLQUint(output, MsgIdentify)
	EncodeVLQString(output, m.Version)
}

// Humidity is a completed measurement.
type Humidity struct {
	Bus    uint8
	Clock  uint32 // scheduler ticks at completion
	Code   uint16 // raw sensor code
	DeciRH int32  // tenths of %RH
}

func (Humidity) ID() uint32 { return MsgHumidity }

func (m Humidity) Encode(output OutputBuffer) {
	EncodeVLQUint(output, MsgHumidity)
	EncodeVLQUint(output, uint32(m.Bus))
	EncodeVLQUint(output, m.Clock)
	EncodeVLQUint(output, uint32(m.Code))
	EncodeVLQInt(output, m.DeciRH)
}

// Fault is a measurement that did not produce data.
type Fault struct {
	Bus   uint8
	Clock uint32
	Code  FaultCode
	State uint8  // transaction state at the time of the fault
	Nacks uint32 // NACKs retried before the fault
}

func (Fault) ID() uint32 { return MsgFault }

func (m Fault) Encode(output OutputBuffer) {
	EncodeVLQUint(output, MsgFault)
	EncodeVLQUint(output, uint32(m.Bus))
	EncodeVLQUint(output, m.Clock)
	EncodeVLQUint(output, uint32(m.Code))
	EncodeVLQUint(output, uint32(m.State))
	EncodeVLQUint(output, m.Nacks)
}

// Trace is one entry of the firmware's trace ring, sent after a fault.
type Trace struct {
	Kind  uint8
	Bus   uint8
	State uint8
	Clock uint32
	Value uint32
}

func (Trace) ID() uint32 { return MsgTrace }

func (m Trace) Encode(output OutputBuffer) {
	EncodeVLQUint(output, MsgTrace)
	EncodeVLQUint(output, uint32(m.Kind))
	EncodeVLQUint(output, uint32(m.Bus))
	EncodeVLQUint(output, uint32(m.State))
	EncodeVLQUint(output, m.Clock)
	EncodeVLQUint(output, m.Value)
}

// DecodeReports decodes every message in a frame payload.
func DecodeReports(payload []byte, fn func(Report)) error {
	data := payload
	for len(data) > 0 {
		id, err := DecodeVLQUint(&data)
		if err != nil {
			return err
		}
		rep, err := decodeReport(id, &data)
		if err != nil {
			return err
		}
		fn(rep)
	}
	return nil
}

func decodeReport(id uint32, data *[]byte) (Report, error) {
	var vals [5]uint32
	fields := func(n int) error {
		for i := 0; i < n; i++ {
			v, err := DecodeVLQUint(data)
			if err != nil {
				return err
			}
			vals[i] = v
		}
		return nil
	}

	switch id {
	case MsgIdentify:
		s, err := DecodeVLQString(data)
		if err != nil {
			return nil, err
		}
		return Identify{Version: s}, nil
	case MsgHumidity:
		if err := fields(4); err != nil {
			return nil, err
		}
		return Humidity{Bus: uint8(vals[0]), Clock: vals[1], Code: uint16(vals[2]), DeciRH: int32(vals[3])}, nil
	case MsgFault:
		if err := fields(5); err != nil {
			return nil, err
		}
		return Fault{Bus: uint8(vals[0]), Clock: vals[1], Code: FaultCode(vals[2]), State: uint8(vals[3]), Nacks: vals[4]}, nil
	case MsgTrace:
		if err := fields(5); err != nil {
			return nil, err
		}
		return Trace{Kind: uint8(vals[0]), Bus: uint8(vals[1]), State: uint8(vals[2]), Clock: vals[3], Value: vals[4]}, nil
	default:
		return nil, ErrUnknownMessage
	}
}

// ReadingReport converts a finished measurement into its wire message. nacks
// is the bus NACK count at completion.
func ReadingReport(rd core.Reading, clock, nacks uint32) Report {
	if rd.Err == nil {
		return Humidity{Bus: uint8(rd.Bus), Clock: clock, Code: rd.Code, DeciRH: rd.DeciRH}
	}
	f := Fault{Bus: uint8(rd.Bus), Clock: clock, Code: FaultCodeOf(rd.Err), Nacks: nacks}
	var v *core.ViolationError
	if errors.As(rd.Err, &v) {
		f.State = uint8(v.State)
	}
	return f
}

// TraceReports converts trace ring entries, oldest first.
func TraceReports(events []core.TraceEvent) []Report {
	out := make([]Report, 0, len(events))
	for _, ev := range events {
		out = append(out, Trace{Kind: ev.Kind, Bus: ev.Bus, State: ev.State, Clock: ev.Clock, Value: ev.Value})
	}
	return out
}
