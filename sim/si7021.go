package sim

import (
	"errors"

	"geckosense/core"
)

var (
	ErrNoDevice   = errors.New("sim: no device at address")
	ErrBadCommand = errors.New("sim: unknown command")
)

// Si7021 is a humidity sensor model answering the measurement commands the
// firmware issues. It implements drivers.I2C for a bus holding only the sensor.
type Si7021 struct {
	// Humidity returns the next relative humidity in tenths of a percent.
	Humidity func() int32
	// Temperature returns the next temperature in tenths of a degree.
	Temperature func() int32

	last    []byte
	lastTmp uint16
	Reads   int
}

// NewSi7021 returns a sensor reporting fixed values.
func NewSi7021(deciRH, deciC int32) *Si7021 {
	return &Si7021{
		Humidity:    func() int32 { return deciRH },
		Temperature: func() int32 { return deciC },
	}
}

// RHCode is the inverse of core.Si7021DeciRH.
func RHCode(deciRH int32) uint16 {
	if deciRH < 0 {
		deciRH = 0
	}
	if deciRH > 1000 {
		deciRH = 1000
	}
	return uint16(ceilDiv(uint64(deciRH+60)<<16, 1250))
}

// TempCode is the inverse of core.Si7021DeciCelsius.
func TempCode(deciC int32) uint16 {
	v := int64(deciC)*10 + 4685
	if v < 0 {
		v = 0
	}
	c := ceilDiv(uint64(v)<<16, 17572)
	if c > 0xFFFF {
		c = 0xFFFF
	}
	return uint16(c)
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}

// Tx implements drivers.I2C.
func (s *Si7021) Tx(addr uint16, w, r []byte) error {
	if addr != core.Si7021Address {
		return ErrNoDevice
	}
	if len(w) > 0 {
		switch w[0] {
		case core.Si7021MeasureRHNoHold, 0xE5:
			code := RHCode(s.Humidity())
			s.lastTmp = TempCode(s.Temperature())
			s.last = []byte{byte(code >> 8), byte(code)}
		case core.Si7021MeasureTmpNoHold, 0xE3:
			code := TempCode(s.Temperature())
			s.lastTmp = code
			s.last = []byte{byte(code >> 8), byte(code)}
		case core.Si7021ReadTempFromRH:
			s.last = []byte{byte(s.lastTmp >> 8), byte(s.lastTmp)}
		default:
			return ErrBadCommand
		}
	}
	if len(r) > 0 {
		s.Reads++
		n := copy(r, s.last)
		for i := n; i < len(r); i++ {
			r[i] = 0xFF
		}
	}
	return nil
}
