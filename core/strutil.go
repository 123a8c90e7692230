package core

// itoa converts an integer to a string without using fmt package
// This is a lightweight alternative for embedded systems
func itoa(n int) string {
	if n < 0 {
		return "-" + utoa(uint32(-n))
	}
	return utoa(uint32(n))
}

// utoa converts an unsigned integer to a string
func utoa(n uint32) string {
	if n == 0 {
		return "0"
	}

	var buf [10]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}

const hexDigits = "0123456789abcdef"

// hex32 formats v as 0x-prefixed lowercase hex with no leading zeros
func hex32(v uint32) string {
	if v == 0 {
		return "0x0"
	}
	var buf [10]byte
	pos := len(buf)
	for v > 0 {
		pos--
		buf[pos] = hexDigits[v&0xF]
		v >>= 4
	}
	pos--
	buf[pos] = 'x'
	pos--
	buf[pos] = '0'
	return string(buf[pos:])
}

// deci formats a fixed-point tenths value as "12.3"
func deci(v int32) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return sign + utoa(uint32(v/10)) + "." + utoa(uint32(v%10))
}
