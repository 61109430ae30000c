package core

// itoa converts an integer to a string without using fmt package
// This is a lightweight alternative for embedded systems
func itoa(n int) string {
	return i64toa(int64(n))
}

func i64toa(n int64) string {
	if n < 0 {
		// -n overflows for MinInt64, go through uint64
		return "-" + u64toa(uint64(-(n + 1))+1)
	}
	return u64toa(uint64(n))
}

// utoa converts an unsigned integer to a string
func utoa(n uint32) string {
	return u64toa(uint64(n))
}

func u64toa(n uint64) string {
	if n == 0 {
		return "0"
	}

	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}

const hexDigits = "0123456789ABCDEF"

// hex32 formats a register value as 0xXXXXXXXX
func hex32(v uint32) string {
	var buf [10]byte
	buf[0] = '0'
	buf[1] = 'x'
	for i := 9; i >= 2; i-- {
		buf[i] = hexDigits[v&0xF]
		v >>= 4
	}
	return string(buf[:])
}
